// Package readline is the incremental delimited/boundary reader used by
// every line-oriented protocol in the BBS. One Reader owns one descriptor's
// parse state: it buffers whatever a read returns, hands back one segment at
// a time and keeps the rest as leftover for the next call.
//
// A Reader is single-owner by contract and carries no locking. The only
// blocking point is the readiness wait, bounded by the caller's timeout.
package readline

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrTimeout covers both an expired wait and an orderly peer close.
	// Callers may treat it as an idle timeout and retry; any other error
	// is a hard I/O failure and the connection should be dropped.
	ErrTimeout = errors.New("readline: timed out or peer closed")

	// ErrBufferFull: the buffer filled without the delimiter appearing.
	ErrBufferFull = errors.New("readline: buffer full without delimiter")

	// ErrOverflow: a boundary scan exceeded its maximum length. The data
	// is not silently truncated.
	ErrOverflow = errors.New("readline: boundary scan exceeded maximum length")
)

// Reader is reusable per-descriptor cursor state over a caller-owned buffer.
// The buffer should be large enough for the largest single expected input.
type Reader struct {
	buf      []byte
	used     int // bytes currently buffered
	consumed int // prefix already handed to the caller, reclaimed next call
	boundary *Matcher
	waiting  bool
}

// New initializes a Reader over buf. The Reader is mutated by every call
// and never independently destroyed; reuse it for the descriptor's lifetime.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Buffered returns the number of unconsumed leftover bytes.
func (r *Reader) Buffered() int { return r.used - r.consumed }

// Waiting reports whether the owner is currently blocked in a readiness
// wait. Diagnostic only; meaningful when sampled from another goroutine
// merely as a hint.
func (r *Reader) Waiting() bool { return r.waiting }

// shift reclaims the segment handed out by the previous call. Deferred to
// the next call so the caller can use the buffer contents in between.
func (r *Reader) shift() {
	if r.consumed > 0 {
		copy(r.buf, r.buf[r.consumed:r.used])
		r.used -= r.consumed
		r.consumed = 0
	}
}

// ReadLine reads up to the delimiter, satisfying the request from leftover
// bytes before touching the descriptor. The returned count is the segment
// length before the delimiter; 0 means delimiter-only input. The segment is
// NUL-terminated in the caller's buffer; bytes after the delimiter stay
// buffered for the next call.
//
// timeout bounds each readiness wait: 0 performs a single non-blocking
// check, negative blocks until data or error.
func (r *Reader) ReadLine(fd int, delim string, timeout time.Duration) (int, error) {
	if delim == "" {
		return 0, errors.New("readline: empty delimiter")
	}
	r.shift()
	d := []byte(delim)
	for {
		if i := bytes.Index(r.buf[:r.used], d); i >= 0 {
			r.buf[i] = 0
			r.consumed = i + len(d)
			return i, nil
		}
		if r.used == len(r.buf) {
			return 0, ErrBufferFull
		}
		if _, err := r.fill(fd, timeout); err != nil {
			return 0, err
		}
	}
}

// GetN transfers exactly n bytes from fd to destfd, leftover first. Binary
// safe: nothing is appended or terminated. timeout applies to each wait,
// not the transfer overall.
func (r *Reader) GetN(fd, destfd int, timeout time.Duration, n int) (int, error) {
	r.shift()
	written := 0
	for written < n {
		if r.used == 0 {
			if _, err := r.fill(fd, timeout); err != nil {
				return written, err
			}
		}
		chunk := r.used
		if rem := n - written; chunk > rem {
			chunk = rem
		}
		if err := writeAll(destfd, r.buf[:chunk]); err != nil {
			return written, err
		}
		copy(r.buf, r.buf[chunk:r.used])
		r.used -= chunk
		written += chunk
	}
	return written, nil
}

// SetBoundary configures the token ReadUntil scans for. Call once, or again
// whenever the boundary changes; changing it drops partial-match state.
func (r *Reader) SetBoundary(separator string) {
	r.boundary = NewMatcher(separator)
}

// ReadUntil reads until the configured boundary appears anywhere in the
// stream, appending the preceding bytes to out. The boundary may arrive
// split across reads. Bytes past the boundary stay buffered. maxlen bounds
// the accumulated length; exceeding it is a failure, not a truncation.
func (r *Reader) ReadUntil(fd int, out *bytes.Buffer, timeout time.Duration, maxlen int) error {
	if r.boundary == nil {
		return errors.New("readline: no boundary configured")
	}
	r.shift()
	for {
		if r.used > 0 {
			consumed, found := r.boundary.Scan(r.buf[:r.used], out)
			copy(r.buf, r.buf[consumed:r.used])
			r.used -= consumed
			if found {
				return nil
			}
		}
		if maxlen > 0 && out.Len()+r.boundary.Pos() > maxlen {
			r.boundary.Reset()
			return ErrOverflow
		}
		if _, err := r.fill(fd, timeout); err != nil {
			if !errors.Is(err, ErrTimeout) {
				// No resumption semantics for an aborted partial match.
				r.boundary.Reset()
			}
			return err
		}
	}
}

// Append accepts bytes that were already read by other means (e.g. a
// transport that receives out of band) and applies the usual delimiter
// semantics. It returns how many bytes fit and whether a complete segment
// is now ready for ReadLine to return without touching the descriptor.
func (r *Reader) Append(data []byte, delim string) (int, bool) {
	r.shift()
	n := copy(r.buf[r.used:], data)
	r.used += n
	ready := bytes.Contains(r.buf[:r.used], []byte(delim))
	return n, ready
}

// fill waits for readiness and performs one read into the spare buffer
// space. Interrupted waits and reads are retried internally and never
// surfaced.
func (r *Reader) fill(fd int, timeout time.Duration) (int, error) {
	r.waiting = true
	defer func() { r.waiting = false }()

	ready, err := waitReadable(fd, timeout)
	if err != nil {
		return 0, err
	}
	if !ready {
		return 0, ErrTimeout
	}
	for {
		n, err := unix.Read(fd, r.buf[r.used:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("readline: read: %w", err)
		}
		if n == 0 {
			return 0, ErrTimeout
		}
		r.used += n
		return n, nil
	}
}

// waitReadable polls fd for input. timeout 0 is a single non-blocking
// check; negative waits indefinitely. EINTR restarts the wait.
func waitReadable(fd int, timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	for {
		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("readline: poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		if pfds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("readline: poll: revents 0x%x", pfds[0].Revents)
		}
		// POLLHUP with buffered data still reads; without, the read
		// reports the close.
		return true, nil
	}
}

func writeAll(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("readline: write: %w", err)
		}
		p = p[n:]
	}
	return nil
}
