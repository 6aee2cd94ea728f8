// Package fdconn adapts a raw descriptor pair to net.Conn so stream-wrapping
// libraries (crypto/tls, flate) can run over whatever the connection
// currently reads and writes, and provides the pipe substitution every
// transformer driver performs on setup.
package fdconn

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oilcrest/lbbs/internal/transform"
)

// Conn reads from one descriptor and writes to another. The two may be the
// same socket. Deadlines are not supported; relay lifetime is bounded by
// closing the descriptors instead.
type Conn struct {
	rfd, wfd int
	closed   atomic.Bool
}

func New(rfd, wfd int) *Conn {
	return &Conn{rfd: rfd, wfd: wfd}
}

func (c *Conn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.rfd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, &net.OpError{Op: "read", Net: "fd", Err: err}
		}
		if n == 0 {
			return 0, os.ErrClosed
		}
		return n, nil
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := unix.Write(c.wfd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, &net.OpError{Op: "write", Net: "fd", Err: err}
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(c.rfd)
	if c.wfd != c.rfd {
		if e := unix.Close(c.wfd); err == nil {
			err = e
		}
	}
	return err
}

type addr struct{}

func (addr) Network() string { return "fd" }
func (addr) String() string  { return "fd" }

func (c *Conn) LocalAddr() net.Addr  { return addr{} }
func (c *Conn) RemoteAddr() net.Addr { return addr{} }

func (c *Conn) SetDeadline(time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

// Pipes is the result of substituting a connection's descriptor pair with
// pipe ends serviced by a relay. The connection ends (what fds now point
// at) are owned here too, so cleanup retires the whole plumbing.
type Pipes struct {
	appR *os.File // connection reads this end
	appW *os.File // connection writes this end

	ToApp   *os.File // relay writes inbound payload here
	FromApp *os.File // relay reads outbound payload here
}

// Substitute rewrites fds in place to fresh pipe ends and returns the
// relay-side handles.
func Substitute(fds *transform.FDPair) (*Pipes, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = inR.Close()
		_ = inW.Close()
		return nil, err
	}
	fds.RFD = int(inR.Fd())
	fds.WFD = int(outW.Fd())
	return &Pipes{appR: inR, appW: outW, ToApp: inW, FromApp: outR}, nil
}

// Close retires all four pipe ends. Idempotent; double close of an already
// retired descriptor is ignored.
func (p *Pipes) Close() {
	for _, f := range []*os.File{p.FromApp, p.ToApp, p.appR, p.appW} {
		if f != nil {
			_ = f.Close()
		}
	}
}
