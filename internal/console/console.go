// Package console is the sysop command surface: a line-oriented listener on
// a unix socket that translates core failures into operator text and
// performs no recovery of its own. Commands are read with the same
// delimited reader the protocol stack uses.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oilcrest/lbbs/internal/logging"
	"github.com/oilcrest/lbbs/internal/readline"
	"github.com/oilcrest/lbbs/internal/session"
	"github.com/oilcrest/lbbs/internal/transform"
)

type Server struct {
	ln   net.Listener
	treg *transform.Registry
	sreg *session.Registry
}

func Listen(path string, treg *transform.Registry, sreg *session.Registry) (*Server, error) {
	// A stale socket from an unclean shutdown blocks the bind.
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	return &Server{ln: ln, treg: treg, sreg: sreg}, nil
}

func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) Stop() { _ = s.ln.Close() }

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	f, err := uc.File()
	if err != nil {
		logging.L().Warn("console: dup connection", "err", err)
		return
	}
	defer f.Close()
	fd := int(f.Fd())

	buf := make([]byte, 1024)
	rl := readline.New(buf)
	fmt.Fprintf(conn, "lbbs console ready\n")
	for {
		n, err := rl.ReadLine(fd, "\n", -1)
		if err != nil {
			if !errors.Is(err, readline.ErrTimeout) {
				logging.L().Warn("console: read", "err", err)
			}
			return
		}
		line := strings.TrimRight(string(buf[:n]), "\r")
		if s.Dispatch(line, conn) {
			return
		}
	}
}

// Dispatch runs one console command, writing operator-facing output to w.
// It reports whether the session should end.
func (s *Server) Dispatch(line string, w io.Writer) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "help":
		fmt.Fprint(w, "commands: transformers | sessions | session <id> | attach <id> <transformer> | quit\n")
	case "transformers":
		for _, name := range s.treg.Names() {
			fmt.Fprintf(w, "%s\n", name)
		}
	case "sessions":
		s.listSessions(w)
	case "session":
		if len(args) != 2 {
			fmt.Fprint(w, "usage: session <id>\n")
			return false
		}
		s.showSession(w, args[1])
	case "attach":
		if len(args) != 3 {
			fmt.Fprint(w, "usage: attach <id> <transformer>\n")
			return false
		}
		s.attach(w, args[1], args[2])
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(w, "unknown command: %s\n", args[0])
	}
	return false
}

// The registry has very limited visibility into a session: traffic does not
// flow through it, so beyond adding or removing a transformation all it can
// show is identity and age. Addresses add what context they can.
func (s *Server) listSessions(w io.Writer) {
	infos := s.sreg.Snapshot()
	fmt.Fprintf(w, "%9s %-10s %12s %-16s %s\n", "ID", "Type", "Elapsed", "Owner", "Trans I/O")
	for _, i := range infos {
		fmt.Fprintf(w, "%9d %-10s %12s %-16s %s\n", i.ID, i.Kind, i.Elapsed, i.Owner, i.Set)
	}
	plural := "s"
	if len(infos) == 1 {
		plural = ""
	}
	fmt.Fprintf(w, "%d active I/O session%s\n", len(infos), plural)
}

func (s *Server) showSession(w io.Writer, idArg string) {
	id, err := strconv.ParseUint(idArg, 10, 64)
	if err != nil {
		fmt.Fprintf(w, "No such I/O session: %s\n", idArg)
		return
	}
	names, err := s.sreg.ActiveTransformations(id)
	if err != nil {
		fmt.Fprintf(w, "No such I/O session: %s\n", idArg)
		return
	}
	fmt.Fprint(w, "Active Transformations:\n")
	for _, name := range names {
		fmt.Fprintf(w, "%s\n", name)
	}
	fmt.Fprintf(w, "# Active Transformations: %d\n", len(names))
}

// attach is only intended for non-handshake transformers such as the
// logging tap. Attaching TLS or compression outside a protocol's own
// upgrade sequence (e.g. STARTTLS) will likely corrupt the session.
func (s *Server) attach(w io.Writer, idArg, transformer string) {
	id, err := strconv.ParseUint(idArg, 10, 64)
	if err != nil {
		fmt.Fprintf(w, "No such I/O session: %s\n", idArg)
		return
	}
	if !s.treg.Available(transformer) {
		fmt.Fprintf(w, "Transformer '%s' not available\n", transformer)
		return
	}
	start := time.Now()
	if err := s.sreg.Attach(id, transformer); err != nil {
		fmt.Fprintf(w, "Failed to enable transformation %s: %v\n", transformer, err)
		return
	}
	fmt.Fprintf(w, "Enabled transformation %s (%s)\n", transformer, time.Since(start).Truncate(time.Millisecond))
}
