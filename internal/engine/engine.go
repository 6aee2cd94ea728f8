package engine

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/oilcrest/lbbs/internal/config"
	"github.com/oilcrest/lbbs/internal/console"
	"github.com/oilcrest/lbbs/internal/logging"
	"github.com/oilcrest/lbbs/internal/node"
	"github.com/oilcrest/lbbs/internal/readline"
	"github.com/oilcrest/lbbs/internal/session"
	"github.com/oilcrest/lbbs/internal/telemetry"
	"github.com/oilcrest/lbbs/internal/transform"
)

type Engine struct {
	cfg     config.Config
	console *console.Server
	ln      net.Listener
	treg    *transform.Registry
	sreg    *session.Registry

	nextNode atomic.Uint64
}

func (e *Engine) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.console.Stop()
		_ = e.ln.Close()
	}()

	go func() {
		if err := e.console.Serve(ctx); err != nil {
			logging.L().Error("console", "err", err)
		}
	}()

	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go e.serveNode(conn)
	}
}

// serveNode runs one connection's worker: the single goroutine allowed to
// mutate the node's transformation set. Real protocol handlers take over
// here; the built-in loop accepts the in-band upgrade commands and echoes
// everything else.
func (e *Engine) serveNode(conn net.Conn) {
	n, err := node.New(e.nextNode.Add(1), conn, e.treg)
	if err != nil {
		logging.L().Warn("node setup", "err", err)
		_ = conn.Close()
		return
	}
	defer n.Close()

	if err := e.sreg.Register(n.Transforms, session.OwnerNode, n); err != nil {
		logging.L().Warn("session register", "err", err)
		return
	}
	defer func() {
		if err := e.sreg.Unregister(n.Transforms); err != nil {
			logging.L().Warn("session unregister", "err", err)
		}
	}()

	buf := make([]byte, 4096)
	rl := readline.New(buf)
	for {
		cnt, err := rl.ReadLine(n.FDs.RFD, "\r\n", e.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, readline.ErrTimeout) {
				telemetry.ReadTimeouts.Inc()
				logging.L().Debug("node idle or closed", "node", n.ID)
			} else {
				logging.L().Warn("node read", "node", n.ID, "err", err)
			}
			return
		}
		line := string(buf[:cnt])
		switch line {
		case "STARTTLS":
			e.upgrade(n, transform.KindEncryption)
		case "COMPRESS":
			e.upgrade(n, transform.KindCompression)
		default:
			if werr := writeAll(n.FDs.WFD, append([]byte(line), '\r', '\n')); werr != nil {
				logging.L().Warn("node write", "node", n.ID, "err", werr)
				return
			}
		}
	}
}

// upgrade performs a protocol-negotiated transformation on the node's own
// worker goroutine. The positive reply goes out on the old layer; the
// transformation applies to everything after it.
func (e *Engine) upgrade(n *node.Node, kind transform.Kind) {
	if !n.Transforms.Possible(kind) || !e.treg.KindAvailable(kind) {
		_ = writeAll(n.FDs.WFD, []byte("NO\r\n"))
		return
	}
	if err := writeAll(n.FDs.WFD, []byte("OK\r\n")); err != nil {
		return
	}
	if err := n.Transforms.Setup(kind, transform.Bidirectional, &n.FDs, nil); err != nil {
		logging.L().Warn("upgrade failed", "node", n.ID, "kind", kind.String(), "err", err)
	}
}

func writeAll(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
