// Package netconn provides the outbound TCP-client collaborator. Like a
// node, a client owns a mutable descriptor pair and a transformation set so
// protocols it speaks (e.g. fetching mail over TLS) can stack the same
// transformations as inbound connections.
package netconn

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/oilcrest/lbbs/internal/transform"
)

type TCPClient struct {
	Addr string

	FDs        transform.FDPair
	Transforms *transform.Set

	conn net.Conn
	file *os.File
}

func Dial(addr string, timeout time.Duration, reg *transform.Registry) (*TCPClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("netconn: unexpected connection type %T", conn)
	}
	f, err := tc.File()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("netconn: dup socket: %w", err)
	}
	fd := int(f.Fd())
	return &TCPClient{
		Addr:       addr,
		FDs:        transform.FDPair{RFD: fd, WFD: fd},
		Transforms: transform.NewSet(reg),
		conn:       conn,
		file:       f,
	}, nil
}

func (c *TCPClient) Close() {
	if c.Transforms != nil {
		c.Transforms.TeardownAll()
	}
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
