// Package node is the thin connection-owner consumed by the I/O core: a
// mutable descriptor pair that transformer setup may overwrite, plus the
// connection's transformation set. Menu, auth and terminal handling live
// elsewhere and only see descriptors.
package node

import (
	"fmt"
	"net"
	"os"

	"github.com/oilcrest/lbbs/internal/transform"
)

type Node struct {
	ID uint64

	// FDs is rewritten in place as transformations are stacked. Protocol
	// handlers must always read FDs.RFD / write FDs.WFD, never the socket.
	FDs        transform.FDPair
	Transforms *transform.Set

	conn net.Conn
	file *os.File // dup of the socket descriptor backing FDs
}

type filer interface {
	File() (*os.File, error)
}

// New wraps an accepted connection. The socket descriptor is duplicated so
// the node owns its lifetime independently of the net.Conn.
func New(id uint64, conn net.Conn, reg *transform.Registry) (*Node, error) {
	fc, ok := conn.(filer)
	if !ok {
		return nil, fmt.Errorf("node: connection %T exposes no descriptor", conn)
	}
	f, err := fc.File()
	if err != nil {
		return nil, fmt.Errorf("node: dup socket: %w", err)
	}
	fd := int(f.Fd())
	return &Node{
		ID:         id,
		FDs:        transform.FDPair{RFD: fd, WFD: fd},
		Transforms: transform.NewSet(reg),
		conn:       conn,
		file:       f,
	}, nil
}

// Close tears down the node's transformations and then the socket. Safe to
// call more than once.
func (n *Node) Close() {
	if n.Transforms != nil {
		n.Transforms.TeardownAll()
	}
	if n.file != nil {
		_ = n.file.Close()
		n.file = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}
