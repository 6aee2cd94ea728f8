// Package tlsio provides the TLS encryption transformer. Setup wraps the
// connection's current descriptor pair in a crypto/tls stream and
// substitutes pipe ends serviced by two relay goroutines, so protocol code
// keeps exchanging plaintext over plain descriptors.
package tlsio

import (
	"crypto/tls"
	"fmt"
	"io"
	"sync"

	"github.com/oilcrest/lbbs/internal/logging"
	"github.com/oilcrest/lbbs/internal/module"
	"github.com/oilcrest/lbbs/internal/transform"
	"github.com/oilcrest/lbbs/transformer/fdconn"
)

// Name is the transformer's registry name.
const Name = "TLS"

// Query codes understood by the instance.
const (
	// QueryVersion fills *string with the negotiated protocol version.
	QueryVersion = iota + 1
	// QueryCipherSuite fills *string with the negotiated cipher suite.
	QueryCipherSuite
)

/* ────────── driver config ────────── */

type Config struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Client-side verification. ServerName may also arrive per-connection
	// as the Setup arg.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

type driver struct {
	cfg Config
}

// Register adds the TLS transformer to reg, owned by mod.
func Register(reg *transform.Registry, mod *module.Module, cfg Config) error {
	return reg.Register(Name, transform.KindEncryption, transform.Bidirectional, &driver{cfg: cfg}, mod)
}

/* ────────── setup ────────── */

// Setup performs the TLS handshake over the current descriptor pair, then
// replaces the pair with plaintext pipe ends. arg, when a non-empty string,
// selects client mode with that server name; otherwise the driver acts as
// the server side using its configured certificate.
func (d *driver) Setup(fds *transform.FDPair, dir transform.Direction, arg any) (transform.Instance, error) {
	raw := fdconn.New(fds.RFD, fds.WFD)

	var tconn *tls.Conn
	if host, ok := arg.(string); ok && host != "" {
		tconn = tls.Client(raw, &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: d.cfg.InsecureSkipVerify,
		})
	} else {
		cert, err := tls.LoadX509KeyPair(d.cfg.CertFile, d.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsio: load keypair: %w", err)
		}
		tconn = tls.Server(raw, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	if err := tconn.Handshake(); err != nil {
		return nil, fmt.Errorf("tlsio: handshake: %w", err)
	}

	// tconn wraps the connection's live descriptors; closing it here would
	// close them too. A failed setup must hand the pair back untouched, so
	// the TLS state is simply abandoned.
	pipes, err := fdconn.Substitute(fds)
	if err != nil {
		return nil, err
	}

	inst := &instance{conn: tconn, pipes: pipes}
	go inst.relayOut()
	go inst.relayIn()
	logging.L().Debug("tls transformation established", "version", tls.VersionName(tconn.ConnectionState().Version))
	return inst, nil
}

/* ────────── instance ────────── */

type instance struct {
	conn  *tls.Conn
	pipes *fdconn.Pipes
	once  sync.Once
}

// relayOut drains plaintext the connection writes and encrypts it.
func (in *instance) relayOut() {
	_, _ = io.Copy(in.conn, in.pipes.FromApp)
	_ = in.conn.CloseWrite()
}

// relayIn decrypts inbound records into the connection's read pipe.
func (in *instance) relayIn() {
	_, _ = io.Copy(in.pipes.ToApp, in.conn)
	_ = in.pipes.ToApp.Close()
}

func (in *instance) Query(code int, data any) error {
	switch code {
	case QueryVersion:
		s, ok := data.(*string)
		if !ok {
			return fmt.Errorf("tlsio: query %d: want *string, got %T", code, data)
		}
		*s = tls.VersionName(in.conn.ConnectionState().Version)
		return nil
	case QueryCipherSuite:
		s, ok := data.(*string)
		if !ok {
			return fmt.Errorf("tlsio: query %d: want *string, got %T", code, data)
		}
		*s = tls.CipherSuiteName(in.conn.ConnectionState().CipherSuite)
		return nil
	}
	return fmt.Errorf("tlsio: unknown query %d", code)
}

// Cleanup closes the TLS stream and the substituted pipes. The relay
// goroutines exit as their reads fail; descriptors already closed by the
// owner are tolerated.
func (in *instance) Cleanup() {
	in.once.Do(func() {
		_ = in.conn.Close()
		in.pipes.Close()
	})
}
