// Package zdeflate provides the DEFLATE compression transformer, as
// negotiated by e.g. IMAP COMPRESS. Must be stacked above encryption: once
// compression runs on a descriptor pair, nothing can be inserted beneath it.
package zdeflate

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"

	"github.com/oilcrest/lbbs/internal/module"
	"github.com/oilcrest/lbbs/internal/transform"
	"github.com/oilcrest/lbbs/transformer/fdconn"
)

const Name = "DEFLATE"

type Config struct {
	Level int `yaml:"level"` // flate.DefaultCompression when 0
}

type driver struct {
	cfg Config
}

func Register(reg *transform.Registry, mod *module.Module, cfg Config) error {
	if cfg.Level == 0 {
		cfg.Level = flate.DefaultCompression
	}
	return reg.Register(Name, transform.KindCompression, transform.Bidirectional, &driver{cfg: cfg}, mod)
}

func (d *driver) Setup(fds *transform.FDPair, dir transform.Direction, arg any) (transform.Instance, error) {
	raw := fdconn.New(fds.RFD, fds.WFD)

	// The flate streams hold no descriptors and nothing is written before
	// the first relayed chunk, so any failure here leaves the pair live
	// and untouched.
	fw, err := flate.NewWriter(raw, d.cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("zdeflate: %w", err)
	}
	fr := flate.NewReader(raw)

	pipes, err := fdconn.Substitute(fds)
	if err != nil {
		return nil, err
	}

	inst := &instance{raw: raw, fw: fw, fr: fr, pipes: pipes}
	go inst.relayOut()
	go inst.relayIn()
	return inst, nil
}

type instance struct {
	raw   *fdconn.Conn
	fw    *flate.Writer
	fr    io.ReadCloser
	pipes *fdconn.Pipes
	once  sync.Once
}

// relayOut compresses outbound payload. Each chunk is flushed so
// interactive lines are not stuck in the compressor window.
func (in *instance) relayOut() {
	buf := make([]byte, 4096)
	for {
		n, err := in.pipes.FromApp.Read(buf)
		if n > 0 {
			if _, werr := in.fw.Write(buf[:n]); werr != nil {
				return
			}
			if werr := in.fw.Flush(); werr != nil {
				return
			}
		}
		if err != nil {
			_ = in.fw.Close()
			return
		}
	}
}

// relayIn decompresses inbound payload into the connection's read pipe.
func (in *instance) relayIn() {
	_, _ = io.Copy(in.pipes.ToApp, in.fr)
	_ = in.pipes.ToApp.Close()
}

// No Querier: a query against DEFLATE reports supported with no extra data.

// Cleanup retires the pipes and the underlying pair; the relay goroutines
// exit as their reads fail. The flate reader is left to them: it is not
// safe to close while relayIn may still be mid-read.
func (in *instance) Cleanup() {
	in.once.Do(func() {
		in.pipes.Close()
		_ = in.raw.Close()
	})
}
