package logtap

import (
	"fmt"
	"sync"

	"github.com/oilcrest/lbbs/internal/module"
	"github.com/oilcrest/lbbs/internal/transform"
	"github.com/oilcrest/lbbs/transformer/fdconn"
)

const Name = "LOG"

type Config struct {
	Sink  string // "file" or "kafka"
	File  FileConfig
	Kafka KafkaConfig
}

type driver struct {
	cfg Config
}

func Register(reg *transform.Registry, mod *module.Module, cfg Config) error {
	if cfg.Sink == "" {
		cfg.Sink = "file"
	}
	return reg.Register(Name, transform.KindLogging, transform.Bidirectional, &driver{cfg: cfg}, mod)
}

// Setup splices a tee into the descriptor pair. arg, when a non-empty
// string, overrides the file sink's label (typically the session or node
// identifier).
func (d *driver) Setup(fds *transform.FDPair, dir transform.Direction, arg any) (transform.Instance, error) {
	s, err := NewSink(d.cfg.Sink)
	if err != nil {
		return nil, err
	}
	switch d.cfg.Sink {
	case "file":
		fc := d.cfg.File
		if label, ok := arg.(string); ok && label != "" {
			fc.Label = label
		}
		err = s.Configure(fc)
	case "kafka":
		err = s.Configure(d.cfg.Kafka)
	default:
		err = fmt.Errorf("logtap: no config block for sink %q", d.cfg.Sink)
	}
	if err != nil {
		return nil, err
	}

	raw := fdconn.New(fds.RFD, fds.WFD)
	pipes, err := fdconn.Substitute(fds)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	inst := &instance{raw: raw, pipes: pipes, sink: s}
	go inst.relay(DirTX)
	go inst.relay(DirRX)
	return inst, nil
}

type instance struct {
	raw   *fdconn.Conn
	pipes *fdconn.Pipes
	sink  Sink
	once  sync.Once
}

// relay passes one direction through unchanged, mirroring each chunk into
// the sink. Tap failures never break the session; the tap just goes dark.
func (in *instance) relay(dir string) {
	buf := make([]byte, 4096)
	for {
		var n int
		var err error
		if dir == DirTX {
			n, err = in.pipes.FromApp.Read(buf)
		} else {
			n, err = in.raw.Read(buf)
		}
		if n > 0 {
			_ = in.sink.Tap(dir, buf[:n])
			var werr error
			if dir == DirTX {
				_, werr = in.raw.Write(buf[:n])
			} else {
				_, werr = in.pipes.ToApp.Write(buf[:n])
			}
			if werr != nil {
				return
			}
		}
		if err != nil {
			if dir == DirRX {
				_ = in.pipes.ToApp.Close()
			}
			return
		}
	}
}

func (in *instance) Cleanup() {
	in.once.Do(func() {
		in.pipes.Close()
		_ = in.raw.Close()
		_ = in.sink.Close()
	})
}
