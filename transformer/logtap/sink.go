// Package logtap provides the logging-tap transformer: a pass-through layer
// that mirrors everything a connection sends and receives into a pluggable
// sink. Unlike encryption or compression it negotiates nothing, which makes
// it the one transformer safe to attach to a live session from the console.
package logtap

import "fmt"

// Direction labels for tapped chunks.
const (
	DirRX = "rx" // peer to connection
	DirTX = "tx" // connection to peer
)

// Sink receives tapped traffic. Write order follows relay order per
// direction; the two directions interleave arbitrarily.
type Sink interface {
	Configure(any) error // sink-specific config struct
	Tap(dir string, p []byte) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Sink

var reg = map[string]factory{}

func RegisterSink(name string, f factory) { reg[name] = f }

func NewSink(name string) (Sink, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown tap sink %q", name)
}
