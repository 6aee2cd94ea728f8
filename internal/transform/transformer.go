package transform

import (
	"strings"
	"sync"

	"github.com/oilcrest/lbbs/internal/logging"
	"github.com/oilcrest/lbbs/internal/module"
)

// Kind classifies a transformer. At most one transformation of each kind may
// be active on a connection.
type Kind int

const (
	KindEncryption Kind = iota
	KindCompression
	KindLogging
)

func (k Kind) String() string {
	switch k {
	case KindEncryption:
		return "encryption"
	case KindCompression:
		return "compression"
	case KindLogging:
		return "logging"
	}
	return "unknown"
}

// Direction is the traffic direction(s) a transformer can service.
type Direction uint8

const (
	ClientToServer Direction = 1 << iota
	ServerToClient

	Bidirectional = ClientToServer | ServerToClient
)

// FDPair is a connection's mutable read/write descriptor pair. The two
// descriptors may be the same (a socket) or distinct (pipe ends). Driver
// Setup may replace both in place.
type FDPair struct {
	RFD int
	WFD int
}

// Instance is the opaque per-connection state a driver hands back from Setup.
type Instance interface {
	// Cleanup releases the instance. It must be safe to call even if the
	// underlying descriptors have already been closed.
	Cleanup()
}

// Querier is optionally implemented by instances that expose runtime
// details (e.g. the negotiated TLS version).
type Querier interface {
	Query(code int, data any) error
}

// Driver sets up one transformation on a descriptor pair. Setup may rewrite
// the pair in place, typically substituting pipe ends serviced by a relay
// goroutine, and returns the instance state that Cleanup later releases.
type Driver interface {
	Setup(fds *FDPair, dir Direction, arg any) (Instance, error)
}

// Transformer is an immutable registry entry describing one registered
// driver.
type Transformer struct {
	name   string
	kind   Kind
	dir    Direction
	driver Driver
	owner  *module.Module
}

func (t *Transformer) Name() string { return t.name }
func (t *Transformer) Kind() Kind   { return t.kind }

// Registry is the catalog of registered transformers. Mutation takes the
// writer lock, queries the reader lock. It is typically process-wide,
// created at startup and drained at shutdown, but is an ordinary value so
// tests can build isolated ones.
type Registry struct {
	mu           sync.RWMutex
	transformers []*Transformer
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds a named driver. Names are unique case-insensitively;
// registration order is preserved and decides lookup priority.
func (r *Registry) Register(name string, kind Kind, dir Direction, drv Driver, owner *module.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transformers {
		if strings.EqualFold(t.name, name) {
			logging.L().Error("transformer already registered", "name", name)
			return ErrDuplicateName
		}
	}
	r.transformers = append(r.transformers, &Transformer{
		name:   name,
		kind:   kind,
		dir:    dir,
		driver: drv,
		owner:  owner,
	})
	return nil
}

// Unregister removes the first case-insensitive match.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.transformers {
		if strings.EqualFold(t.name, name) {
			r.transformers = append(r.transformers[:i], r.transformers[i+1:]...)
			return nil
		}
	}
	return ErrUnknownTransformer
}

// Available reports whether a transformer with this name exists. Names
// match case-insensitively everywhere, lookup included.
func (r *Registry) Available(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transformers {
		if strings.EqualFold(t.name, name) {
			return true
		}
	}
	logging.L().Debug("no such transformer", "name", name)
	return false
}

// KindAvailable reports whether any transformer of the kind is registered.
// Callers probing before Setup must still tolerate ErrNoTransformer: the
// answer can go stale against concurrent (un)registration.
func (r *Registry) KindAvailable(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transformers {
		if t.kind == kind {
			return true
		}
	}
	logging.L().Debug("no transformer of kind", "kind", kind.String())
	return false
}

// KindOf resolves a transformer name to its kind.
func (r *Registry) KindOf(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transformers {
		if strings.EqualFold(t.name, name) {
			return t.kind, true
		}
	}
	return 0, false
}

// Names returns the registered transformer names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transformers))
	for _, t := range r.transformers {
		out = append(out, t.name)
	}
	return out
}

// find locates a transformer for kind whose direction mask intersects dir.
// Caller must hold at least the reader lock.
func (r *Registry) find(kind Kind, dir Direction) *Transformer {
	for _, t := range r.transformers {
		if t.dir&dir == 0 {
			continue
		}
		if t.kind == kind {
			return t
		}
	}
	return nil
}
