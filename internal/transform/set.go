package transform

import (
	"fmt"

	"github.com/oilcrest/lbbs/internal/logging"
	"github.com/oilcrest/lbbs/internal/telemetry"
)

// MaxTransforms is the fixed per-connection transformation capacity.
const MaxTransforms = 4

type activeTransformation struct {
	transformer *Transformer
	inst        Instance
}

// Set is the collection of transformations active on one connection. Every
// element of active is fully populated; there is no half-built entry.
//
// A Set is mutated (Setup/TeardownAll) by exactly one goroutine, the
// connection's own worker. It carries no lock of its own: concurrent
// diagnostic reads from other goroutines go through the registry's reader
// lock, and module refcounts keep drivers loaded while instances live.
type Set struct {
	reg    *Registry
	active []activeTransformation
}

func NewSet(reg *Registry) *Set {
	return &Set{reg: reg, active: make([]activeTransformation, 0, MaxTransforms)}
}

// Registry returns the registry this set resolves transformers against.
func (s *Set) Registry() *Registry { return s.reg }

func (s *Set) activeLocked(kind Kind) bool {
	for _, a := range s.active {
		if a.transformer.kind == kind {
			return true
		}
	}
	return false
}

// Active reports whether a transformation of kind is currently installed.
func (s *Set) Active(kind Kind) bool {
	s.reg.mu.RLock()
	defer s.reg.mu.RUnlock()
	return s.activeLocked(kind)
}

func (s *Set) possible(kind Kind, warn bool) error {
	if s.Active(kind) {
		if warn {
			logging.L().Error("transformation already active, declining duplicate", "kind", kind.String())
		}
		return ErrKindActive
	}
	// Ordering constraint: transformations stack in installation order and
	// nothing can be inserted beneath an existing layer, so encryption is
	// too late once compression is running on the pair.
	if kind == KindEncryption && s.Active(KindCompression) {
		if warn {
			logging.L().Warn("cannot enable encryption after compression; enable encryption first")
		}
		return ErrOrdering
	}
	return nil
}

// Possible is the silent, non-destructive eligibility check used for
// proactive capability probes (e.g. advertising STARTTLS).
func (s *Set) Possible(kind Kind) bool {
	return s.possible(kind, false) == nil
}

// Setup resolves a registered transformer for kind/dir, runs its driver
// against the connection's descriptor pair and records the instance.
// The driver may rewrite fds in place. arg is driver-specific.
func (s *Set) Setup(kind Kind, dir Direction, fds *FDPair, arg any) error {
	if err := s.possible(kind, true); err != nil {
		telemetry.TransformSetups.WithLabelValues(kind.String(), "rejected").Inc()
		return err
	}

	s.reg.mu.RLock()
	defer s.reg.mu.RUnlock()

	if len(s.active) >= MaxTransforms {
		logging.L().Error("already at max transformations", "max", MaxTransforms)
		telemetry.TransformSetups.WithLabelValues(kind.String(), "rejected").Inc()
		return ErrSetFull
	}
	t := s.reg.find(kind, dir)
	if t == nil {
		// KindAvailable should have been consulted first. That check is
		// TOCTOU against unregistration, so this is a warning, not a bug.
		logging.L().Warn("no suitable transformer found", "kind", kind.String())
		telemetry.TransformSetups.WithLabelValues(kind.String(), "rejected").Inc()
		return ErrNoTransformer
	}

	inst, err := t.driver.Setup(fds, dir, arg)
	if err != nil {
		telemetry.TransformSetups.WithLabelValues(kind.String(), "error").Inc()
		return fmt.Errorf("transformer %s: %w", t.name, err)
	}

	// Shouldn't trip, since only one goroutine handles a connection's I/O
	// at a time, but never leave a half-applied instance behind.
	if len(s.active) >= MaxTransforms {
		logging.L().Error("failed to store transformation", "name", t.name)
		inst.Cleanup()
		telemetry.TransformSetups.WithLabelValues(kind.String(), "error").Inc()
		return ErrSetFull
	}
	s.active = append(s.active, activeTransformation{transformer: t, inst: inst})
	t.owner.Ref()
	logging.L().Debug("set up I/O transformer", "name", t.name, "index", len(s.active)-1)
	telemetry.TransformSetups.WithLabelValues(kind.String(), "ok").Inc()
	return nil
}

// Query forwards a driver-specific query to the active transformation of
// kind. A transformer without query support reports success with no data.
func (s *Set) Query(kind Kind, code int, data any) error {
	s.reg.mu.RLock()
	defer s.reg.mu.RUnlock()
	for _, a := range s.active {
		if a.transformer.kind != kind {
			continue
		}
		if q, ok := a.inst.(Querier); ok {
			return q.Query(code, data)
		}
		return nil
	}
	return ErrNotActive
}

// TeardownAll cleans up every active transformation in installation order
// and releases the owning modules. Idempotent; safe after the underlying
// descriptors are closed.
func (s *Set) TeardownAll() {
	s.reg.mu.RLock()
	defer s.reg.mu.RUnlock()
	for i, a := range s.active {
		logging.L().Debug("removing I/O transformer", "index", i, "name", a.transformer.name)
		a.inst.Cleanup()
		a.transformer.owner.Unref()
		telemetry.TransformTeardowns.Inc()
	}
	s.active = s.active[:0]
}

// ActiveNames cross-references the set's transformations against the
// registry entries, for per-session introspection.
func (s *Set) ActiveNames() []string {
	s.reg.mu.RLock()
	defer s.reg.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a.transformer.name)
	}
	return out
}
