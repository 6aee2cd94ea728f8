// Package session is the administrative index of live transformation sets.
// It owns nothing: a Session is pure introspection metadata that the
// connection's owner registers at setup and removes at teardown.
//
// Lock ordering is fixed across the process: the sessions lock is acquired
// before the transformers lock, never the reverse.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/oilcrest/lbbs/internal/logging"
	"github.com/oilcrest/lbbs/internal/netconn"
	"github.com/oilcrest/lbbs/internal/node"
	"github.com/oilcrest/lbbs/internal/telemetry"
	"github.com/oilcrest/lbbs/internal/transform"
)

// OwnerKind tags what kind of entity owns a session's descriptor pair.
// Attach dispatches on it; adding a third owner kind means extending that
// dispatch.
type OwnerKind int

const (
	OwnerNode OwnerKind = iota
	OwnerTCPClient
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerNode:
		return "Node"
	case OwnerTCPClient:
		return "TCP Client"
	}
	return "unknown"
}

type Session struct {
	set   *transform.Set
	id    uint64
	start time.Time
	kind  OwnerKind
	owner any
}

func (s *Session) ID() uint64       { return s.id }
func (s *Session) Start() time.Time { return s.start }
func (s *Session) Kind() OwnerKind  { return s.kind }

// Info is one row of the session listing. Owner and set are rendered as
// addresses: the registry has no visibility into the traffic itself, so
// identity is the most context it can give.
type Info struct {
	ID      uint64
	Kind    string
	Elapsed time.Duration
	Owner   string
	Set     string
}

type Registry struct {
	treg *transform.Registry

	mu       sync.RWMutex
	lastID   uint64
	sessions []*Session
}

func NewRegistry(treg *transform.Registry) *Registry {
	return &Registry{treg: treg}
}

// Register indexes a transformation set. IDs are strictly increasing for the
// process lifetime and never reused. Registering the same set twice fails.
func (r *Registry) Register(set *transform.Set, kind OwnerKind, owner any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.set == set {
			logging.L().Warn("session already registered", "id", s.id)
			return fmt.Errorf("session %d: already registered", s.id)
		}
	}
	r.lastID++
	r.sessions = append(r.sessions, &Session{
		set:   set,
		id:    r.lastID,
		start: time.Now(),
		kind:  kind,
		owner: owner,
	})
	telemetry.ActiveSessions.Inc()
	return nil
}

// Unregister removes the first session tracking set.
func (r *Registry) Unregister(set *transform.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sessions {
		if s.set == set {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			telemetry.ActiveSessions.Dec()
			return nil
		}
	}
	logging.L().Warn("transformation set has no active session", "set", fmt.Sprintf("%p", set), "total", len(r.sessions))
	return fmt.Errorf("set %p: no active session", set)
}

// Snapshot lists all sessions in registration order.
func (r *Registry) Snapshot() []Info {
	now := time.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{
			ID:      s.id,
			Kind:    s.kind.String(),
			Elapsed: now.Sub(s.start).Truncate(time.Second),
			Owner:   fmt.Sprintf("%p", s.owner),
			Set:     fmt.Sprintf("%p", s.set),
		})
	}
	return out
}

// find returns the session with id. Caller must hold the sessions lock.
func (r *Registry) find(id uint64) *Session {
	for _, s := range r.sessions {
		if s.id == id {
			return s
		}
	}
	return nil
}

// ActiveTransformations lists the transformation names active on session id.
// Takes the sessions lock, then the transformers lock, in that order.
func (r *Registry) ActiveTransformations(id uint64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.find(id)
	if s == nil {
		return nil, fmt.Errorf("no such I/O session: %d", id)
	}
	return s.set.ActiveNames(), nil
}

// Attach adds a named transformation to a live session, dispatching on the
// owner kind to reach its descriptor pair.
//
// This is intended for non-handshake transformers such as a logging tap.
// Attaching TLS or compression outside of a protocol's own upgrade sequence
// (e.g. STARTTLS) will likely just corrupt the session; the core does not
// prevent that misuse.
func (r *Registry) Attach(id uint64, transformer string) error {
	if !r.treg.Available(transformer) {
		return fmt.Errorf("transformer %q: %w", transformer, transform.ErrUnknownTransformer)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.find(id)
	if s == nil {
		return fmt.Errorf("no such I/O session: %d", id)
	}
	kind, ok := r.treg.KindOf(transformer)
	if !ok {
		return fmt.Errorf("transformer %q: %w", transformer, transform.ErrUnknownTransformer)
	}

	switch s.kind {
	case OwnerNode:
		n := s.owner.(*node.Node)
		return s.set.Setup(kind, transform.Bidirectional, &n.FDs, nil)
	case OwnerTCPClient:
		c := s.owner.(*netconn.TCPClient)
		return s.set.Setup(kind, transform.Bidirectional, &c.FDs, nil)
	}
	return fmt.Errorf("session %d: unknown owner kind %d", id, int(s.kind))
}
