// Package module carries the liveness contract between transformer-providing
// modules and the I/O core: a module may not be unloaded while any of its
// transformations is still instantiated on a live connection.
package module

import "sync/atomic"

type Module struct {
	name string
	refs atomic.Int64
}

func New(name string) *Module {
	return &Module{name: name}
}

func (m *Module) Name() string { return m.name }

// Ref marks one live instance owned by this module. A nil module is legal
// (core-built transformers have no unload semantics).
func (m *Module) Ref() {
	if m != nil {
		m.refs.Add(1)
	}
}

func (m *Module) Unref() {
	if m != nil {
		m.refs.Add(-1)
	}
}

func (m *Module) Refs() int64 {
	if m == nil {
		return 0
	}
	return m.refs.Load()
}

// Busy reports whether unload must be refused or deferred.
func (m *Module) Busy() bool { return m.Refs() > 0 }
