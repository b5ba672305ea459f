// Package resident describes the modules that are already part of the host
// process: capability implementations compiled into the binary.
//
// In-tree packages register their modules from init, mirroring how loader
// factories are registered in package plugin.
package resident

import (
	"fmt"
	"reflect"
	"sync"
)

// Kind classifies a resident module.
type Kind int

const (
	// Application modules belong to the host application and are scanned.
	Application Kind = iota
	// System modules are platform or runtime libraries and never scanned.
	System
	// Synthesized modules are generated at runtime (proxies, test doubles)
	// and are only scanned on request.
	Synthesized
)

func (k Kind) String() string {
	switch k {
	case Application:
		return "application"
	case System:
		return "system"
	case Synthesized:
		return "synthesized"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Type is a Go type provided by a resident module. New is nil for types that
// cannot be constructed.
type Type struct {
	Name    string
	Display string
	GoType  reflect.Type
	New     func() any
}

// Provide describes T with its constructor. Pass a nil newFn for a type that
// exists but must not be instantiated.
func Provide[T any](name, display string, newFn func() T) Type {
	t := Type{
		Name:    name,
		Display: display,
		GoType:  reflect.TypeFor[T](),
	}
	if newFn != nil {
		t.New = func() any { return newFn() }
	}
	return t
}

// Module is a named group of resident types.
type Module struct {
	Name  string
	Kind  Kind
	Types []Type
}

// Source enumerates resident modules in registration order.
type Source interface {
	Modules() []Module
}

// Set is a concurrency-safe, ordered collection of resident modules.
type Set struct {
	mu      sync.RWMutex
	modules []Module
}

// NewSet builds a set holding modules in order.
func NewSet(modules ...Module) *Set {
	s := &Set{}
	for _, m := range modules {
		s.Register(m)
	}
	return s
}

// Register adds m. A module with the same name is replaced in place, keeping
// its original position.
func (s *Set) Register(m Module) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Types = append([]Type(nil), m.Types...)
	for i := range s.modules {
		if s.modules[i].Name == m.Name {
			s.modules[i] = m
			return
		}
	}
	s.modules = append(s.modules, m)
}

// Modules returns a snapshot of the set.
func (s *Set) Modules() []Module {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Module, len(s.modules))
	for i, m := range s.modules {
		m.Types = append([]Type(nil), m.Types...)
		out[i] = m
	}
	return out
}

var process = &Set{}

// Register adds m to the process-wide set. It is meant to be called from init.
func Register(m Module) {
	process.Register(m)
}

// Process returns the process-wide set as a Source.
func Process() Source {
	return process
}

// Modules snapshots the process-wide set.
func Modules() []Module {
	return process.Modules()
}
