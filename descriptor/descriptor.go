// Package descriptor holds the plain-data descriptions of discovered modules
// and types shared by the registry and the instantiator.
package descriptor

import (
	"context"
	"fmt"

	"github.com/joncooperworks/capscan/contract"
)

// Source records where a module came from.
type Source int

const (
	// Resident modules are already part of the running host.
	Resident Source = iota
	// OnDisk modules were found by scanning a plugin directory.
	OnDisk
)

func (s Source) String() string {
	switch s {
	case Resident:
		return "resident"
	case OnDisk:
		return "on-disk"
	default:
		return "unknown"
	}
}

// MarshalText renders the source by name in JSON and YAML output.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a source name written by MarshalText.
func (s *Source) UnmarshalText(text []byte) error {
	switch string(text) {
	case "resident":
		*s = Resident
	case "on-disk":
		*s = OnDisk
	default:
		return fmt.Errorf("unknown module source %q", text)
	}
	return nil
}

// Module describes a resident or on-disk module. Path, Digest and ABI are
// empty for resident modules.
type Module struct {
	Source Source       `json:"source" yaml:"source"`
	Name   string       `json:"name" yaml:"name"`
	Path   string       `json:"path,omitempty" yaml:"path,omitempty"`
	Digest string       `json:"digest,omitempty" yaml:"digest,omitempty"`
	ABI    contract.ABI `json:"abi,omitempty" yaml:"abi,omitempty"`
}

// Identity is the module's name. Two modules with the same identity are the
// same module for deduplication purposes.
func (m Module) Identity() string { return m.Name }

// Key uniquely identifies a type within one discovery result.
type Key struct {
	Module string
	Type   string
}

// Factory creates a live instance of a discovered type.
type Factory[T any] func(ctx context.Context) (T, error)

// Type describes one concrete type that implements a contract.
type Type[T any] struct {
	Module      Module `json:"module" yaml:"module"`
	TypeName    string `json:"type" yaml:"type"`
	DisplayName string `json:"display" yaml:"display"`
	Contract    string `json:"contract" yaml:"contract"`

	factory Factory[T]
}

// New builds a descriptor. The factory is resolved once at discovery and
// carried with the descriptor so creation never repeats the match.
func New[T any](m Module, typeName, display, contractName string, factory Factory[T]) Type[T] {
	if display == "" {
		display = typeName
	}
	return Type[T]{
		Module:      m,
		TypeName:    typeName,
		DisplayName: display,
		Contract:    contractName,
		factory:     factory,
	}
}

// Key returns the (module, type) uniqueness key.
func (t Type[T]) Key() Key {
	return Key{Module: t.Module.Identity(), Type: t.TypeName}
}

// Factory returns the creation closure, or nil for a zero Type.
func (t Type[T]) Factory() Factory[T] { return t.factory }
