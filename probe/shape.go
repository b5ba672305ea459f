package probe

import (
	"errors"
	"fmt"

	"github.com/joncooperworks/capscan/contract"
)

var (
	// ErrSandboxCreation is returned when an isolation context cannot be created.
	ErrSandboxCreation = errors.New("failed to create probe sandbox")
	// ErrModuleLoad marks a candidate file that could not be inspected.
	ErrModuleLoad = errors.New("module load failed")
)

// Failure reasons recorded on a ModuleShape.
const (
	ReasonRead     = "read"
	ReasonCompile  = "compile"
	ReasonManifest = "manifest"
	ReasonTimeout  = "timeout"
	ReasonWorker   = "worker"
	ReasonPanic    = "panic"
)

// TypeKind classifies a type found in a module.
type TypeKind string

const (
	KindConcrete  TypeKind = "concrete"
	KindAbstract  TypeKind = "abstract"
	KindInterface TypeKind = "interface"
)

// MethodShape is one exported method of a type.
type MethodShape struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// TypeShape is the inspected shape of one type.
type TypeShape struct {
	Name           string        `json:"name"`
	Display        string        `json:"display,omitempty"`
	Kind           TypeKind      `json:"kind"`
	HasConstructor bool          `json:"has_constructor"`
	Methods        []MethodShape `json:"methods,omitempty"`
}

// Method looks up a method by name.
func (t TypeShape) Method(name string) (MethodShape, bool) {
	for _, m := range t.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodShape{}, false
}

// Instantiable reports whether the type is concrete. A concrete type without
// a usable constructor still matches; creating it fails.
func (t TypeShape) Instantiable() bool {
	return t.Kind == KindConcrete
}

// ModuleShape is everything a scan learns about one candidate file. It is
// plain data and outlives the sandbox that produced it.
type ModuleShape struct {
	Path   string       `json:"path"`
	Name   string       `json:"name,omitempty"`
	Digest string       `json:"digest,omitempty"`
	ABI    contract.ABI `json:"abi,omitempty"`
	Types  []TypeShape  `json:"types,omitempty"`
	Err    string       `json:"error,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// Failed reports whether the file could not be inspected.
func (m ModuleShape) Failed() bool { return m.Err != "" }

// Error returns the per-file failure wrapped in ErrModuleLoad, or nil.
func (m ModuleShape) Error() error {
	if !m.Failed() {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrModuleLoad, m.Path, m.Err)
}

func (m ModuleShape) fail(reason string, err error) ModuleShape {
	m.Types = nil
	m.Reason = reason
	m.Err = err.Error()
	return m
}

func failedShape(path, reason string, err error) ModuleShape {
	return ModuleShape{Path: path}.fail(reason, err)
}
