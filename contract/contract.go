// Package contract describes capability contracts.
//
// A contract names the Go interface a plugin type must implement and the wasm
// method shapes an on-disk module must export for one of its types to be
// considered an implementation. Contracts are declared once by the host and
// never change afterwards.
package contract

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// ErrNoConstructor is returned when a type has no parameterless constructor.
var ErrNoConstructor = errors.New("type has no parameterless constructor")

// ABI identifies the calling convention a module uses for its exported methods.
type ABI string

const (
	// ABICore passes an i32 instance handle as the first parameter of every
	// method and returns strings as an i64 packed (ptr<<32 | len).
	ABICore ABI = "core"
	// ABIExtism uses Extism's input/output buffers; every export is () -> i32.
	ABIExtism ABI = "extism"
)

// ParseABI converts a manifest value to an ABI. An empty string is ABICore.
func ParseABI(s string) (ABI, error) {
	switch ABI(s) {
	case "", ABICore:
		return ABICore, nil
	case ABIExtism:
		return ABIExtism, nil
	default:
		return "", fmt.Errorf("unknown ABI %q", s)
	}
}

// ConstructorMethod is the method name of a type's constructor export.
const ConstructorMethod = "new"

// Export returns the export name of method on typeName, e.g. "Foo.do_the_thing".
func Export(typeName, method string) string {
	return typeName + "." + method
}

// Method is one method a contract requires. Params and Results exclude the
// receiver handle.
type Method struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Signature returns the wasm signature the method's export must have under abi.
func (m Method) Signature(abi ABI) string {
	if abi == ABIExtism {
		return FormatSignature(nil, []api.ValueType{api.ValueTypeI32})
	}
	params := append([]api.ValueType{api.ValueTypeI32}, m.Params...)
	return FormatSignature(params, m.Results)
}

// ConstructorSignature is the signature of a constructor export under abi.
func ConstructorSignature(abi ABI) string {
	return FormatSignature(nil, []api.ValueType{api.ValueTypeI32})
}

// FormatSignature renders a wasm function signature as "(i32,i64)->(i64)".
func FormatSignature(params, results []api.ValueType) string {
	var b strings.Builder
	writeTypes(&b, params)
	b.WriteString("->")
	writeTypes(&b, results)
	return b.String()
}

func writeTypes(b *strings.Builder, types []api.ValueType) {
	b.WriteByte('(')
	for i, t := range types {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(api.ValueTypeName(t))
	}
	b.WriteByte(')')
}

// Object is a live instance of a type constructed inside a loaded module.
type Object interface {
	// TypeName is the type the object was constructed from.
	TypeName() string
	// Call invokes method on the object and returns its raw results.
	Call(ctx context.Context, method string, params ...uint64) ([]uint64, error)
	// CallString invokes a method that returns a string.
	CallString(ctx context.Context, method string) (string, error)
}

// BindFunc adapts a live wasm object to the contract's Go interface. display
// is the type's display name, usable as a fallback when the guest returns none.
type BindFunc[T any] func(obj Object, display string) (T, error)

// Shape is the non-generic view of a contract used by the conformance filter.
type Shape interface {
	Name() string
	Interface() reflect.Type
	Methods() []Method
}

// Contract is a capability contract for the Go interface T.
type Contract[T any] struct {
	name    string
	iface   reflect.Type
	methods []Method
	bind    BindFunc[T]
}

// New declares a contract. T must be an interface type; New panics otherwise,
// since contracts are fixed at compile time.
func New[T any](name string, bind BindFunc[T], methods ...Method) *Contract[T] {
	iface := reflect.TypeFor[T]()
	if iface.Kind() != reflect.Interface {
		panic(fmt.Sprintf("contract.New called with non-interface type: %s", iface))
	}
	if bind == nil {
		panic(fmt.Sprintf("contract %s: bind function cannot be nil", name))
	}

	seen := make(map[string]bool, len(methods))
	for _, m := range methods {
		if m.Name == "" || m.Name == ConstructorMethod {
			panic(fmt.Sprintf("contract %s: invalid method name %q", name, m.Name))
		}
		if seen[m.Name] {
			panic(fmt.Sprintf("contract %s: duplicate method %q", name, m.Name))
		}
		seen[m.Name] = true
	}

	return &Contract[T]{
		name:    name,
		iface:   iface,
		methods: append([]Method(nil), methods...),
		bind:    bind,
	}
}

// Name returns the contract name.
func (c *Contract[T]) Name() string { return c.name }

// Interface returns the Go interface type of the contract.
func (c *Contract[T]) Interface() reflect.Type { return c.iface }

// Methods returns a copy of the required method shapes.
func (c *Contract[T]) Methods() []Method {
	return append([]Method(nil), c.methods...)
}

// Bind adapts obj to T.
func (c *Contract[T]) Bind(obj Object, display string) (T, error) {
	return c.bind(obj, display)
}

// Cast asserts that v implements T.
func (c *Contract[T]) Cast(v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}
