// Package wasm instantiates core-ABI modules with wazero.
//
// A core-ABI type is constructed by calling its "<Type>.new" export, which
// returns an i32 handle. Every method export takes that handle as its first
// parameter. Strings are returned as an i64 packing (ptr<<32 | len) into the
// module's exported memory.
package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/joncooperworks/capscan/contract"
)

// Loader owns the long-lived runtime that permanently loaded modules live in.
type Loader struct {
	runtime wazero.Runtime
}

// NewLoader creates a loader with a WASI runtime ready to instantiate modules.
func NewLoader(ctx context.Context) (*Loader, error) {
	runtime := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	return &Loader{runtime: runtime}, nil
}

// Close releases the runtime and every module loaded into it.
func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// Load compiles and instantiates a module. name must be unique within the
// loader. Reactor modules get their _initialize export run once.
func (l *Loader) Load(ctx context.Context, name string, data []byte) (*Module, error) {
	compiled, err := l.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	config := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")
	instance, err := l.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	return &Module{
		name:     name,
		instance: instance,
		compiled: compiled,
	}, nil
}

// Module is an instantiated core-ABI module.
type Module struct {
	name     string
	instance api.Module
	compiled wazero.CompiledModule

	// wazero module instances are not safe for concurrent calls.
	mu sync.Mutex
}

// Name returns the name the module was loaded under.
func (m *Module) Name() string { return m.name }

// Close shuts down the module instance and releases compiled code.
func (m *Module) Close(ctx context.Context) error {
	if m.instance != nil {
		_ = m.instance.Close(ctx)
	}
	if m.compiled != nil {
		return m.compiled.Close(ctx)
	}
	return nil
}

// Construct calls "<typeName>.new" and returns the new object.
func (m *Module) Construct(ctx context.Context, typeName string) (contract.Object, error) {
	fn := m.instance.ExportedFunction(contract.Export(typeName, contract.ConstructorMethod))
	if fn == nil {
		return nil, fmt.Errorf("%s in module %q: %w", typeName, m.name, contract.ErrNoConstructor)
	}

	m.mu.Lock()
	results, err := fn.Call(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("constructor of %s failed: %w", typeName, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("constructor of %s returned %d results, expected a handle", typeName, len(results))
	}

	return &Object{module: m, typeName: typeName, handle: uint32(results[0])}, nil
}

// Object is a live instance identified by its handle.
type Object struct {
	module   *Module
	typeName string
	handle   uint32
}

// TypeName returns the type the object was constructed from.
func (o *Object) TypeName() string { return o.typeName }

// Handle returns the guest-side instance handle.
func (o *Object) Handle() uint32 { return o.handle }

// Call invokes "<Type>.<method>" with the handle prepended to params.
func (o *Object) Call(ctx context.Context, method string, params ...uint64) ([]uint64, error) {
	fn := o.module.instance.ExportedFunction(contract.Export(o.typeName, method))
	if fn == nil {
		return nil, fmt.Errorf("method %s not found on %s", method, o.typeName)
	}

	args := append([]uint64{uint64(o.handle)}, params...)

	o.module.mu.Lock()
	defer o.module.mu.Unlock()
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s.%s: %w", o.typeName, method, err)
	}
	return results, nil
}

// CallString invokes a method returning a packed (ptr<<32 | len) string.
func (o *Object) CallString(ctx context.Context, method string) (string, error) {
	results, err := o.Call(ctx, method)
	if err != nil {
		return "", err
	}
	if len(results) < 1 {
		return "", fmt.Errorf("%s.%s returned no result (expected packed ptr, len)", o.typeName, method)
	}

	ptr := uint32(results[0] >> 32)
	length := uint32(results[0])
	if ptr == 0 && length == 0 {
		return "", nil
	}

	mem := o.module.instance.Memory()
	if mem == nil {
		return "", fmt.Errorf("WASM module has no memory")
	}

	bytes, ok := mem.Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("failed to read memory at ptr=%d, len=%d", ptr, length)
	}

	return string(bytes), nil
}
