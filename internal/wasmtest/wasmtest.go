// Package wasmtest assembles small WebAssembly binaries for tests.
//
// The builder emits just enough of the binary format to describe plugin-shaped
// modules: typed functions with constant bodies, one exported memory page,
// active data segments, a start function, a name section and custom sections.
package wasmtest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tetratelabs/wazero/api"
)

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opI32Const    = 0x41
	opI64Const    = 0x42

	dataBase = 16
)

var (
	i32 = []api.ValueType{api.ValueTypeI32}
	i64 = []api.ValueType{api.ValueTypeI64}
)

type function struct {
	export  string
	params  []api.ValueType
	results []api.ValueType
	body    []byte
}

type custom struct {
	name string
	data []byte
}

// Builder accumulates the contents of one module.
type Builder struct {
	name   string
	funcs  []function
	data   []byte
	custom []custom
	start  int
}

// New starts a module. A non-empty name is written to the name section.
func New(name string) *Builder {
	return &Builder{name: name, start: -1}
}

// I32 is the instruction sequence pushing v.
func I32(v int32) []byte {
	return append([]byte{opI32Const}, sleb(int64(v))...)
}

// I64 is the instruction sequence pushing v.
func I64(v int64) []byte {
	return append([]byte{opI64Const}, sleb(v)...)
}

// Unreachable traps when executed.
func Unreachable() []byte {
	return []byte{opUnreachable}
}

// Func adds a function. An empty export name keeps it private.
func (b *Builder) Func(export string, params, results []api.ValueType, body ...[]byte) *Builder {
	var code []byte
	for _, ins := range body {
		code = append(code, ins...)
	}
	b.funcs = append(b.funcs, function{export: export, params: params, results: results, body: code})
	return b
}

// Constructor exports "<typ>.new" returning a non-zero handle.
func (b *Builder) Constructor(typ string) *Builder {
	return b.Func(typ+".new", nil, i32, I32(int32(len(b.funcs)+1)))
}

// TrappingConstructor exports a constructor that always traps.
func (b *Builder) TrappingConstructor(typ string) *Builder {
	return b.Func(typ+".new", nil, i32, Unreachable())
}

// StringMethod exports "<typ>.<method>" as (i32) -> i64 returning value packed
// as ptr<<32 | len.
func (b *Builder) StringMethod(typ, method, value string) *Builder {
	ptr := dataBase + len(b.data)
	b.data = append(b.data, value...)
	packed := int64(uint64(ptr)<<32 | uint64(len(value)))
	return b.Func(typ+"."+method, i32, i64, I64(packed))
}

// VoidMethod exports "<typ>.<method>" as (i32) -> ().
func (b *Builder) VoidMethod(typ, method string) *Builder {
	return b.Func(typ+"."+method, i32, nil)
}

// TrapMethod exports "<typ>.<method>" as (i32) -> () that always traps.
func (b *Builder) TrapMethod(typ, method string) *Builder {
	return b.Func(typ+"."+method, i32, nil, Unreachable())
}

// ExtismFunc exports name as () -> i32 returning the exit code.
func (b *Builder) ExtismFunc(name string, exitCode int32) *Builder {
	return b.Func(name, nil, i32, I32(exitCode))
}

// TrappingStart installs a start function that traps, so instantiating the
// module fails while compiling it succeeds.
func (b *Builder) TrappingStart() *Builder {
	b.start = len(b.funcs)
	return b.Func("", nil, nil, Unreachable())
}

// Custom adds a custom section.
func (b *Builder) Custom(name string, data []byte) *Builder {
	b.custom = append(b.custom, custom{name: name, data: data})
	return b
}

// Manifest adds v, JSON encoded, as the capscan.manifest custom section.
func (b *Builder) Manifest(v any) *Builder {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b.Custom("capscan.manifest", data)
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	var types, funcs, exports, code []byte
	types = uleb(uint64(len(b.funcs)))
	funcs = uleb(uint64(len(b.funcs)))
	code = uleb(uint64(len(b.funcs)))

	exported := 1
	for _, f := range b.funcs {
		if f.export != "" {
			exported++
		}
	}
	exports = uleb(uint64(exported))
	exports = append(exports, name("memory")...)
	exports = append(exports, 0x02, 0x00)

	for i, f := range b.funcs {
		types = append(types, 0x60)
		types = append(types, valueTypes(f.params)...)
		types = append(types, valueTypes(f.results)...)

		funcs = append(funcs, uleb(uint64(i))...)

		if f.export != "" {
			exports = append(exports, name(f.export)...)
			exports = append(exports, 0x00)
			exports = append(exports, uleb(uint64(i))...)
		}

		body := append([]byte{0x00}, f.body...)
		body = append(body, opEnd)
		code = append(code, uleb(uint64(len(body)))...)
		code = append(code, body...)
	}

	out = append(out, section(1, types)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, []byte{0x01, 0x00, 0x01})...)
	out = append(out, section(7, exports)...)
	if b.start >= 0 {
		out = append(out, section(8, uleb(uint64(b.start)))...)
	}
	out = append(out, section(10, code)...)

	if len(b.data) > 0 {
		seg := []byte{0x01, 0x00}
		seg = append(seg, I32(dataBase)...)
		seg = append(seg, opEnd)
		seg = append(seg, uleb(uint64(len(b.data)))...)
		seg = append(seg, b.data...)
		out = append(out, section(11, seg)...)
	}

	if b.name != "" {
		sub := name(b.name)
		names := name("name")
		names = append(names, 0x00)
		names = append(names, uleb(uint64(len(sub)))...)
		names = append(names, sub...)
		out = append(out, section(0, names)...)
	}

	for _, c := range b.custom {
		payload := append(name(c.name), c.data...)
		out = append(out, section(0, payload)...)
	}
	return out
}

// Write encodes the module to dir/file, creating parent directories, and
// returns the full path.
func (b *Builder) Write(t testing.TB, dir, file string) string {
	t.Helper()
	return WriteFile(t, dir, file, b.Bytes())
}

// WriteFile writes raw bytes to dir/file and returns the full path.
func WriteFile(t testing.TB, dir, file string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func valueTypes(vt []api.ValueType) []byte {
	out := uleb(uint64(len(vt)))
	for _, t := range vt {
		out = append(out, t)
	}
	return out
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		out = append(out, c)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		out = append(out, c)
		if done {
			return out
		}
	}
}
