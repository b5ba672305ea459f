package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncooperworks/capscan/contract"
	"github.com/joncooperworks/capscan/internal/wasmtest"
)

// pluginA has a concrete Foo and an abstract Bar with identical methods.
func pluginA() *wasmtest.Builder {
	return wasmtest.New("PluginA").
		Manifest(Manifest{
			Module: "PluginA",
			Types:  []ManifestType{{Name: "Foo", Display: "Foo Plugin"}},
		}).
		Constructor("Foo").
		StringMethod("Foo", "name", "Foo").
		VoidMethod("Foo", "do_the_thing").
		StringMethod("Bar", "name", "Bar").
		VoidMethod("Bar", "do_the_thing")
}

func inspect(t *testing.T, b *wasmtest.Builder, file string) ModuleShape {
	t.Helper()
	ctx := context.Background()
	rt := NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	return InspectFile(ctx, rt, b.Write(t, t.TempDir(), file))
}

func TestInspectFile(t *testing.T) {
	b := pluginA()
	dir := t.TempDir()
	path := b.Write(t, dir, "PluginA.wasm")

	ctx := context.Background()
	rt := NewRuntime(ctx)
	defer rt.Close(ctx)

	shape := InspectFile(ctx, rt, path)
	require.False(t, shape.Failed(), "unexpected failure: %s", shape.Err)
	require.NoError(t, shape.Error())

	sum := sha256.Sum256(b.Bytes())
	assert.Equal(t, path, shape.Path)
	assert.Equal(t, "PluginA", shape.Name)
	assert.Equal(t, hex.EncodeToString(sum[:]), shape.Digest)
	assert.Equal(t, contract.ABICore, shape.ABI)

	methods := []MethodShape{
		{Name: "do_the_thing", Signature: "(i32)->()"},
		{Name: "name", Signature: "(i32)->(i64)"},
	}
	assert.Equal(t, []TypeShape{
		{Name: "Bar", Display: "Bar", Kind: KindAbstract, Methods: methods},
		{Name: "Foo", Display: "Foo Plugin", Kind: KindConcrete, HasConstructor: true, Methods: methods},
	}, shape.Types)

	assert.True(t, shape.Types[1].Instantiable())
	assert.False(t, shape.Types[0].Instantiable())
}

func TestInspectFile_ModuleName(t *testing.T) {
	tests := []struct {
		name    string
		builder *wasmtest.Builder
		file    string
		want    string
	}{
		{
			name:    "manifest wins",
			builder: wasmtest.New("from-name-section").Manifest(Manifest{Module: "from-manifest"}),
			file:    "file.wasm",
			want:    "from-manifest",
		},
		{
			name:    "name section",
			builder: wasmtest.New("from-name-section"),
			file:    "file.wasm",
			want:    "from-name-section",
		},
		{
			name:    "file stem",
			builder: wasmtest.New(""),
			file:    "stem.wasm",
			want:    "stem",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape := inspect(t, tt.builder, tt.file)
			require.False(t, shape.Failed(), shape.Err)
			assert.Equal(t, tt.want, shape.Name)
		})
	}
}

func TestInspectFile_ManifestKinds(t *testing.T) {
	b := wasmtest.New("kinds").
		Manifest(Manifest{Types: []ManifestType{
			{Name: "Shape", Kind: KindInterface},
			{Name: "Base", Kind: KindAbstract},
		}}).
		Constructor("Base").
		VoidMethod("Base", "run").
		VoidMethod("Shape", "run")

	shape := inspect(t, b, "kinds.wasm")
	require.False(t, shape.Failed(), shape.Err)
	require.Len(t, shape.Types, 2)

	assert.Equal(t, "Base", shape.Types[0].Name)
	assert.Equal(t, KindAbstract, shape.Types[0].Kind)
	assert.True(t, shape.Types[0].HasConstructor)
	assert.False(t, shape.Types[0].Instantiable())

	assert.Equal(t, "Shape", shape.Types[1].Name)
	assert.Equal(t, KindInterface, shape.Types[1].Kind)
}

func TestInspectFile_ManifestConcreteWithoutConstructor(t *testing.T) {
	b := wasmtest.New("bare").
		Manifest(Manifest{Types: []ManifestType{{Name: "Bare", Kind: KindConcrete}}}).
		VoidMethod("Bare", "run")

	shape := inspect(t, b, "bare.wasm")
	require.False(t, shape.Failed(), shape.Err)
	require.Len(t, shape.Types, 1)
	assert.Equal(t, KindConcrete, shape.Types[0].Kind)
	assert.False(t, shape.Types[0].HasConstructor)
	assert.True(t, shape.Types[0].Instantiable())
}

func TestInspectFile_ConstructorWithWrongSignature(t *testing.T) {
	b := wasmtest.New("odd").
		Func("Odd.new", []byte{0x7f}, []byte{0x7f}, wasmtest.I32(1)).
		VoidMethod("Odd", "run")

	shape := inspect(t, b, "odd.wasm")
	require.False(t, shape.Failed(), shape.Err)
	require.Len(t, shape.Types, 1)
	assert.False(t, shape.Types[0].HasConstructor)
	assert.Equal(t, KindAbstract, shape.Types[0].Kind)
}

func TestInspectFile_ExtismABI(t *testing.T) {
	b := wasmtest.New("ext").
		Manifest(Manifest{ABI: "extism"}).
		ExtismFunc("Foo.new", 0).
		ExtismFunc("Foo.name", 0)

	shape := inspect(t, b, "ext.wasm")
	require.False(t, shape.Failed(), shape.Err)
	assert.Equal(t, contract.ABIExtism, shape.ABI)
	require.Len(t, shape.Types, 1)
	assert.True(t, shape.Types[0].Instantiable())
	assert.Equal(t, []MethodShape{{Name: "name", Signature: "()->(i32)"}}, shape.Types[0].Methods)
}

func TestInspectFile_DoesNotRunGuestCode(t *testing.T) {
	b := wasmtest.New("trap").TrappingStart().Constructor("Foo")

	shape := inspect(t, b, "trap.wasm")
	require.False(t, shape.Failed(), shape.Err)
	require.Len(t, shape.Types, 1)
	assert.Equal(t, "Foo", shape.Types[0].Name)
}

func TestInspectFile_Failures(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		reason string
	}{
		{
			name:   "not wasm",
			data:   []byte("this is not a module"),
			reason: ReasonCompile,
		},
		{
			name:   "truncated",
			data:   pluginA().Bytes()[:20],
			reason: ReasonCompile,
		},
		{
			name:   "manifest not json",
			data:   wasmtest.New("m").Custom(ManifestSection, []byte("{")).Bytes(),
			reason: ReasonManifest,
		},
		{
			name:   "manifest unknown kind",
			data:   wasmtest.New("m").Custom(ManifestSection, []byte(`{"types":[{"name":"Foo","kind":"weird"}]}`)).Bytes(),
			reason: ReasonManifest,
		},
		{
			name:   "manifest unknown field",
			data:   wasmtest.New("m").Custom(ManifestSection, []byte(`{"plugins":[]}`)).Bytes(),
			reason: ReasonManifest,
		},
		{
			name:   "manifest unknown abi",
			data:   wasmtest.New("m").Custom(ManifestSection, []byte(`{"abi":"cobol"}`)).Bytes(),
			reason: ReasonManifest,
		},
		{
			name:   "manifest duplicate type",
			data:   wasmtest.New("m").Custom(ManifestSection, []byte(`{"types":[{"name":"Foo"},{"name":"Foo"}]}`)).Bytes(),
			reason: ReasonManifest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			rt := NewRuntime(ctx)
			defer rt.Close(ctx)

			path := wasmtest.WriteFile(t, t.TempDir(), "bad.wasm", tt.data)
			shape := InspectFile(ctx, rt, path)

			assert.True(t, shape.Failed())
			assert.Equal(t, tt.reason, shape.Reason)
			assert.Empty(t, shape.Types)
			assert.NotEmpty(t, shape.Digest)
			assert.ErrorIs(t, shape.Error(), ErrModuleLoad)
		})
	}
}

func TestInspectFile_MissingFile(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)
	defer rt.Close(ctx)

	shape := InspectFile(ctx, rt, filepath.Join(t.TempDir(), "gone.wasm"))
	assert.Equal(t, ReasonRead, shape.Reason)
	assert.Empty(t, shape.Digest)
	assert.ErrorIs(t, shape.Error(), ErrModuleLoad)
}

func TestManifestSchema(t *testing.T) {
	data, err := ManifestSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties: %s", data)
	assert.Contains(t, props, "module")
	assert.Contains(t, props, "abi")
	assert.Contains(t, props, "types")
}

func TestDecodeManifest(t *testing.T) {
	m, err := DecodeManifest([]byte(`{"module":"PluginA","abi":"core","types":[{"name":"Foo","display":"Foo Plugin","kind":"concrete"}]}`))
	require.NoError(t, err)
	assert.Equal(t, &Manifest{
		Module: "PluginA",
		ABI:    "core",
		Types:  []ManifestType{{Name: "Foo", Display: "Foo Plugin", Kind: KindConcrete}},
	}, m)

	_, err = DecodeManifest([]byte(`{"types":[{"display":"nameless"}]}`))
	assert.Error(t, err)
}
