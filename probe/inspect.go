package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/joncooperworks/capscan/contract"
)

// NewRuntime returns a runtime suited to InspectFile: an interpreter that
// keeps custom sections. Modules compiled by it are never instantiated.
func NewRuntime(ctx context.Context) wazero.Runtime {
	config := wazero.NewRuntimeConfigInterpreter().WithCustomSections(true)
	return wazero.NewRuntimeWithConfig(ctx, config)
}

// InspectFile compiles the module at path and extracts its shape. Failures
// are recorded on the returned shape; InspectFile itself never fails.
func InspectFile(ctx context.Context, rt wazero.Runtime, path string) (shape ModuleShape) {
	shape.Path = path
	defer func() {
		if r := recover(); r != nil {
			shape = shape.fail(ReasonPanic, fmt.Errorf("inspection panicked: %v", r))
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return shape.fail(ReasonRead, err)
	}
	sum := sha256.Sum256(data)
	shape.Digest = hex.EncodeToString(sum[:])

	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return shape.fail(ReasonCompile, fmt.Errorf("failed to compile WASM module: %w", err))
	}
	defer compiled.Close(ctx)

	manifest, err := findManifest(compiled)
	if err != nil {
		return shape.fail(ReasonManifest, err)
	}

	abi, err := contract.ParseABI(manifest.ABI)
	if err != nil {
		return shape.fail(ReasonManifest, err)
	}
	shape.ABI = abi

	switch {
	case manifest.Module != "":
		shape.Name = manifest.Module
	case compiled.Name() != "":
		shape.Name = compiled.Name()
	default:
		shape.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	types, err := collectTypes(compiled, abi, manifest.Types)
	if err != nil {
		return shape.fail(ReasonManifest, err)
	}
	shape.Types = types
	return shape
}

func findManifest(compiled wazero.CompiledModule) (*Manifest, error) {
	var found *Manifest
	for _, section := range compiled.CustomSections() {
		if section.Name() != ManifestSection {
			continue
		}
		if found != nil {
			return nil, errors.New("module has more than one manifest section")
		}
		m, err := DecodeManifest(section.Data())
		if err != nil {
			return nil, err
		}
		found = m
	}
	if found == nil {
		return &Manifest{}, nil
	}
	return found, nil
}

// collectTypes groups "<Type>.<method>" exports by type and applies manifest overrides.
func collectTypes(compiled wazero.CompiledModule, abi contract.ABI, overrides []ManifestType) ([]TypeShape, error) {
	byName := map[string]*TypeShape{}
	get := func(name string) *TypeShape {
		t, ok := byName[name]
		if !ok {
			t = &TypeShape{Name: name}
			byName[name] = t
		}
		return t
	}

	ctorSig := contract.ConstructorSignature(abi)
	for export, def := range compiled.ExportedFunctions() {
		i := strings.LastIndex(export, ".")
		if i <= 0 || i == len(export)-1 {
			continue
		}
		typeName, method := export[:i], export[i+1:]
		sig := contract.FormatSignature(def.ParamTypes(), def.ResultTypes())

		t := get(typeName)
		if method == contract.ConstructorMethod {
			t.HasConstructor = sig == ctorSig
			continue
		}
		t.Methods = append(t.Methods, MethodShape{Name: method, Signature: sig})
	}

	seen := map[string]bool{}
	for _, o := range overrides {
		if seen[o.Name] {
			return nil, fmt.Errorf("manifest lists type %q more than once", o.Name)
		}
		seen[o.Name] = true

		t := get(o.Name)
		t.Display = o.Display
		t.Kind = o.Kind
	}

	types := make([]TypeShape, 0, len(byName))
	for _, t := range byName {
		if t.Kind == "" {
			t.Kind = KindAbstract
			if t.HasConstructor {
				t.Kind = KindConcrete
			}
		}
		if t.Display == "" {
			t.Display = t.Name
		}
		sort.Slice(t.Methods, func(i, j int) bool { return t.Methods[i].Name < t.Methods[j].Name })
		types = append(types, *t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types, nil
}
