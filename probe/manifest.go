package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ManifestSection is the name of the custom section carrying module metadata.
const ManifestSection = "capscan.manifest"

const manifestSchemaURL = "https://github.com/joncooperworks/capscan/manifest.schema.json"

// Manifest is the optional metadata a module embeds in its ManifestSection.
type Manifest struct {
	Module string         `json:"module,omitempty" jsonschema:"description=Module name. Defaults to the wasm name section or the file name."`
	ABI    string         `json:"abi,omitempty" jsonschema:"enum=core,enum=extism,description=Calling convention of the exported methods."`
	Types  []ManifestType `json:"types,omitempty"`
}

// ManifestType overrides what inspection infers about one type.
type ManifestType struct {
	Name    string   `json:"name" jsonschema:"minLength=1"`
	Display string   `json:"display,omitempty"`
	Kind    TypeKind `json:"kind,omitempty" jsonschema:"enum=concrete,enum=abstract,enum=interface"`
}

var manifestSchema = sync.OnceValues(func() ([]byte, error) {
	r := &invopop.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.ID = manifestSchemaURL
	schema.Title = "capscan module manifest"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest schema: %w", err)
	}
	return data, nil
})

var manifestValidator = sync.OnceValues(func() (*jsonschema.Schema, error) {
	data, err := manifestSchema()
	if err != nil {
		return nil, err
	}
	compiled, err := jsonschema.CompileString(manifestSchemaURL, string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	return compiled, nil
})

// ManifestSchema returns the JSON schema every embedded manifest is validated against.
func ManifestSchema() ([]byte, error) {
	data, err := manifestSchema()
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data), nil
}

// DecodeManifest validates data against the manifest schema and decodes it.
func DecodeManifest(data []byte) (*Manifest, error) {
	validator, err := manifestValidator()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if err := validator.Validate(doc); err != nil {
		return nil, fmt.Errorf("manifest does not match schema: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
