package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joncooperworks/capscan/internal/wasmtest"
	"github.com/joncooperworks/capscan/menu"
	"github.com/joncooperworks/capscan/plugin"
	"github.com/joncooperworks/capscan/probe"
	"github.com/joncooperworks/capscan/registry"
	"github.com/joncooperworks/capscan/resident"
)

func snapshot(t *testing.T) *registry.Snapshot {
	t.Helper()
	dir := t.TempDir()
	// Labels come from the manifest; Name() is only known once a module is loaded.
	wasmtest.New("Ext").
		Manifest(probe.Manifest{
			Module: "Ext",
			Types:  []probe.ManifestType{{Name: "Runner", Display: "External Runner"}},
		}).
		Constructor("Runner").
		StringMethod("Runner", plugin.MethodName, "runner v2").
		VoidMethod("Runner", plugin.MethodExecute).
		Write(t, dir, "ext.wasm")
	wasmtest.WriteFile(t, dir, "broken.wasm", []byte("nope"))

	quiet, _ := logtest.NewNullLogger()
	r, err := registry.New(
		registry.WithLogger(quiet),
		registry.WithResidentSource(resident.Process()),
		registry.WithSandboxOptions(probe.WithMode(probe.ModeInProcess)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	snap, err := r.Discover(context.Background(), dir)
	require.NoError(t, err)
	return snap
}

func TestBuildListing(t *testing.T) {
	l := buildListing(snapshot(t))

	var got []string
	for _, impl := range l.Implementations {
		got = append(got, impl.Contract+"/"+impl.Module.Name+"/"+impl.Type)
	}
	assert.Equal(t, []string{
		"PluginOne/capscan/InternalPluginOne",
		"PluginTwo/capscan/InternalPluginTwo",
		"PluginTwo/Ext/Runner",
	}, got)
	require.Len(t, l.Failures, 1)
	assert.Equal(t, probe.ReasonCompile, l.Failures[0].Reason)
}

func TestWriteListing(t *testing.T) {
	l := buildListing(snapshot(t))

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeListing(&buf, l, "json"))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		impls := decoded["implementations"].([]any)
		require.Len(t, impls, 3)
		module := impls[2].(map[string]any)["module"].(map[string]any)
		assert.Equal(t, "on-disk", module["source"])
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeListing(&buf, l, "yaml"))

		var decoded listing
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Len(t, decoded.Implementations, 3)
		assert.Len(t, decoded.Failures, 1)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeListing(&buf, l, "text"))
		assert.Contains(t, buf.String(), "External Runner")
		assert.NotContains(t, buf.String(), "runner v2")
		assert.Contains(t, buf.String(), "skipped ")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, writeListing(&bytes.Buffer{}, l, "xml"))
	})
}

func TestEntries(t *testing.T) {
	logger, _ = logtest.NewNullLogger()
	all := entries(snapshot(t))
	assert.Equal(t, []string{"Internal Plugin One", "Internal Plugin Two", "External Runner"}, menu.Labels(all))

	e, ok := menu.Find(all, "External Runner")
	require.True(t, ok)
	assert.NoError(t, e.Activate(context.Background()))
}
