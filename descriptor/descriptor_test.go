package descriptor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := Module{Source: OnDisk, Name: "PluginA", Path: "/p/PluginA.wasm"}
	called := false
	d := New(m, "Foo", "", "PluginOne", func(ctx context.Context) (string, error) {
		called = true
		return "foo", nil
	})

	assert.Equal(t, "Foo", d.DisplayName)
	assert.Equal(t, Key{Module: "PluginA", Type: "Foo"}, d.Key())
	assert.Equal(t, "PluginA", d.Module.Identity())

	v, err := d.Factory()(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "foo", v)
	assert.True(t, called)
}

func TestSource_Text(t *testing.T) {
	data, err := json.Marshal(Module{Source: Resident, Name: "capscan"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"resident","name":"capscan"}`, string(data))

	var m Module
	require.NoError(t, json.Unmarshal([]byte(`{"source":"on-disk","name":"x"}`), &m))
	assert.Equal(t, OnDisk, m.Source)

	assert.Error(t, json.Unmarshal([]byte(`{"source":"cloud"}`), &m))
	assert.Equal(t, "unknown", Source(7).String())
}
