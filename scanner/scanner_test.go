package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.wasm"))
	touch(t, filepath.Join(dir, "a.wasm"))
	touch(t, filepath.Join(dir, "readme.txt"))
	touch(t, filepath.Join(dir, "nested", "deeper", "c.wasm"))
	touch(t, filepath.Join(dir, "nested", "notes.md"))

	tests := []struct {
		name      string
		pattern   string
		recursive bool
		want      []string
	}{
		{
			name:    "top level only",
			pattern: "*.wasm",
			want:    []string{"a.wasm", "b.wasm"},
		},
		{
			name:      "recursive",
			pattern:   "*.wasm",
			recursive: true,
			want:      []string{"a.wasm", "b.wasm", "nested/deeper/c.wasm"},
		},
		{
			name:      "brace pattern",
			pattern:   "{a,c}.wasm",
			recursive: true,
			want:      []string{"a.wasm", "nested/deeper/c.wasm"},
		},
		{
			name:      "no matches",
			pattern:   "*.so",
			recursive: true,
			want:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Scan(dir, tt.pattern, tt.recursive)
			require.NoError(t, err)

			want := make([]string, 0, len(tt.want))
			for _, rel := range tt.want {
				want = append(want, filepath.Join(dir, filepath.FromSlash(rel)))
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestScan_EmptyDirectory(t *testing.T) {
	got, err := Scan(t.TempDir(), "*.wasm", true)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestScan_RelativeDirectoryReturnsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.wasm"))
	t.Chdir(dir)

	got, err := Scan(".", "*.wasm", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, filepath.IsAbs(got[0]), "path %q is not absolute", got[0])
}

func TestScan_DirectoryNotFound(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.wasm")
	touch(t, file)

	_, err := Scan(filepath.Join(dir, "missing"), "*.wasm", true)
	assert.ErrorIs(t, err, ErrDirectoryNotFound)

	_, err = Scan(file, "*.wasm", true)
	assert.ErrorIs(t, err, ErrDirectoryNotFound)
}

func TestScan_InvalidPattern(t *testing.T) {
	_, err := Scan(t.TempDir(), "[", true)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDirectoryNotFound)
}
