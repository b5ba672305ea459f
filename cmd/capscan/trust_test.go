package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncooperworks/capscan/trust"
)

// useStore points the trust commands at an in-memory keyring.
func useStore(t *testing.T) *trust.KeyringStore {
	t.Helper()
	store := trust.NewKeyringStore(keyring.NewArrayKeyring(nil))
	prev := openStore
	openStore = func() (*trust.KeyringStore, error) { return store, nil }
	t.Cleanup(func() { openStore = prev })
	return store
}

// execute runs cmd with flags set and returns what it printed. Flags are
// reset afterwards since the commands are package globals.
func execute(t *testing.T, cmd *cobra.Command, flags map[string]string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	for name, value := range flags {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	defer func() {
		for name := range flags {
			f := cmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		cmd.SetOut(nil)
	}()

	err := cmd.RunE(cmd, args)
	return buf.String(), err
}

func writeModule(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("module "+name), 0o644))
	return path
}

func TestTrustKeygen(t *testing.T) {
	t.Run("stdout and trust", func(t *testing.T) {
		store := useStore(t)

		out, err := execute(t, trustKeygenCmd, map[string]string{"trust": "true"}, "release")
		require.NoError(t, err)

		pub, err := trust.ParsePublicKey([]byte(out))
		require.NoError(t, err)
		priv, err := store.SigningKey("release")
		require.NoError(t, err)
		assert.Equal(t, priv.Public(), pub)

		publishers, err := store.Publishers()
		require.NoError(t, err)
		assert.Equal(t, []string{"release"}, publishers)
	})

	t.Run("public key file", func(t *testing.T) {
		store := useStore(t)
		pubPath := filepath.Join(t.TempDir(), "ci.pem")

		out, err := execute(t, trustKeygenCmd, map[string]string{"public": pubPath}, "ci")
		require.NoError(t, err)
		assert.Contains(t, out, "Keyring ID: ci")
		assert.Contains(t, out, pubPath)

		data, err := os.ReadFile(pubPath)
		require.NoError(t, err)
		_, err = trust.ParsePublicKey(data)
		require.NoError(t, err)

		publishers, err := store.Publishers()
		require.NoError(t, err)
		assert.Empty(t, publishers)
		signers, err := store.Signers()
		require.NoError(t, err)
		assert.Equal(t, []string{"ci"}, signers)
	})
}

func TestTrustAddRemoveList(t *testing.T) {
	store := useStore(t)
	dir := t.TempDir()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	encoded, err := trust.EncodePublicKey(pub)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "acme.pem")
	require.NoError(t, os.WriteFile(pubPath, encoded, 0o644))

	out, err := execute(t, trustAddCmd, nil, "acme", pubPath)
	require.NoError(t, err)
	assert.Equal(t, "Publisher acme trusted\n", out)

	_, err = execute(t, trustKeygenCmd, nil, "local")
	require.NoError(t, err)

	out, err = execute(t, trustListCmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "Trusted publishers (1):\n  - acme\nSigning keys (1):\n  - local\n", out)

	_, err = execute(t, trustRemoveCmd, nil, "acme")
	require.NoError(t, err)
	publishers, err := store.Publishers()
	require.NoError(t, err)
	assert.Empty(t, publishers)

	t.Run("bad key file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.pem")
		require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
		_, err := execute(t, trustAddCmd, nil, "bad", bad)
		assert.Error(t, err)

		_, err = execute(t, trustAddCmd, nil, "bad", filepath.Join(dir, "missing.pem"))
		assert.Error(t, err)
	})
}

func TestTrustSignVerify(t *testing.T) {
	useStore(t)
	dir := t.TempDir()
	signed := writeModule(t, dir, "a.wasm")
	unsigned := writeModule(t, dir, "b.wasm")

	_, err := execute(t, trustKeygenCmd, map[string]string{"trust": "true"}, "release")
	require.NoError(t, err)

	out, err := execute(t, trustSignCmd, map[string]string{"key": "release"}, signed)
	require.NoError(t, err)
	assert.Equal(t, "Signed "+signed+" -> "+signed+".sig\n", out)
	assert.FileExists(t, trust.SignaturePath(signed))

	out, err = execute(t, trustVerifyCmd, nil, signed)
	require.NoError(t, err)
	assert.Contains(t, out, "OK        "+signed+" (signed by release, sha256 ")

	out, err = execute(t, trustVerifyCmd, nil, signed, unsigned)
	assert.EqualError(t, err, "1 of 2 modules are not trusted")
	assert.Contains(t, out, "UNTRUSTED "+unsigned)

	t.Run("key file", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		require.NoError(t, err)
		keyPath := filepath.Join(t.TempDir(), "key.pem")
		require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

		other := writeModule(t, dir, "c.wasm")
		_, err = execute(t, trustSignCmd, map[string]string{"key-file": keyPath}, other)
		require.NoError(t, err)

		// Signed, but not by a trusted publisher.
		out, err := execute(t, trustVerifyCmd, nil, other)
		assert.Error(t, err)
		assert.Contains(t, out, "UNTRUSTED "+other)
	})

	t.Run("no key", func(t *testing.T) {
		_, err := execute(t, trustSignCmd, nil, signed)
		assert.EqualError(t, err, "--key or --key-file is required")
	})

	t.Run("unknown keyring id", func(t *testing.T) {
		_, err := execute(t, trustSignCmd, map[string]string{"key": "nobody"}, signed)
		assert.Error(t, err)
	})
}
