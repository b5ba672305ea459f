// Package trust checks detached publisher signatures on candidate modules
// before they are inspected.
//
// A module at path is signed by an Ed25519 signature stored base64-encoded in
// path+".sig". The signed message is "capscan-module-v1\x00" followed by the
// SHA-256 digest of the module file.
package trust

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

// ErrUntrusted is returned for modules without a valid trusted signature.
var ErrUntrusted = errors.New("module is not trusted")

const signatureContext = "capscan-module-v1\x00"

// Verified describes a module signature that checked out.
type Verified struct {
	Publisher string
	// Digest is the hex SHA-256 of the exact bytes the signature covered.
	Digest string
}

// Verifier decides whether a candidate module may be inspected. Callers must
// only use file contents whose digest equals the returned Digest.
type Verifier interface {
	Verify(ctx context.Context, path string) (Verified, error)
}

// KeySource supplies trusted publisher keys.
type KeySource interface {
	PublicKeys() (map[string]ed25519.PublicKey, error)
}

// SignaturePath returns the location of the detached signature for path.
func SignaturePath(path string) string {
	return path + ".sig"
}

func message(sum [sha256.Size]byte) []byte {
	return append([]byte(signatureContext), sum[:]...)
}

// Sign signs the module at path with priv and writes the detached signature.
// It returns the signature path.
func Sign(priv ed25519.PrivateKey, path string) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid Ed25519 private key length: %d", len(priv))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read module: %w", err)
	}

	sig := ed25519.Sign(priv, message(sha256.Sum256(data)))
	sigPath := SignaturePath(path)
	encoded := base64.StdEncoding.EncodeToString(sig) + "\n"
	if err := os.WriteFile(sigPath, []byte(encoded), 0o644); err != nil {
		return "", fmt.Errorf("failed to write signature: %w", err)
	}
	return sigPath, nil
}

// SignatureVerifier accepts modules signed by any key from its KeySource.
type SignatureVerifier struct {
	keys KeySource
}

// NewSignatureVerifier creates a verifier backed by keys.
func NewSignatureVerifier(keys KeySource) *SignatureVerifier {
	return &SignatureVerifier{keys: keys}
}

// Verify reports which trusted publisher signed the module at path and the
// digest of the bytes it checked. The error wraps ErrUntrusted if no trusted
// publisher did.
func (v *SignatureVerifier) Verify(ctx context.Context, path string) (Verified, error) {
	encoded, err := os.ReadFile(SignaturePath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Verified{}, fmt.Errorf("%w: %s is unsigned", ErrUntrusted, path)
		}
		return Verified{}, fmt.Errorf("failed to read signature: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(encoded)))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Verified{}, fmt.Errorf("%w: %s has a malformed signature", ErrUntrusted, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Verified{}, fmt.Errorf("failed to read module: %w", err)
	}

	keys, err := v.keys.PublicKeys()
	if err != nil {
		return Verified{}, fmt.Errorf("failed to load publisher keys: %w", err)
	}

	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	sum := sha256.Sum256(data)
	msg := message(sum)
	for _, name := range names {
		if ed25519.Verify(keys[name], msg, sig) {
			return Verified{Publisher: name, Digest: hex.EncodeToString(sum[:])}, nil
		}
	}
	return Verified{}, fmt.Errorf("%w: %s is not signed by a trusted publisher", ErrUntrusted, path)
}
