package trust

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/99designs/keyring"
)

const (
	publisherPrefix = "publisher:"
	signerPrefix    = "signer:"
)

// KeyringStore keeps publisher public keys and local signing keys in a keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the platform keyring for service.
func OpenKeyring(service string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an open keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// AddPublisher trusts modules signed by pub under name.
func (k *KeyringStore) AddPublisher(name string, pub ed25519.PublicKey) error {
	if name == "" {
		return errors.New("publisher name cannot be empty")
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid Ed25519 public key length: %d", len(pub))
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}

	err = k.ring.Set(keyring.Item{
		Key:   publisherPrefix + name,
		Data:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}),
		Label: "capscan publisher " + name,
	})
	if err != nil {
		return fmt.Errorf("failed to store publisher key in keyring: %w", err)
	}
	return nil
}

// RemovePublisher stops trusting name.
func (k *KeyringStore) RemovePublisher(name string) error {
	if err := k.ring.Remove(publisherPrefix + name); err != nil {
		return fmt.Errorf("failed to remove publisher %s: %w", name, err)
	}
	return nil
}

// Publishers lists trusted publisher names, sorted.
func (k *KeyringStore) Publishers() ([]string, error) {
	return k.names(publisherPrefix)
}

// PublicKeys returns every trusted publisher key by name.
func (k *KeyringStore) PublicKeys() (map[string]ed25519.PublicKey, error) {
	names, err := k.Publishers()
	if err != nil {
		return nil, err
	}

	keys := make(map[string]ed25519.PublicKey, len(names))
	for _, name := range names {
		item, err := k.ring.Get(publisherPrefix + name)
		if err != nil {
			return nil, fmt.Errorf("failed to get publisher %s from keyring: %w", name, err)
		}
		pub, err := ParsePublicKey(item.Data)
		if err != nil {
			return nil, fmt.Errorf("publisher %s: %w", name, err)
		}
		keys[name] = pub
	}
	return keys, nil
}

// SetSigningKey stores a private key used by Sign under name.
func (k *KeyringStore) SetSigningKey(name string, priv ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	err = k.ring.Set(keyring.Item{
		Key:   signerPrefix + name,
		Data:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		Label: "capscan signer " + name,
	})
	if err != nil {
		return fmt.Errorf("failed to store key in keyring: %w", err)
	}
	return nil
}

// SigningKey retrieves the private key stored under name.
func (k *KeyringStore) SigningKey(name string) (ed25519.PrivateKey, error) {
	item, err := k.ring.Get(signerPrefix + name)
	if err != nil {
		return nil, fmt.Errorf("failed to get key from keyring: %w", err)
	}
	return ParsePrivateKey(item.Data)
}

// Signers lists stored signing key names, sorted.
func (k *KeyringStore) Signers() ([]string, error) {
	return k.names(signerPrefix)
}

func (k *KeyringStore) names(prefix string) ([]string, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys from keyring: %w", err)
	}
	var names []string
	for _, key := range keys {
		if name, ok := strings.CutPrefix(key, prefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ParsePublicKey decodes a PEM "PUBLIC KEY" block holding an Ed25519 key.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not Ed25519")
	}
	return pub, nil
}

// ParsePrivateKey decodes a PEM PKCS8 block holding an Ed25519 key.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		if priv, ok := key.(ed25519.PrivateKey); ok {
			return priv, nil
		}
		return nil, fmt.Errorf("key is not Ed25519")
	}

	// Try raw Ed25519 private key (64 bytes)
	if len(block.Bytes) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(block.Bytes), nil
	}

	return nil, fmt.Errorf("failed to parse private key: unsupported format")
}

// EncodePublicKey renders pub as a PEM "PUBLIC KEY" block.
func EncodePublicKey(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
