// SPDX-License-Identifier: MPL-2.0

package signature

import (
	"crypto/ed25519"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// PEM block types for key files. Blocks carry the raw 32-byte key
// material directly, not a PKIX/PKCS#8 wrapping.
const (
	pemTypePublic  = "PUBLIC KEY"
	pemTypePrivate = "PRIVATE KEY"
)

// MarshalPublicKeyPEM encodes a public key as a PEM block.
func MarshalPublicKeyPEM(pub PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: pub.Key})
}

// ParsePublicKeyPEM decodes a PEM-encoded public key.
func ParsePublicKeyPEM(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return PublicKey{}, errors.New("no PEM block found in public key data")
	}
	if block.Type != pemTypePublic {
		return PublicKey{}, fmt.Errorf("unexpected PEM block type %q, want %q", block.Type, pemTypePublic)
	}
	if len(block.Bytes) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key is %d bytes, want %d", len(block.Bytes), ed25519.PublicKeySize)
	}
	return NewPublicKey(ed25519.PublicKey(block.Bytes)), nil
}

// MarshalPrivateKeyPEM encodes a private key as a PEM block holding the
// 32-byte seed.
func MarshalPrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: priv.Seed()}), nil
}

// ParsePrivateKeyPEM decodes a PEM-encoded private key seed.
func ParsePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in private key data")
	}
	if block.Type != pemTypePrivate {
		return nil, fmt.Errorf("unexpected PEM block type %q, want %q", block.Type, pemTypePrivate)
	}
	if len(block.Bytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed is %d bytes, want %d", len(block.Bytes), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(block.Bytes), nil
}

// SaveKeyPair writes both halves of a keypair as PEM files. The private
// key file is created with mode 0600; parent directories are created as
// needed.
func SaveKeyPair(privatePath, publicPath string, priv ed25519.PrivateKey, pub PublicKey) error {
	privPEM, err := MarshalPrivateKeyPEM(priv)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(privatePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating keys directory: %w", err)
		}
	}
	if err := os.WriteFile(privatePath, privPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	if dir := filepath.Dir(publicPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating keys directory: %w", err)
		}
	}
	if err := os.WriteFile(publicPath, MarshalPublicKeyPEM(pub), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadKeyPair reads a keypair from PEM files.
func LoadKeyPair(privatePath, publicPath string) (ed25519.PrivateKey, PublicKey, error) {
	privData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, PublicKey{}, fmt.Errorf("reading private key: %w", err)
	}
	priv, err := ParsePrivateKeyPEM(privData)
	if err != nil {
		return nil, PublicKey{}, err
	}

	pubData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, PublicKey{}, fmt.Errorf("reading public key: %w", err)
	}
	pub, err := ParsePublicKeyPEM(pubData)
	if err != nil {
		return nil, PublicKey{}, err
	}

	return priv, pub, nil
}

// LoadOrGenerateKeyPair loads a keypair when both files exist,
// otherwise generates a fresh one and saves it.
func LoadOrGenerateKeyPair(privatePath, publicPath string) (ed25519.PrivateKey, PublicKey, error) {
	_, privErr := os.Stat(privatePath)
	_, pubErr := os.Stat(publicPath)
	if privErr == nil && pubErr == nil {
		return LoadKeyPair(privatePath, publicPath)
	}

	slog.Info("no signing keys found, generating new ed25519 keypair",
		"private", privatePath, "public", publicPath)

	pub, priv, err := GenerateKey()
	if err != nil {
		return nil, PublicKey{}, err
	}
	if err := SaveKeyPair(privatePath, publicPath, priv, pub); err != nil {
		return nil, PublicKey{}, err
	}
	return priv, pub, nil
}
