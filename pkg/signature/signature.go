// SPDX-License-Identifier: MPL-2.0

// Package signature implements ed25519 package signing and verification.
//
// The signed message is the raw 32-byte SHA-256 digest of a package
// tarball, the same digest the hex checksum encodes. Registries serve
// detached 64-byte signatures alongside tarballs; installers verify
// them against a [Keyring] of trusted publisher keys before anything is
// unpacked. Verification has no implicit success path: an empty keyring
// refuses to verify rather than waving packages through.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSignatureInvalid indicates that no trusted key validates the
	// signature over the digest.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrNoTrustedKeys indicates verification was attempted with an
	// empty keyring.
	ErrNoTrustedKeys = errors.New("no trusted keys configured")
)

// SignatureError provides details about a signature verification
// failure. It wraps ErrSignatureInvalid so callers can use errors.Is
// for classification.
type SignatureError struct {
	// Target names what was being verified, e.g. "awesome-plugin@1.2.0".
	Target string
	// Fingerprints lists the trusted keys that were tried.
	Fingerprints []string
	// Reason carries extra detail for structurally invalid input.
	Reason string
}

// Error returns a human-readable description of the failure, naming
// the keys that were tried so operators can spot stale keyrings.
func (e *SignatureError) Error() string {
	msg := "signature verification failed"
	if e.Target != "" {
		msg += " for " + e.Target
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.Fingerprints) > 0 {
		msg += fmt.Sprintf(" (trusted keys: %s)", strings.Join(e.Fingerprints, ", "))
	}
	return msg
}

// Unwrap returns ErrSignatureInvalid so callers can use errors.Is.
func (e *SignatureError) Unwrap() error { return ErrSignatureInvalid }

// DigestFromChecksum decodes a hex SHA-256 checksum into the raw
// 32-byte digest that signatures are computed over. Both uppercase and
// lowercase hex are accepted.
func DigestFromChecksum(checksum string) ([]byte, error) {
	digest, err := hex.DecodeString(checksum)
	if err != nil {
		return nil, fmt.Errorf("malformed checksum %q: %w", checksum, err)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("checksum %q decodes to %d bytes, want %d", checksum, len(digest), sha256.Size)
	}
	return digest, nil
}

// GenerateKey creates a new ed25519 keypair for package signing.
func GenerateKey() (PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, nil, fmt.Errorf("generating keypair: %w", err)
	}
	return NewPublicKey(pub), priv, nil
}

// Sign produces a detached 64-byte signature over a 32-byte digest.
func Sign(priv ed25519.PrivateKey, digest []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("digest is %d bytes, want %d", len(digest), sha256.Size)
	}
	return ed25519.Sign(priv, digest), nil
}
