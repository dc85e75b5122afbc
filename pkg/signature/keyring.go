// SPDX-License-Identifier: MPL-2.0

package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

type (
	// PublicKey is a trusted publisher key with its fingerprint.
	PublicKey struct {
		// Key is the raw 32-byte ed25519 public key.
		Key ed25519.PublicKey
		// Fingerprint is the first 16 hex characters of the key's
		// SHA-256, used to identify keys in logs and error messages.
		Fingerprint string
	}

	// Keyring holds the set of trusted publisher keys. Multiple keys
	// are supported so publishers can rotate keys without breaking
	// verification of packages signed with the previous one.
	Keyring struct {
		keys []PublicKey
	}
)

// NewPublicKey wraps a raw ed25519 public key, computing its fingerprint.
func NewPublicKey(key ed25519.PublicKey) PublicKey {
	return PublicKey{Key: key, Fingerprint: fingerprint(key)}
}

// ParsePublicKeyHex decodes a hex-encoded ed25519 public key, the form
// registries publish in package metadata.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("malformed public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return NewPublicKey(ed25519.PublicKey(raw)), nil
}

// Hex returns the key in the hex form registries publish.
func (p PublicKey) Hex() string {
	return hex.EncodeToString(p.Key)
}

// NewKeyring creates a keyring holding the given trusted keys.
func NewKeyring(keys ...PublicKey) *Keyring {
	return &Keyring{keys: slices.Clone(keys)}
}

// Add appends a trusted key to the ring.
func (k *Keyring) Add(pub PublicKey) {
	k.keys = append(k.keys, pub)
}

// Len returns the number of trusted keys.
func (k *Keyring) Len() int {
	return len(k.keys)
}

// Keys returns a copy of the trusted keys.
func (k *Keyring) Keys() []PublicKey {
	return slices.Clone(k.keys)
}

// Fingerprints returns the fingerprints of all trusted keys.
func (k *Keyring) Fingerprints() []string {
	fps := make([]string, 0, len(k.keys))
	for _, key := range k.keys {
		fps = append(fps, key.Fingerprint)
	}
	return fps
}

// Verify checks a detached signature over a 32-byte digest against the
// trusted keys. It succeeds if any key validates the signature. An
// empty keyring returns ErrNoTrustedKeys: verification is never skipped
// silently.
func (k *Keyring) Verify(target string, digest, sig []byte) error {
	if len(k.keys) == 0 {
		return ErrNoTrustedKeys
	}
	if len(digest) != sha256.Size {
		return &SignatureError{
			Target: target,
			Reason: fmt.Sprintf("digest is %d bytes, want %d", len(digest), sha256.Size),
		}
	}
	if len(sig) != ed25519.SignatureSize {
		return &SignatureError{
			Target: target,
			Reason: fmt.Sprintf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize),
		}
	}

	for _, key := range k.keys {
		if ed25519.Verify(key.Key, digest, sig) {
			return nil
		}
	}

	return &SignatureError{Target: target, Fingerprints: k.Fingerprints()}
}

// fingerprint returns the first 16 hex characters of SHA-256(key).
func fingerprint(key ed25519.PublicKey) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])[:16]
}
