// Package crypto provides the primitive operations every vault event relies
// on: SHA-256 hashing, Ed25519 signing and verification over canonical bytes,
// and key-id derivation. Verification never panics; malformed input verifies
// as false.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// KeyIDPrefix tags every key id derived from a raw public key.
const KeyIDPrefix = "bp1_"

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}

// KeyIDFromPublicKey derives the short key id for a raw Ed25519 public key.
func KeyIDFromPublicKey(pub []byte) string {
	return KeyIDPrefix + SHA256Hex(pub)[:16]
}

// Keypair is a freshly generated Ed25519 signing identity. The private seed
// is the 32-byte Ed25519 seed, base64-encoded.
type Keypair struct {
	PrivateSeedB64 string `json:"private_seed_b64"`
	PublicKeyB64   string `json:"public_key_b64"`
	KeyID          string `json:"key_id"`
}

// GenerateKeypair creates a new Ed25519 keypair and its derived key id.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Keypair{
		PrivateSeedB64: base64.StdEncoding.EncodeToString(priv.Seed()),
		PublicKeyB64:   base64.StdEncoding.EncodeToString(pub),
		KeyID:          KeyIDFromPublicKey(pub),
	}, nil
}

// Sign signs data with a base64-encoded 32-byte Ed25519 seed. Ed25519 is
// deterministic: no RNG is consulted at signing time.
func Sign(data []byte, privateSeedB64 string) (string, error) {
	seed, err := base64.StdEncoding.DecodeString(privateSeedB64)
	if err != nil {
		return "", fmt.Errorf("invalid private seed encoding: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("private seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	sig := ed25519.Sign(priv, data)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks an Ed25519 signature. It returns false, never an error or
// panic, for malformed base64 or wrong-length keys and signatures.
func Verify(data []byte, sigB64, publicKeyB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return false
	}
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
