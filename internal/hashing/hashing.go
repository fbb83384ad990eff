// Package hashing implements the domain-separated hash and signature
// primitives the rest of the storage engine is built on.
package hashing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

const (
	// LeafDomain prefixes every leaf hash to separate it from internal nodes.
	LeafDomain = 0x00
	// InternalDomain prefixes every internal-node hash.
	InternalDomain = 0x01

	// HashSize is the size of a SHA-256 digest in bytes.
	HashSize = 32
	// SignatureSize is the size of an Ed25519 signature in bytes.
	SignatureSize = ed25519.SignatureSize
	// PublicKeySize is the size of an Ed25519 public key in bytes.
	PublicKeySize = ed25519.PublicKeySize
)

// ErrInvalidPublicKey is returned when a public key is not exactly 32 bytes
// long.
var ErrInvalidPublicKey = errors.New("hashing: invalid ed25519 public key")

// LeafHash computes SHA256(0x00 || content), the leaf domain of the tree.
func LeafHash(content []byte) [HashSize]byte {
	h := sha256.New()
	h.Write([]byte{LeafDomain})
	h.Write(content)
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PairHash computes SHA256(0x01 || left || right), the internal-node domain.
// Using a distinct prefix from LeafHash defeats second-preimage attacks that
// try to pass an internal node off as a leaf (or vice versa).
func PairHash(left, right [HashSize]byte) [HashSize]byte {
	h := sha256.New()
	h.Write([]byte{InternalDomain})
	h.Write(left[:])
	h.Write(right[:])
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ClientID derives the lowercase hex client identifier from a raw Ed25519
// public key: hex(SHA256(pk)).
func ClientID(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// ParsePublicKey checks that b is exactly 32 bytes long and returns a copy of
// it as an Ed25519 public key. Only the length is checked; the bytes are not
// decoded as a curve point.
func ParsePublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	pk := make(ed25519.PublicKey, PublicKeySize)
	copy(pk, b)
	return pk, nil
}

// ParseSignature validates that b is exactly a 64-byte Ed25519 signature.
func ParseSignature(b []byte) ([]byte, error) {
	if len(b) != SignatureSize {
		return nil, errors.New("hashing: invalid signature length")
	}
	return b, nil
}

// Sign signs msg with an Ed25519 private key.
func Sign(privateKey ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(privateKey, msg)
}

// Verify checks an Ed25519 signature over msg with constant-time comparison
// internally performed by crypto/ed25519.
func Verify(publicKey ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(publicKey, msg, sig)
}

// ConstantTimeEqual compares two hashes without leaking timing information.
func ConstantTimeEqual(a, b [HashSize]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// HexEncode renders a 32-byte hash as lowercase hex.
func HexEncode(h [HashSize]byte) string {
	return hex.EncodeToString(h[:])
}

// HexDecode parses a 64-char hex string into a 32-byte hash.
func HexDecode(s string) ([HashSize]byte, error) {
	var out [HashSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != HashSize {
		return out, errors.New("hashing: expected 32-byte hash")
	}
	copy(out[:], b)
	return out, nil
}
