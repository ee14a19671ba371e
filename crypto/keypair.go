package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

// NodeIDMask keeps the 40 bits of a node address.
const NodeIDMask = 0xffffffffff

// KeyPair is a Curve25519 key pair identifying a node.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}
	defer ZeroBytes(secret[:])
	return FromSecretKey(secret)
}

// FromSecretKey derives the key pair for an existing private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	pub, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], pub)
	return kp, nil
}

// NodeID derives the 40-bit node address from the public key. Addresses
// starting with 0xff and the zero address are reserved, so the digest is
// rehashed until a usable address appears.
func (kp *KeyPair) NodeID() uint64 {
	digest := blake2b.Sum512(kp.Public[:])
	for {
		var id uint64
		for _, b := range digest[59:64] {
			id = id<<8 | uint64(b)
		}
		if id != 0 && id>>32 != 0xff {
			return id
		}
		digest = blake2b.Sum512(digest[:])
	}
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
