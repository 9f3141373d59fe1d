package record

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/tv42/zbase32"
)

// PublicKeyLength is the size of an encoded public key in bytes.
const PublicKeyLength = ed25519.PublicKeySize

// ErrInvalidPublicKey is returned when a public key cannot be decoded.
var ErrInvalidPublicKey = errors.New("invalid public key")

// encodedKeyLength is the length of a public key in z-base32.
const encodedKeyLength = (PublicKeyLength*8 + 4) / 5

// PublicKey is an ed25519 public key. It is comparable and is used as the
// identity of a record.
type PublicKey [PublicKeyLength]byte

// PublicKeyFromBytes copies a 32 byte slice into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var key PublicKey
	if len(b) != PublicKeyLength {
		return key, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, PublicKeyLength, len(b))
	}
	copy(key[:], b)
	return key, nil
}

// ParsePublicKey decodes the z-base32 form of a public key. An optional
// "pk:" prefix is accepted.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "pk:")
	if len(s) != encodedKeyLength {
		return PublicKey{}, fmt.Errorf("%w: %q has the wrong length", ErrInvalidPublicKey, s)
	}
	b, err := zbase32.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return PublicKeyFromBytes(b)
}

// String returns the z-base32 encoding of the key.
func (k PublicKey) String() string {
	return zbase32.EncodeToString(k[:])
}

// Bytes returns a copy of the raw key bytes.
func (k PublicKey) Bytes() []byte {
	return append([]byte(nil), k[:]...)
}

func (k PublicKey) verify(message, signature []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k[:]), message, signature)
}

// Keypair holds an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// GenerateKeypair creates a new random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{private: private}, nil
}

// KeypairFromSeed derives a keypair from a 32 byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey returns the public half of the keypair.
func (kp *Keypair) PublicKey() PublicKey {
	var key PublicKey
	copy(key[:], kp.private.Public().(ed25519.PublicKey))
	return key
}

// Seed returns the 32 byte seed the keypair was derived from.
func (kp *Keypair) Seed() []byte {
	return kp.private.Seed()
}

func (kp *Keypair) sign(message []byte) []byte {
	return ed25519.Sign(kp.private, message)
}
