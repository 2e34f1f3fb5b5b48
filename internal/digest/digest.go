// Package digest provides the fixed-width, one-way hash used to identify
// blocks and to link each block to its predecessor.
//
// All supported algorithms produce 256-bit digests, so a Digest is a plain
// value type that can be compared with ==.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Size is the number of bytes in a digest.
const Size = 32

// Digest is a 256-bit block hash.
type Digest [Size]byte

// Zero is the sentinel previous digest carried by the genesis block.
var Zero Digest

// ErrUnknownAlgorithm is returned for an algorithm name or ID that is not supported.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

// String returns the lowercase hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the genesis sentinel.
func (d Digest) IsZero() bool {
	return d == Zero
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	buf := make([]byte, hex.EncodedLen(Size))
	hex.Encode(buf, d[:])
	return buf, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(Size) {
		return fmt.Errorf("digest: expected %d hex characters, got %d", hex.EncodedLen(Size), len(text))
	}
	if _, err := hex.Decode(d[:], text); err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	return nil
}

// FromBytes copies b into a Digest. b must be exactly Size bytes long.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("digest: expected %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Algorithm identifies a hash function.
type Algorithm uint8

const (
	SHA256 Algorithm = iota + 1
	SHA3_256
	BLAKE2b256
)

var algorithmNames = map[Algorithm]string{
	SHA256:     "sha256",
	SHA3_256:   "sha3-256",
	BLAKE2b256: "blake2b-256",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// Valid reports whether a names a supported algorithm.
func (a Algorithm) Valid() bool {
	_, ok := algorithmNames[a]
	return ok
}

// Parse resolves a configuration name such as "sha256" to an Algorithm.
func Parse(name string) (Algorithm, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range algorithmNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Hasher computes digests over canonical block bytes. Implementations are
// stateless and safe for concurrent use.
type Hasher interface {
	Sum(data []byte) Digest
	Algorithm() Algorithm
}

// New returns the Hasher for a.
func New(a Algorithm) (Hasher, error) {
	switch a {
	case SHA256:
		return sha256Hasher{}, nil
	case SHA3_256:
		return sha3Hasher{}, nil
	case BLAKE2b256:
		return blake2bHasher{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, a)
	}
}

// Default returns the SHA-256 hasher.
func Default() Hasher {
	return sha256Hasher{}
}

type sha256Hasher struct{}

func (sha256Hasher) Sum(data []byte) Digest { return sha256.Sum256(data) }
func (sha256Hasher) Algorithm() Algorithm   { return SHA256 }

type sha3Hasher struct{}

func (sha3Hasher) Sum(data []byte) Digest { return sha3.Sum256(data) }
func (sha3Hasher) Algorithm() Algorithm   { return SHA3_256 }

type blake2bHasher struct{}

func (blake2bHasher) Sum(data []byte) Digest { return blake2b.Sum256(data) }
func (blake2bHasher) Algorithm() Algorithm   { return BLAKE2b256 }
