// Package fingerprint computes MinHash signatures over character n-grams.
// Signatures support fast Jaccard similarity estimation between texts and
// serialize to a fixed-length byte string for storage alongside memories.
package fingerprint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// SignatureSize is the number of hash positions per signature.
	SignatureSize = 128
	// ShingleSize is the character n-gram width.
	ShingleSize = 3
	// SerializedSize is the byte length of a serialized signature.
	SerializedSize = SignatureSize * 4

	// mersennePrime is 2^61-1, used for the universal hash family.
	mersennePrime = (1 << 61) - 1

	// permutationSeed pins the hash family so signatures are comparable
	// across processes and releases.
	permutationSeed = 0x5eb00d
)

// ErrBadSignatureLength is returned when deserializing a byte string of the
// wrong size.
var ErrBadSignatureLength = errors.New("fingerprint: bad signature length")

// Signature is a fixed-length MinHash signature.
type Signature [SignatureSize]uint32

// permutation coefficients for the universal hash family h_i(x) = (a*x+b) mod p.
var permA, permB [SignatureSize]uint64

func init() {
	rng := rand.New(rand.NewSource(permutationSeed))
	for i := 0; i < SignatureSize; i++ {
		// a must be non-zero for the family to be universal.
		permA[i] = uint64(rng.Int63n(mersennePrime-1)) + 1
		permB[i] = uint64(rng.Int63n(mersennePrime))
	}
}

// New computes the MinHash signature of text. Texts shorter than the shingle
// width are treated as a single shingle.
func New(text string) Signature {
	var sig Signature
	for i := range sig {
		sig[i] = math.MaxUint32
	}

	normalized := strings.ToLower(text)
	shingles := shingle(normalized)
	for _, sh := range shingles {
		h := xxhash.Sum64String(sh) % mersennePrime
		for i := 0; i < SignatureSize; i++ {
			v := uint32(((permA[i]*h + permB[i]) % mersennePrime) & 0xFFFFFFFF)
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// FromBytes deserializes a signature previously produced by Bytes.
func FromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SerializedSize {
		return sig, fmt.Errorf("%w: got %d bytes, want %d", ErrBadSignatureLength, len(b), SerializedSize)
	}
	for i := 0; i < SignatureSize; i++ {
		sig[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return sig, nil
}

// Bytes serializes the signature as big-endian uint32s.
func (s Signature) Bytes() []byte {
	out := make([]byte, SerializedSize)
	for i, v := range s {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// Jaccard estimates the Jaccard similarity between two signatures as the
// fraction of positions on which they agree. The result is in [0, 1].
func Jaccard(a, b Signature) float64 {
	matches := 0
	for i := 0; i < SignatureSize; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(SignatureSize)
}

func shingle(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= ShingleSize {
		return []string{string(runes)}
	}
	seen := make(map[string]struct{}, len(runes))
	out := make([]string, 0, len(runes))
	for i := 0; i+ShingleSize <= len(runes); i++ {
		sh := string(runes[i : i+ShingleSize])
		if _, dup := seen[sh]; dup {
			continue
		}
		seen[sh] = struct{}{}
		out = append(out, sh)
	}
	return out
}
