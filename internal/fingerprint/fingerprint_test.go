package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeterministic(t *testing.T) {
	a := New("the quick brown fox jumps over the lazy dog")
	b := New("the quick brown fox jumps over the lazy dog")
	assert.Equal(t, a, b)
}

func TestJaccardIdentical(t *testing.T) {
	sig := New("some reasonably long piece of text about configuring servers")
	assert.Equal(t, 1.0, Jaccard(sig, sig))
}

func TestJaccardSimilarTexts(t *testing.T) {
	a := New("user prefers tabs over spaces in all go projects")
	b := New("user prefers tabs over spaces in all rust projects")
	c := New("completely unrelated sentence about marine biology and squid")

	simAB := Jaccard(a, b)
	simAC := Jaccard(a, c)
	assert.Greater(t, simAB, simAC, "near-duplicates should score above unrelated text")
	assert.Greater(t, simAB, 0.5)
	assert.Less(t, simAC, 0.3)
}

func TestJaccardCaseInsensitive(t *testing.T) {
	a := New("Remember To Check The Logs")
	b := New("remember to check the logs")
	assert.Equal(t, 1.0, Jaccard(a, b))
}

func TestBytesRoundTrip(t *testing.T) {
	sig := New("serialize me")
	raw := sig.Bytes()
	require.Len(t, raw, SerializedSize)

	back, err := FromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, sig, back)
}

func TestFromBytesBadLength(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadSignatureLength)
}

func TestShortText(t *testing.T) {
	// Shorter than the shingle width still produces a usable signature.
	a := New("ab")
	b := New("ab")
	assert.Equal(t, 1.0, Jaccard(a, b))
}
