package fingerprint

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	a := HashString("func add(a, b int) int { return a + b }")
	b := HashString("func add(a, b int) int { return a + b }")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashDiffersOnContent(t *testing.T) {
	a := HashString("one")
	b := HashString("two")
	assert.NotEqual(t, a, b)
}

func TestPointIDDeterministic(t *testing.T) {
	hash := HashString("identical content")
	id1 := PointID(hash)
	id2 := PointID(hash)
	assert.Equal(t, id1, id2)
}

func TestPointIDCollisionIsIntentional(t *testing.T) {
	// Two distinct paths with identical chunk content must map to the same
	// point id: that's invariant 3 (content-addressed immutability), not a bug.
	hash := HashString("shared body")
	assert.Equal(t, PointID(hash), PointID(hash))
}

func TestCodecRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		dim := 32 + rng.Intn(512)
		v := make([]float32, dim)
		for i := range v {
			v[i] = rng.Float32()*200 - 100
		}
		blob := CompressVector(v)
		got, err := DecompressVector(blob)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestCodecRoundTripNaN(t *testing.T) {
	v := []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)), 0, -0}
	blob := CompressVector(v)
	got, err := DecompressVector(blob)
	require.NoError(t, err)
	require.Equal(t, len(v), len(got))
	for i := range v {
		require.Equal(t, math.Float32bits(v[i]), math.Float32bits(got[i]))
	}
}

func TestCodecTruncatedBlobDetected(t *testing.T) {
	v := []float32{1, 2, 3, 4}
	blob := CompressVector(v)
	truncated := blob[:len(blob)-2]
	_, err := DecompressVector(truncated)
	require.Error(t, err)
}

func TestCodecEmptyBlobRejected(t *testing.T) {
	_, err := DecompressVector(nil)
	require.Error(t, err)
}

func TestCodecCompressionRatio(t *testing.T) {
	// Typical code-embedding vectors: smoothly varying floats compress well
	// under zstd; expect >=50% reduction for representative inputs.
	dim := 384
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(math.Sin(float64(i) * 0.01))
	}
	blob := CompressVector(v)
	assert.Less(t, len(blob), dim*4/2)
}
