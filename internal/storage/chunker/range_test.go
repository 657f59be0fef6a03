package chunker

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRangeSingleChunk(t *testing.T) {
	slices, err := ResolveRange([]int64{100, 100, 50}, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, []Slice{{Index: 0, LocalStart: 10, LocalEnd: 20}}, slices)
}

func TestResolveRangeSpansChunkBoundary(t *testing.T) {
	slices, err := ResolveRange([]int64{100, 100, 50}, 90, 110)
	require.NoError(t, err)
	assert.Equal(t, []Slice{
		{Index: 0, LocalStart: 90, LocalEnd: 99},
		{Index: 1, LocalStart: 0, LocalEnd: 10},
	}, slices)
}

func TestResolveRangeFullFile(t *testing.T) {
	slices, err := ResolveRange([]int64{100, 100, 50}, 0, 249)
	require.NoError(t, err)
	assert.Equal(t, []Slice{
		{Index: 0, LocalStart: 0, LocalEnd: 99},
		{Index: 1, LocalStart: 0, LocalEnd: 99},
		{Index: 2, LocalStart: 0, LocalEnd: 49},
	}, slices)
}

func TestResolveRangeSingleByte(t *testing.T) {
	t.Run("first byte", func(t *testing.T) {
		slices, err := ResolveRange([]int64{100, 50}, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []Slice{{Index: 0, LocalStart: 0, LocalEnd: 0}}, slices)
	})

	t.Run("last byte", func(t *testing.T) {
		slices, err := ResolveRange([]int64{100, 50}, 149, 149)
		require.NoError(t, err)
		assert.Equal(t, []Slice{{Index: 1, LocalStart: 49, LocalEnd: 49}}, slices)
	})

	t.Run("exactly on boundary", func(t *testing.T) {
		slices, err := ResolveRange([]int64{100, 50}, 100, 100)
		require.NoError(t, err)
		assert.Equal(t, []Slice{{Index: 1, LocalStart: 0, LocalEnd: 0}}, slices)
	})
}

func TestResolveRangeEndsOnBoundary(t *testing.T) {
	slices, err := ResolveRange([]int64{100, 100, 50}, 50, 99)
	require.NoError(t, err)
	assert.Equal(t, []Slice{{Index: 0, LocalStart: 50, LocalEnd: 99}}, slices)
}

func TestResolveRangeInvalid(t *testing.T) {
	sizes := []int64{100, 50}

	_, err := ResolveRange(sizes, -1, 10)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ResolveRange(sizes, 20, 10)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ResolveRange(sizes, 0, 150)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ResolveRange(nil, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

// TestResolveRangeRandomized reconstructs random ranges by slicing a
// reference payload chunk by chunk and compares against a direct slice.
func TestResolveRangeRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		payloadLen := rng.Intn(2000) + 1
		chunkSize := int64(rng.Intn(256) + 1)

		payload := make([]byte, payloadLen)
		rng.Read(payload)

		sizes := Sizes(int64(payloadLen), chunkSize)

		// Cut the payload into chunks once.
		chunks := make([][]byte, len(sizes))
		var offset int64
		for i, size := range sizes {
			chunks[i] = payload[offset : offset+size]
			offset += size
		}

		start := int64(rng.Intn(payloadLen))
		end := start + int64(rng.Intn(payloadLen-int(start)))

		slices, err := ResolveRange(sizes, start, end)
		require.NoError(t, err)

		var got []byte
		for _, s := range slices {
			got = append(got, chunks[s.Index][s.LocalStart:s.LocalEnd+1]...)
		}

		require.Equal(t, payload[start:end+1], got,
			"len=%d chunkSize=%d start=%d end=%d", payloadLen, chunkSize, start, end)
	}
}
