package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name      string
		sizeBytes int64
		chunkSize int64
		want      int
	}{
		{"empty file", 0, 100, 0},
		{"smaller than one chunk", 45, 100, 1},
		{"exactly one chunk", 100, 100, 1},
		{"one byte over", 101, 100, 2},
		{"exactly divisible", 300, 100, 3},
		{"45 MiB at 20 MiB chunks", 45 * 1024 * 1024, 20 * 1024 * 1024, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Count(tt.sizeBytes, tt.chunkSize))
		})
	}
}

func TestSizes(t *testing.T) {
	t.Run("remainder in last chunk", func(t *testing.T) {
		assert.Equal(t, []int64{100, 100, 50}, Sizes(250, 100))
	})

	t.Run("exactly divisible keeps full last chunk", func(t *testing.T) {
		assert.Equal(t, []int64{100, 100}, Sizes(200, 100))
	})

	t.Run("single partial chunk", func(t *testing.T) {
		assert.Equal(t, []int64{7}, Sizes(7, 100))
	})

	t.Run("empty file", func(t *testing.T) {
		assert.Nil(t, Sizes(0, 100))
	})

	t.Run("45 MiB reference scenario", func(t *testing.T) {
		mib := int64(1024 * 1024)
		sizes := Sizes(45*mib, 20*mib)
		assert.Equal(t, []int64{20 * mib, 20 * mib, 5 * mib}, sizes)
	})
}

func TestSizesSumToTotal(t *testing.T) {
	for _, sizeBytes := range []int64{1, 99, 100, 101, 250, 999, 1000, 1001} {
		var total int64
		for _, s := range Sizes(sizeBytes, 100) {
			total += s
		}
		assert.Equal(t, sizeBytes, total, "size %d", sizeBytes)
	}
}

func TestSizeAt(t *testing.T) {
	assert.Equal(t, int64(100), SizeAt(250, 100, 0))
	assert.Equal(t, int64(100), SizeAt(250, 100, 1))
	assert.Equal(t, int64(50), SizeAt(250, 100, 2))
	assert.Equal(t, int64(0), SizeAt(250, 100, 3))
	assert.Equal(t, int64(0), SizeAt(250, 100, -1))
	assert.Equal(t, int64(100), SizeAt(200, 100, 1))
}
