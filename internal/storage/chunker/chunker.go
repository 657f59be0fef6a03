// Package chunker holds the pure chunk arithmetic of the gateway:
// fixed-size split plans and byte-range resolution over an ordered
// chunk size list. No I/O happens here.
package chunker

import "errors"

var (
	// ErrInvalidChunkSize 分块大小必须为正
	ErrInvalidChunkSize = errors.New("chunker: chunk size must be positive")

	// ErrInvalidRange 请求区间超出文件范围
	ErrInvalidRange = errors.New("chunker: range out of bounds")
)

// Count 返回大小为 sizeBytes 的文件按 chunkSize 切分的块数。
// 空文件记为 0 块。
func Count(sizeBytes, chunkSize int64) int {
	if sizeBytes <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((sizeBytes + chunkSize - 1) / chunkSize)
}

// Sizes 返回每个块的字节数：除最后一块外均为 chunkSize，
// 最后一块为余数（整除时为完整一块）。
func Sizes(sizeBytes, chunkSize int64) []int64 {
	count := Count(sizeBytes, chunkSize)
	if count == 0 {
		return nil
	}

	sizes := make([]int64, count)
	for i := 0; i < count-1; i++ {
		sizes[i] = chunkSize
	}

	last := sizeBytes % chunkSize
	if last == 0 {
		last = chunkSize
	}
	sizes[count-1] = last

	return sizes
}

// SizeAt 返回第 index 块的字节数；index 越界时返回 0。
func SizeAt(sizeBytes, chunkSize int64, index int) int64 {
	count := Count(sizeBytes, chunkSize)
	if index < 0 || index >= count {
		return 0
	}
	if index < count-1 {
		return chunkSize
	}
	last := sizeBytes % chunkSize
	if last == 0 {
		last = chunkSize
	}
	return last
}
