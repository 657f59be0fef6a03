package service

import (
	"errors"
	"strconv"
	"strings"
)

var errInvalidRangeHeader = errors.New("invalid range header")

// parseRangeHeader parses a single "bytes=..." Range header against the
// file size and returns an inclusive [start, end] pair. Multi-range
// requests are rejected: chunks would have to be fetched once per part,
// which defeats the per-credential rate budget.
func parseRangeHeader(header string, size int64) (int64, int64, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, errInvalidRangeHeader
	}
	spec := strings.TrimPrefix(header, prefix)

	if strings.Contains(spec, ",") {
		return 0, 0, errInvalidRangeHeader
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, errInvalidRangeHeader
	}
	startPart := strings.TrimSpace(spec[:dash])
	endPart := strings.TrimSpace(spec[dash+1:])

	if size == 0 {
		return 0, 0, errInvalidRangeHeader
	}

	// 后缀区间：bytes=-N 表示最后 N 字节
	if startPart == "" {
		if endPart == "" {
			return 0, 0, errInvalidRangeHeader
		}
		n, err := strconv.ParseInt(endPart, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, errInvalidRangeHeader
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, errInvalidRangeHeader
	}

	// 开放区间：bytes=N- 到文件末尾
	if endPart == "" {
		return start, size - 1, nil
	}

	end, err := strconv.ParseInt(endPart, 10, 64)
	if err != nil || end < start {
		return 0, 0, errInvalidRangeHeader
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
