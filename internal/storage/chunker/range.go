package chunker

// Slice 描述读取一个全局字节区间时，需要从某块内截取的本地区间。
// LocalStart/LocalEnd 为块内坐标，闭区间。
type Slice struct {
	Index      int
	LocalStart int64
	LocalEnd   int64
}

// ResolveRange 将全局闭区间 [start, end] 映射为按块序号排列的本地切片。
// chunkSizes 为按序的块大小列表。区间越界时返回 ErrInvalidRange。
func ResolveRange(chunkSizes []int64, start, end int64) ([]Slice, error) {
	var total int64
	for _, size := range chunkSizes {
		total += size
	}

	if start < 0 || end < start || end >= total {
		return nil, ErrInvalidRange
	}

	var slices []Slice
	var offset int64

	for i, size := range chunkSizes {
		chunkStart := offset
		chunkEnd := offset + size - 1
		offset += size

		if chunkEnd < start {
			continue
		}
		if chunkStart > end {
			break
		}

		local := Slice{Index: i, LocalStart: 0, LocalEnd: size - 1}
		if start > chunkStart {
			local.LocalStart = start - chunkStart
		}
		if end < chunkEnd {
			local.LocalEnd = end - chunkStart
		}
		slices = append(slices, local)
	}

	return slices, nil
}
