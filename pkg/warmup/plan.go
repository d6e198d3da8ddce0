package warmup

// ByteRange is an inclusive byte span [Start, End] to prefetch.
type ByteRange struct {
	Start int64
	End   int64
}

// Plan derives the ordered prefetch ranges for a header prefix, per the
// format-specific rules: MP4 prefetches through the end of an
// in-prefix moov box, or falls back to head+tail if moov lives at EOF;
// Matroska/WebM and MPEG-TS prefetch the head chunk only (sequential
// formats with no trailing index); anything else gets head+tail.
func Plan(header []byte, contentLength, chunkSize int64) []ByteRange {
	format := Detect(header)

	headEnd := chunkSize
	if headEnd > contentLength {
		headEnd = contentLength
	}

	switch format {
	case FormatMP4:
		if moov, ok := FindMoovBox(header); ok {
			moovEnd := moov.Offset + moov.Size - 1
			end := moovEnd
			if end < chunkSize-1 {
				end = chunkSize - 1
			}
			if end > contentLength-1 {
				end = contentLength - 1
			}
			return []ByteRange{{Start: 0, End: end}}
		}
		return headAndTail(headEnd, contentLength, chunkSize)

	case FormatMatroska, FormatTransportStream:
		return []ByteRange{{Start: 0, End: headEnd - 1}}

	default:
		return headAndTail(headEnd, contentLength, chunkSize)
	}
}

func headAndTail(headEnd, contentLength, chunkSize int64) []ByteRange {
	ranges := []ByteRange{{Start: 0, End: headEnd - 1}}
	if contentLength > chunkSize {
		tailStart := contentLength - chunkSize
		if tailStart < 0 {
			tailStart = 0
		}
		ranges = append(ranges, ByteRange{Start: tailStart, End: contentLength - 1})
	}
	return ranges
}

// ChunkRange converts an inclusive byte range into the half-open chunk
// index span [lo, hi) it overlaps, per the construction-time conversion
// rule: [floor(rs/chunk_size), floor(re/chunk_size) + 1).
func ChunkRange(r ByteRange, chunkSize int64) (lo, hi int) {
	lo = int(r.Start / chunkSize)
	hi = int(r.End/chunkSize) + 1
	return lo, hi
}
