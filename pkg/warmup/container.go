// Package warmup derives container-format-aware prefetch plans from the
// leading bytes of a media file (spec component C4).
package warmup

import "encoding/binary"

// Format identifies the container family detected from a header prefix.
type Format int

const (
	FormatUnknown Format = iota
	FormatMP4
	FormatMatroska
	FormatTransportStream
	FormatISO9660
	FormatUDF
)

// isoProbeOffset is the fixed byte offset of the ISO 9660 / UDF volume
// descriptor area, independent of chunk size.
const isoProbeOffset = 32768

// Detect classifies a header prefix (the first min(chunk_size, 32 KiB)
// bytes of the file) into a Format. It never inspects bytes beyond the
// ISO probe offset; call DetectISO separately against a dedicated
// out-of-band fetch at isoProbeOffset.
func Detect(header []byte) Format {
	if len(header) >= 8 && string(header[4:8]) == "ftyp" {
		return FormatMP4
	}
	if len(header) >= 4 && header[0] == 0x1A && header[1] == 0x45 && header[2] == 0xDF && header[3] == 0xA3 {
		return FormatMatroska
	}
	if len(header) > 188 && header[0] == 0x47 && header[188] == 0x47 {
		return FormatTransportStream
	}
	return FormatUnknown
}

// ISOProbeOffset returns the fixed offset callers must fetch 2048 bytes
// from to drive DetectISO.
func ISOProbeOffset() int64 { return isoProbeOffset }

// DetectISO classifies a 2048-byte volume-descriptor sector read from
// ISOProbeOffset. It returns FormatUnknown if neither signature matches.
func DetectISO(sector []byte) Format {
	if len(sector) < 6 {
		return FormatUnknown
	}
	id := string(sector[1:6])
	switch id {
	case "CD001":
		return FormatISO9660
	case "BEA01", "NSR02", "NSR03":
		return FormatUDF
	default:
		return FormatUnknown
	}
}

// MoovBox is the location of an MP4 "moov" box found within a header
// prefix.
type MoovBox struct {
	Offset int64
	Size   int64
}

// FindMoovBox scans top-level MP4 boxes within header for a "moov" box,
// returning its offset and size if its 8-byte header lies within the
// scanned prefix; the box itself may extend past the prefix. Box sizes follow the standard 32-bit big-endian encoding, with
// size==1 indicating a 64-bit extended size follows at bytes 8..16 and
// size==0 indicating the box extends to EOF.
func FindMoovBox(header []byte) (MoovBox, bool) {
	length := int64(len(header))
	var offset int64

	for offset+8 <= length {
		pos := offset
		size32 := int64(binary.BigEndian.Uint32(header[pos : pos+4]))
		atomType := string(header[pos+4 : pos+8])

		var atomSize int64
		switch {
		case size32 == 1:
			if offset+16 > length {
				return MoovBox{}, false
			}
			atomSize = int64(binary.BigEndian.Uint64(header[pos+8 : pos+16]))
		case size32 == 0:
			atomSize = length - offset
		default:
			atomSize = size32
		}

		if atomType == "moov" {
			return MoovBox{Offset: offset, Size: atomSize}, true
		}
		if atomSize <= 0 {
			return MoovBox{}, false
		}
		offset += atomSize
	}

	return MoovBox{}, false
}
