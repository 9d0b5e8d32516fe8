package vba

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBadSignature reports a container that does not start with the
	// 0x01 compression signature byte.
	ErrBadSignature = errors.New("vba: invalid compression signature")
	// ErrCorruptCompression reports a chunk that cannot be decoded.
	ErrCorruptCompression = errors.New("vba: corrupt compressed container")
)

// Decompress decodes an MS-OVBA 2.4.1 compressed container. Module source
// and the dir stream are stored this way. Copy tokens reaching before the
// start of the current chunk are corruption, not a growable window.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != 0x01 {
		return nil, ErrBadSignature
	}
	var out []byte
	cur := 1

	for cur < len(data) {
		if cur+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated chunk header at %d", ErrCorruptCompression, cur)
		}
		header := binary.LittleEndian.Uint16(data[cur:])
		cur += 2
		chunkSize := int(header&0x0FFF) + 3
		compressed := header&0x8000 != 0

		chunkEnd := cur - 2 + chunkSize
		if chunkEnd > len(data) {
			chunkEnd = len(data)
		}

		if !compressed {
			// A raw chunk always carries 4096 literal bytes.
			if cur+4096 > len(data) {
				return nil, fmt.Errorf("%w: raw chunk truncated at %d", ErrCorruptCompression, cur)
			}
			out = append(out, data[cur:cur+4096]...)
			cur += 4096
			continue
		}

		chunkStart := len(out)
		for cur < chunkEnd {
			flags := data[cur]
			cur++
			for bit := 0; bit < 8 && cur < chunkEnd; bit++ {
				if flags&(1<<bit) == 0 {
					out = append(out, data[cur])
					cur++
					continue
				}
				if cur+2 > chunkEnd {
					return nil, fmt.Errorf("%w: truncated copy token at %d", ErrCorruptCompression, cur)
				}
				token := binary.LittleEndian.Uint16(data[cur:])
				cur += 2

				lengthMask, offsetMask, bits := copyTokenMasks(len(out) - chunkStart)
				length := int(token&lengthMask) + 3
				offset := int(token&offsetMask)>>(16-bits) + 1

				src := len(out) - offset
				if src < chunkStart {
					return nil, fmt.Errorf("%w: copy token reaches before chunk start", ErrCorruptCompression)
				}
				// Overlapping copies are the point: byte-by-byte extension.
				for i := 0; i < length; i++ {
					out = append(out, out[src+i])
				}
			}
		}
	}
	return out, nil
}

// copyTokenMasks computes the split of a copy token into length and offset
// fields; the split floats with how much of the chunk is already
// decompressed (MS-OVBA 2.4.1.3.19.3).
func copyTokenMasks(decompressed int) (lengthMask, offsetMask uint16, bits uint) {
	bits = 4
	for 1<<bits < decompressed {
		bits++
	}
	lengthMask = 0xFFFF >> bits
	offsetMask = ^lengthMask
	return lengthMask, offsetMask, bits
}

// CompressLiteral produces a compressed container holding data without
// actually compressing it, every token a literal. The chunk payload stays
// under 3640 bytes so the body (payload plus flag bytes) fits the 12-bit
// chunk size field. Handy for building test artifacts.
func CompressLiteral(data []byte) []byte {
	const stride = 3640
	out := []byte{0x01}
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		var body []byte
		for i := 0; i < len(chunk); i += 8 {
			body = append(body, 0x00) // flag byte: eight literals follow
			j := i + 8
			if j > len(chunk) {
				j = len(chunk)
			}
			body = append(body, chunk[i:j]...)
		}
		// Header: 12-bit (size-3) where size counts the header itself,
		// signature bits 0b011, compressed flag set.
		header := uint16(len(body)+2-3)&0x0FFF | 0x3000 | 0x8000
		out = binary.LittleEndian.AppendUint16(out, header)
		out = append(out, body...)
	}
	return out
}
