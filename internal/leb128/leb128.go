// Package leb128 decodes the LEB128 variable-length integers used
// throughout the Wasm binary format, bounded so a truncated or hostile
// module can never read past a caller-supplied byte slice.
package leb128

import "github.com/dtvmgo/dtvm/internal/werr"

// maxBytes returns the maximum number of LEB128 groups needed to encode a
// value of the given bit width: ceil(bits/7), per the Wasm spec's
// bound on "integer representation too long".
func maxBytes(bits int) int {
	return (bits + 6) / 7
}

// Uint32 decodes an unsigned LEB128 into a uint32, returning the value and
// the number of bytes consumed.
func Uint32(buf []byte) (uint32, int, *werr.Error) {
	v, n, err := readUvarint(buf, 32)
	return uint32(v), n, err
}

// Uint64 decodes an unsigned LEB128 into a uint64.
func Uint64(buf []byte) (uint64, int, *werr.Error) {
	return readUvarint(buf, 64)
}

// Int32 decodes a signed, sign-extended LEB128 into an int32.
func Int32(buf []byte) (int32, int, *werr.Error) {
	v, n, err := readVarint(buf, 32)
	return int32(v), n, err
}

// Int64 decodes a signed, sign-extended LEB128 into an int64.
func Int64(buf []byte) (int64, int, *werr.Error) {
	return readVarint(buf, 64)
}

func readUvarint(buf []byte, bits int) (uint64, int, *werr.Error) {
	limit := maxBytes(bits)
	var result uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= limit {
			return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLong)
		}
		if i >= len(buf) {
			return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLong).WithExtra("unexpected end of buffer")
		}
		b := buf[i]
		hasMore := b&0x80 != 0
		chunk := uint64(b & 0x7f)

		// Last allowed byte: its value bits beyond `bits` must all be zero,
		// and its continuation bit must be clear.
		if i == limit-1 {
			usedBits := bits - int(shift)
			if usedBits < 7 {
				mask := byte(0x7f &^ ((1 << uint(usedBits)) - 1))
				if b&mask != 0 {
					return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLarge)
				}
			}
			if hasMore {
				return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLong)
			}
		}

		result |= chunk << shift
		shift += 7
		if !hasMore {
			return result, i + 1, nil
		}
	}
}

func readVarint(buf []byte, bits int) (int64, int, *werr.Error) {
	limit := maxBytes(bits)
	var result int64
	var shift uint
	var b byte
	i := 0
	for {
		if i >= limit {
			return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLong)
		}
		if i >= len(buf) {
			return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLong).WithExtra("unexpected end of buffer")
		}
		b = buf[i]
		chunk := int64(b & 0x7f)
		hasMore := b&0x80 != 0

		if i == limit-1 {
			usedBits := bits - int(shift)
			if usedBits < 7 {
				payload := b & 0x7f
				extraMask := byte(0x7f &^ ((1 << uint(usedBits)) - 1))
				signBitSet := payload&(1<<uint(usedBits-1)) != 0
				extra := payload & extraMask
				if (signBitSet && extra != extraMask) || (!signBitSet && extra != 0) {
					return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLarge)
				}
			}
			if hasMore {
				return 0, 0, werr.New(werr.PhaseLoad, werr.KindLEBIntTooLong)
			}
		}

		result |= chunk << shift
		shift += 7
		i++
		if !hasMore {
			break
		}
	}
	// Sign-extend the final group into the high bits.
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i, nil
}

// Fixed32 reads 4 little-endian bytes, used for f32.const immediates and
// similar fixed-width encodings.
func Fixed32(buf []byte) (uint32, int, *werr.Error) {
	if len(buf) < 4 {
		return 0, 0, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow).WithExtra("truncated fixed32")
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, 4, nil
}

// Fixed64 reads 8 little-endian bytes, used for f64.const immediates.
func Fixed64(buf []byte) (uint64, int, *werr.Error) {
	if len(buf) < 8 {
		return 0, 0, werr.New(werr.PhaseLoad, werr.KindSectionSizeOverflow).WithExtra("truncated fixed64")
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v, 8, nil
}
