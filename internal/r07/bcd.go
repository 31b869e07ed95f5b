package r07

// BCD4ToInt decodes a 4-byte (8-digit) BCD field, high nibble first.
// Invalid nibbles (>= 10) are treated as 0, matching the original firmware's
// tolerant decoder.
func BCD4ToInt(b [4]byte) uint32 {
	var v uint32
	for _, by := range b {
		hi := by >> 4
		lo := by & 0x0F
		v = v*10 + uint32(bcdDigit(hi))
		v = v*10 + uint32(bcdDigit(lo))
	}
	return v
}

// BCD5ToInt decodes a 5-byte (10-digit) BCD field, high nibble first.
func BCD5ToInt(b [5]byte) uint64 {
	var v uint64
	for _, by := range b {
		hi := by >> 4
		lo := by & 0x0F
		v = v*10 + uint64(bcdDigit(hi))
		v = v*10 + uint64(bcdDigit(lo))
	}
	return v
}

func bcdDigit(nibble byte) byte {
	if nibble >= 10 {
		return 0
	}
	return nibble
}

// IntToBCD4 encodes value (0..99_999_999) into a 4-byte BCD field,
// high nibble first. Overflow is clamped to the maximum representable
// value rather than wrapping.
func IntToBCD4(value uint32) [4]byte {
	const max = 99_999_999
	if value > max {
		value = max
	}

	digits := [8]byte{}
	for i := 7; i >= 0; i-- {
		digits[i] = byte(value % 10)
		value /= 10
	}

	var out [4]byte
	for i := 0; i < 4; i++ {
		out[i] = (digits[2*i] << 4) | digits[2*i+1]
	}
	return out
}

// BCDFromVolumeLiters scales liters by 100 (two implicit decimals) and
// rounds to the nearest integer before BCD encoding, matching the pump's
// preset-volume wire format.
func BCDFromVolumeLiters(liters float64) [4]byte {
	raw := uint32(liters*100 + 0.5)
	return IntToBCD4(raw)
}
