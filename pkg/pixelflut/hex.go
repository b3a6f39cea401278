package pixelflut

// shiftPattern places each of 8 decoded hex nibbles into a 32-bit
// accumulator so that digit pairs (0,1), (2,3), (4,5), (6,7) land on
// byte boundaries 0, 8, 16, 24 respectively. Grounded in the Rust
// original's SIMD_UNHEX shift table; the ordering is what lets a
// 6-digit "rrggbb" and an 8-digit "rrggbbaa" share one decode path.
var shiftPattern = [8]uint{4, 0, 12, 8, 20, 16, 28, 24}

// unhexNibble returns the numeric value of a single ASCII hex digit.
// It does not validate its input: callers only reach it from inside
// the lookahead guard, where a non-hex byte just produces a wrong (but
// harmless) nibble that a malformed command discards anyway.
func unhexNibble(c byte) uint32 {
	v := uint32(c) & 0xf
	if c>>6 != 0 {
		v += 9
	}
	return v
}

// unhex8 decodes 8 consecutive ASCII hex characters starting at buf[0]
// into a packed 32-bit value via shiftPattern. The caller guarantees
// at least 8 bytes are addressable (the lookahead guard exists for
// exactly this).
func unhex8(buf []byte) uint32 {
	_ = buf[7]
	var v uint32
	for i := 0; i < 8; i++ {
		v |= unhexNibble(buf[i]) << shiftPattern[i]
	}
	return v
}

// formatHexByte appends the two-digit lowercase hex representation of
// b to dst and returns the extended slice.
func formatHexByte(dst []byte, b byte) []byte {
	const digits = "0123456789abcdef"
	return append(dst, digits[b>>4], digits[b&0xf])
}
