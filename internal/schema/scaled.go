package schema

import "strconv"

// Prices and sizes travel through the engine as scaled integers (minor
// currency units, scaled lots). Rendering back to decimal text only happens
// at log boundaries.

// AppendScaledInt renders value/10^scale as decimal text into buf.
func AppendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}

// FormatScaled renders value/10^scale as decimal text.
func FormatScaled(value int64, scale int) string {
	return string(AppendScaledInt(nil, value, scale))
}
