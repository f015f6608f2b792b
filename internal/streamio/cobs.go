package streamio

// CobsEncode applies Consistent Overhead Byte Stuffing to src, appending the
// trailing 0x00 delimiter. A run of exactly 0xFF non-zero bytes does not
// emit a zero between blocks (the length byte 0xFF itself signals "keep
// going without a boundary marker").
func CobsEncode(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/254+2)
	codeIdx := 0
	out = append(out, 0) // placeholder for first code byte
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0) // placeholder
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0) // placeholder
			code = 1
		}
	}
	out[codeIdx] = code
	out = append(out, 0)
	return out
}

// CobsDecode reverses CobsEncode. src must not include the trailing 0x00
// delimiter (callers split on it first).
func CobsDecode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		code := int(src[i])
		if code == 0 {
			return nil, ErrCobsZeroCode
		}
		i++
		end := i + code - 1
		if end > len(src) {
			return nil, ErrCobsShort
		}
		out = append(out, src[i:end]...)
		i = end
		if code < 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out, nil
}
