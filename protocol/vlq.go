package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// vlqMaxLen is the longest encoding of a 32-bit value
const vlqMaxLen = 5

// EncodeVLQInt writes v in Klipper's variable-length format: big-endian
// groups of 7 bits, high bit set on all but the last byte. Leading groups are
// dropped while the remaining bits still sign-extend to v, with the top
// payload bits 0b11 reserved for negatives.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [vlqMaxLen]byte
	n := 0
	for shift := 28; shift > 0; shift -= 7 {
		limit := int32(1) << (shift - 2)
		if n > 0 || v < -limit || v >= 3*limit {
			buf[n] = byte(v>>shift)&0x7F | 0x80
			n++
		}
	}
	buf[n] = byte(v) & 0x7F
	output.Output(buf[:n+1])
}

// EncodeVLQUint encodes v as its int32 bit pattern, as Klipper does for %u
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt reads one value and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	buf := *data
	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := buf[0]
	v := uint32(c & 0x7F)
	if c&0x60 == 0x60 {
		// Negative: sign-extend the first group
		v |= ^uint32(0x1F)
	}

	i := 1
	for c&0x80 != 0 {
		if i == vlqMaxLen {
			return 0, ErrInvalidVLQ
		}
		if i == len(buf) {
			return 0, ErrBufferTooSmall
		}
		c = buf[i]
		v = v<<7 | uint32(c&0x7F)
		i++
	}

	*data = buf[i:]
	return int32(v), nil
}

// DecodeVLQUint reads one value as uint32
func DecodeVLQUint(data *[]byte) (uint32, error) {
	val, err := DecodeVLQInt(data)
	return uint32(val), err
}

// EncodeVLQBytes writes a length-prefixed byte string (%*s, %.*s)
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes reads a length-prefixed byte string. The result aliases data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	rest := *data
	length, err := DecodeVLQUint(&rest)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < length {
		return nil, ErrBufferTooSmall
	}
	*data = rest[length:]
	return rest[:length], nil
}

// EncodeVLQString writes s as a length-prefixed byte string
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

// DecodeVLQString reads a length-prefixed byte string as a string
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	return string(b), err
}
