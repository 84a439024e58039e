package protocol

import (
	"bytes"
	"testing"
)

func TestVLQKnownEncodings(t *testing.T) {
	testCases := []struct {
		value   int32
		encoded []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{95, []byte{0x5F}},
		{96, []byte{0x80, 0x60}},
		{1000, []byte{0x87, 0x68}},
		{-1, []byte{0x7F}},
		{-32, []byte{0x60}},
		{-33, []byte{0xFF, 0x5F}},
	}

	for _, tc := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, tc.value)
		if !bytes.Equal(output.Result(), tc.encoded) {
			t.Errorf("EncodeVLQInt(%d) = % X, want % X", tc.value, output.Result(), tc.encoded)
		}

		data := append([]byte(nil), tc.encoded...)
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("DecodeVLQInt(% X): %v", tc.encoded, err)
			continue
		}
		if decoded != tc.value {
			t.Errorf("DecodeVLQInt(% X) = %d, want %d", tc.encoded, decoded, tc.value)
		}
	}
}

func TestVLQRoundTripInt(t *testing.T) {
	for _, expected := range []int32{-1000000, -65535, -128, 127, 128, 65535, 1000000, 1<<31 - 1, -1 << 31} {
		output := NewScratchOutput()
		EncodeVLQInt(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d", expected, decoded)
		}
		if len(data) != 0 {
			t.Errorf("VLQ decode left %d bytes for value %d", len(data), expected)
		}
	}
}

func TestVLQUintFullRange(t *testing.T) {
	// Clock values use the whole 32-bit range
	for _, expected := range []uint32{0, 127, 1 << 20, 0x7FFFFFFF, 0x80000000, 0xFFFFFFFF} {
		output := NewScratchOutput()
		EncodeVLQUint(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQUint(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d", expected, decoded)
		}
	}
}

func TestVLQSequence(t *testing.T) {
	// button_event pin=%u pressed=%c clock=%u
	output := NewScratchOutput()
	EncodeVLQUint(output, 14)
	EncodeVLQUint(output, 1)
	EncodeVLQUint(output, 123456789)

	data := output.Result()
	for _, want := range []uint32{14, 1, 123456789} {
		got, err := DecodeVLQUint(&data)
		if err != nil || got != want {
			t.Fatalf("got %d (%v), want %d", got, err, want)
		}
	}
}

func TestVLQBytesAndString(t *testing.T) {
	for i, expected := range [][]byte{{}, {0x01}, {0xFF, 0xFE, 0xFD}, make([]byte, 50)} {
		output := NewScratchOutput()
		EncodeVLQBytes(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQBytes(&data)
		if err != nil {
			t.Errorf("Test case %d: Failed to decode bytes: %v", i, err)
			continue
		}
		if !bytes.Equal(decoded, expected) {
			t.Errorf("Test case %d: got % X, want % X", i, decoded, expected)
		}
	}

	output := NewScratchOutput()
	EncodeVLQString(output, "gobutton")
	data := output.Result()
	s, err := DecodeVLQString(&data)
	if err != nil || s != "gobutton" {
		t.Errorf("DecodeVLQString = %q, %v", s, err)
	}
}

func TestVLQBufferTooSmall(t *testing.T) {
	data := []byte{0x80} // Continuation byte but no following byte
	if _, err := DecodeVLQInt(&data); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall, got %v", err)
	}

	empty := []byte{}
	if _, err := DecodeVLQUint(&empty); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall on empty input, got %v", err)
	}

	// Length prefix says 5 bytes but only 2 follow
	short := []byte{0x05, 0x01, 0x02}
	if _, err := DecodeVLQBytes(&short); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall for short byte array, got %v", err)
	}
}

func TestVLQTooLong(t *testing.T) {
	data := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); err != ErrInvalidVLQ {
		t.Errorf("Expected ErrInvalidVLQ for a 6-byte value, got %v", err)
	}
	if len(data) != 6 {
		t.Errorf("Failed decode consumed %d bytes", 6-len(data))
	}
}
