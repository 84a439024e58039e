package protocol

import "errors"

// Message block layout
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
)

var (
	ErrFrameIncomplete = errors.New("incomplete message block")
	ErrFrameInvalid    = errors.New("invalid message block")
	ErrFrameTooLong    = errors.New("message block too long")
)

// Message is one validated message block
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Frame data without header/trailer; aliases the scanned buffer
	CRC      uint16
}

// IsAck reports whether the block carries no payload (ACK/NAK)
func (m Message) IsAck() bool {
	return len(m.Payload) == 0
}

// ParseFrame validates the message block at the start of data and returns it
// with the number of bytes it occupies.
// ErrFrameIncomplete means more input is needed; ErrFrameInvalid means the
// caller must resynchronise on the next sync byte.
func ParseFrame(data []byte) (Message, int, error) {
	if len(data) < MessageLengthMin {
		return Message{}, 0, ErrFrameIncomplete
	}

	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return Message{}, 0, ErrFrameInvalid
	}
	if len(data) < msgLen {
		return Message{}, 0, ErrFrameIncomplete
	}

	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return Message{}, 0, ErrFrameInvalid
	}

	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
		uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return Message{}, 0, ErrFrameInvalid
	}

	return Message{
		Length:   uint8(msgLen),
		Sequence: data[MessagePositionSeq],
		Payload:  data[MessageHeaderSize : msgLen-MessageTrailerSize],
		CRC:      frameCRC,
	}, msgLen, nil
}

// AppendFrame appends a complete message block carrying payload to dst
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return dst, ErrFrameTooLong
	}

	start := len(dst)
	dst = append(dst, uint8(msgLen), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// frameScanner splits an input stream into message blocks. After an invalid
// block it drops input up to and including the next sync byte.
type frameScanner struct {
	lost bool
}

// scan hands each valid block in data to accept and returns the unconsumed
// tail. accept returning false desynchronises the stream. onResync runs each
// time sync is regained.
func (s *frameScanner) scan(data []byte, accept func(Message) bool, onResync func()) []byte {
	for len(data) > 0 {
		if s.lost {
			syncPos := -1
			for i, b := range data {
				if b == MessageValueSync {
					syncPos = i
					break
				}
			}
			if syncPos < 0 {
				return nil
			}
			data = data[syncPos+1:]
			s.lost = false
			if onResync != nil {
				onResync()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msg, n, err := ParseFrame(data)
		if err == ErrFrameIncomplete {
			break
		}
		if err != nil {
			s.lost = true
			continue
		}

		if !accept(msg) {
			s.lost = true
			continue
		}
		data = data[n:]
	}
	return data
}

func (s *frameScanner) reset() {
	s.lost = false
}
