package protocol

import "sync/atomic"

// CommandHandler is a function type for handling decoded commands
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the protocol: it validates incoming blocks,
// dispatches their commands, ACKs them and frames responses.
type Transport struct {
	scanner frameScanner
	// Expected sequence from the host (0x10-0x1F). Responses and ACKs carry
	// the same value.
	nextSequence  uint32 // atomic uint8 stored as uint32
	output        OutputBuffer
	handler       CommandHandler
	resetCallback func() // Called when host reset is detected
	flushCallback func() // Called to push an ACK out immediately
	errCallback   func(cmdID uint16, err error)
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive processes every complete block in input and pops what it consumed
func (t *Transport) Receive(input InputBuffer) {
	rest := t.scanner.scan(input.Data(), t.acceptFrame, t.encodeAckNak)

	consumed := input.Available() - len(rest)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) acceptFrame(msg Message) bool {
	seq := msg.Sequence
	if seq&^MessageSeqMask != MessageDest {
		return false
	}

	// Sequence back at MESSAGE_DEST means the host restarted
	expectedSeq := uint8(atomic.LoadUint32(&t.nextSequence))
	if seq == MessageDest && expectedSeq != MessageDest {
		atomic.StoreUint32(&t.nextSequence, MessageDest)
		expectedSeq = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	ok := true
	if seq == expectedSeq {
		nextSeq := ((seq + 1) & MessageSeqMask) | MessageDest
		atomic.StoreUint32(&t.nextSequence, uint32(nextSeq))
		ok = t.parseFrame(msg.Payload)
	}

	// A mismatched sequence still gets an ACK; it acts as a NAK carrying the
	// expected sequence
	t.encodeAckNak()
	return ok
}

// parseFrame dispatches every command in a frame. It returns false when the
// frame could not be decoded and the stream should resynchronise.
func (t *Transport) parseFrame(frame []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			return false
		}

		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// Argument layout after a failed command is unknown; drop the rest
			// of the frame but stay in sync
			if t.errCallback != nil {
				t.errCallback(uint16(cmdID), err)
			}
			return true
		}
	}
	return true
}

// encodeAckNak sends an empty block carrying the next expected sequence.
// The host's serialqueue waits for it before accepting responses, so it is
// flushed straight away.
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	crc := CRC16([]byte{MessageLengthMin, ns})

	t.output.Output([]byte{
		MessageLengthMin,
		ns,
		uint8(crc >> 8),
		uint8(crc),
		MessageValueSync,
	})

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame encodes a block whose payload is written by frameData
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	changed := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(changed+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{
		uint8(crc >> 8),
		uint8(crc),
		MessageValueSync,
	})
}

// SendCommand sends a command or response with arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset resets the transport state (after USB disconnect/reconnect)
func (t *Transport) Reset() {
	t.scanner.reset()
	atomic.StoreUint32(&t.nextSequence, MessageDest)

	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback to immediately flush ACK messages
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorCallback sets a callback for commands whose handler failed
func (t *Transport) SetErrorCallback(callback func(cmdID uint16, err error)) {
	t.errCallback = callback
}
