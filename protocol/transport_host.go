package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout bounds SendCommand when the context has no deadline
const DefaultAckTimeout = 2 * time.Second

// ErrTransportClosed is returned by calls made after Close
var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler is called from the read loop for every response block
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the protocol: it frames commands, waits
// for the MCU's ACK and delivers response blocks.
type HostTransport struct {
	port io.ReadWriteCloser

	// Sequence tracking (0x10-0x1F for host messages)
	currentSeq uint32 // atomic uint8 stored as uint32

	scanner     frameScanner
	inputBuffer *FifoBuffer

	ackChan      chan Message
	responseChan chan Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	// Serialises command round trips so ACKs pair with their command
	sendMutex sync.Mutex
	readMutex sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport creates a new host-side transport and starts its read loop
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		inputBuffer:  NewFifoBuffer(MessageMax),
		ackChan:      make(chan Message, 1),
		responseChan: make(chan Message, 64),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// SendCommand frames cmdID and its arguments, writes it and waits for the ACK.
// Without a context deadline DefaultAckTimeout applies.
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultAckTimeout)
		defer cancel()
	}

	t.sendMutex.Lock()
	defer t.sendMutex.Unlock()

	msg, err := t.buildCommandMessage(cmdID, args)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}

	// Drop a stale ACK left by an earlier timed-out command
	select {
	case <-t.ackChan:
	default:
	}

	if err := t.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := t.waitForAck(ctx); err != nil {
		return fmt.Errorf("waiting for ACK: %w", err)
	}

	return nil
}

// buildCommandMessage constructs a complete block with header, payload, CRC and sync
func (t *HostTransport) buildCommandMessage(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg, err := AppendFrame(make([]byte, 0, MessageLengthMax), seq, scratch.Result())
	if err != nil {
		return nil, fmt.Errorf("command %d: %w", cmdID, err)
	}
	return msg, nil
}

func (t *HostTransport) writeMessage(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitForAck waits for the MCU to acknowledge the current sequence
func (t *HostTransport) waitForAck(ctx context.Context) error {
	expectedSeq := uint8(atomic.LoadUint32(&t.currentSeq))
	nextSeq := ((expectedSeq + 1) & MessageSeqMask) | MessageDest

	select {
	case ack := <-t.ackChan:
		// The MCU ACKs with the next sequence it expects
		if ack.Sequence != nextSeq {
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", nextSeq, ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(nextSeq))
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-t.stopChan:
		return ErrTransportClosed
	}
}

// ReceiveResponse returns the next response block
func (t *HostTransport) ReceiveResponse(ctx context.Context) (Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.stopChan:
		return Message{}, ErrTransportClosed
	}
}

// Done is closed once the read loop has exited
func (t *HostTransport) Done() <-chan struct{} {
	return t.doneChan
}

// SetResponseHandler sets a callback for handling responses asynchronously.
// Responses seen by a handler are still queued for ReceiveResponse.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

// readLoop reads from the port until Close or EOF
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.feed(buffer[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// feed appends raw input and dispatches every complete block
func (t *HostTransport) feed(data []byte) {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	for len(data) > 0 {
		written := t.inputBuffer.Write(data)
		data = data[written:]

		rest := t.scanner.scan(t.inputBuffer.Data(), t.acceptMessage, nil)
		consumed := t.inputBuffer.Available() - len(rest)
		if consumed > 0 {
			t.inputBuffer.Pop(consumed)
		} else if written == 0 {
			// A full buffer with no complete block is garbage
			t.inputBuffer.Reset()
			t.scanner.lost = true
		}
	}
}

// acceptMessage routes a block to the ACK or response path
func (t *HostTransport) acceptMessage(msg Message) bool {
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	msg.Payload = payload

	if msg.IsAck() {
		select {
		case t.ackChan <- msg:
		default:
		}
		return true
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := msg.Payload
		if cmdID, err := DecodeVLQUint(&data); err == nil {
			_ = handler(uint16(cmdID), &data)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Queue full: drop the oldest response
		select {
		case <-t.responseChan:
		default:
		}
		select {
		case t.responseChan <- msg:
		default:
		}
	}
	return true
}

// Close stops the read loop and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		// Closing the port unblocks a pending Read
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset resets the sequence and drops buffered input and queued messages
func (t *HostTransport) Reset() {
	atomic.StoreUint32(&t.currentSeq, MessageDest)

	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}

	t.readMutex.Lock()
	t.scanner.reset()
	t.inputBuffer.Reset()
	t.readMutex.Unlock()
}

// GetCurrentSequence returns the current sequence number (for debugging)
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
