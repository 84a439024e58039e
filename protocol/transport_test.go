package protocol

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type dispatched struct {
	cmdID uint16
	args  []uint32
}

// testArgCounts gives the number of VLQ arguments each test command takes,
// as a dictionary format would; unlisted commands take none
var testArgCounts = map[uint16]int{
	2: 1,
	7: 2,
}

// newTestTransport returns an MCU transport that records each command and
// decodes its arguments as VLQ integers
func newTestTransport() (*Transport, *ScratchOutput, *[]dispatched) {
	out := NewScratchOutput()
	var seen []dispatched
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		d := dispatched{cmdID: cmdID}
		for i := 0; i < testArgCounts[cmdID]; i++ {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			d.args = append(d.args, v)
		}
		seen = append(seen, d)
		return nil
	})
	return tr, out, &seen
}

// acks returns the sequence of every ACK block in out
func acks(t *testing.T, out []byte) []uint8 {
	t.Helper()
	var seqs []uint8
	for len(out) > 0 {
		msg, n, err := ParseFrame(out)
		if err != nil {
			t.Fatalf("output is not a block stream: %v (% X)", err, out)
		}
		if msg.IsAck() {
			seqs = append(seqs, msg.Sequence)
		}
		out = out[n:]
	}
	return seqs
}

func commandPayload(cmdID uint32, args ...uint32) []byte {
	out := NewScratchOutput()
	EncodeVLQUint(out, cmdID)
	for _, a := range args {
		EncodeVLQUint(out, a)
	}
	return append([]byte(nil), out.Result()...)
}

func TestTransportDispatchAndAck(t *testing.T) {
	tr, out, seen := newTestTransport()

	input := NewSliceInputBuffer(mustFrame(t, MessageDest, commandPayload(7, 14, 1)...))
	tr.Receive(input)

	if input.Available() != 0 {
		t.Errorf("%d bytes left unconsumed", input.Available())
	}
	if len(*seen) != 1 || (*seen)[0].cmdID != 7 {
		t.Fatalf("dispatched = %+v", *seen)
	}
	if got := (*seen)[0].args; len(got) != 2 || got[0] != 14 || got[1] != 1 {
		t.Errorf("args = %v", got)
	}
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{MessageDest | 1}) {
		t.Errorf("ACKs = % X", got)
	}
}

func TestTransportMultipleCommandsPerFrame(t *testing.T) {
	tr, _, seen := newTestTransport()

	payload := append(commandPayload(3), commandPayload(4)...)
	payload = append(payload, commandPayload(7, 14, 1)...)
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, payload...)))

	if len(*seen) != 3 || (*seen)[0].cmdID != 3 || (*seen)[1].cmdID != 4 || (*seen)[2].cmdID != 7 {
		t.Fatalf("dispatched = %+v", *seen)
	}
	if got := (*seen)[2].args; len(got) != 2 || got[0] != 14 || got[1] != 1 {
		t.Errorf("args of the last command = %v", got)
	}
}

func TestTransportPartialFrame(t *testing.T) {
	tr, _, seen := newTestTransport()
	frame := mustFrame(t, MessageDest, commandPayload(2, 99)...)

	fifo := NewFifoBuffer(MessageMax)
	fifo.Write(frame[:3])
	tr.Receive(fifo)
	if len(*seen) != 0 || fifo.Available() != 3 {
		t.Fatalf("partial frame handled early: seen=%v available=%d", *seen, fifo.Available())
	}

	fifo.Write(frame[3:])
	tr.Receive(fifo)
	if len(*seen) != 1 || fifo.Available() != 0 {
		t.Errorf("completed frame not handled: seen=%v available=%d", *seen, fifo.Available())
	}
}

func TestTransportWrongSequenceNaks(t *testing.T) {
	tr, out, seen := newTestTransport()

	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest|2, commandPayload(1)...)))

	if len(*seen) != 0 {
		t.Errorf("out-of-sequence frame dispatched: %v", *seen)
	}
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{MessageDest}) {
		t.Errorf("NAK sequences = % X, want 10", got)
	}
}

func TestTransportBadCRCIgnored(t *testing.T) {
	tr, _, seen := newTestTransport()

	frame := mustFrame(t, MessageDest, commandPayload(1)...)
	frame[2] ^= 0x40
	good := mustFrame(t, MessageDest, commandPayload(5)...)

	tr.Receive(NewSliceInputBuffer(append(frame, good...)))

	if len(*seen) != 1 || (*seen)[0].cmdID != 5 {
		t.Errorf("dispatched = %+v", *seen)
	}
}

func TestTransportHostReset(t *testing.T) {
	tr, _, seen := newTestTransport()
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	input := NewFifoBuffer(MessageMax)
	for _, seq := range []uint8{MessageDest, MessageDest | 1, MessageDest} {
		input.Write(mustFrame(t, seq, commandPayload(1)...))
		tr.Receive(input)
	}

	if resets != 1 {
		t.Errorf("reset callback ran %d times, want 1", resets)
	}
	if len(*seen) != 3 {
		t.Errorf("dispatched %d frames, want 3", len(*seen))
	}
}

func TestTransportHandlerError(t *testing.T) {
	out := NewScratchOutput()
	calls := 0
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		calls++
		return errors.New("rejected")
	})
	var failed []uint16
	tr.SetErrorCallback(func(cmdID uint16, err error) { failed = append(failed, cmdID) })

	payload := append(commandPayload(9), commandPayload(10)...)
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, payload...)))
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest|1, commandPayload(11)...)))

	// The rest of a failed frame is dropped but the stream stays in sync
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
	if len(failed) != 2 || failed[0] != 9 || failed[1] != 11 {
		t.Errorf("failed = %v", failed)
	}
}

func TestTransportSendCommand(t *testing.T) {
	tr, out, _ := newTestTransport()

	tr.SendCommand(6, func(output OutputBuffer) {
		EncodeVLQUint(output, 14)
		EncodeVLQUint(output, 1)
	})

	msg, n, err := ParseFrame(out.Result())
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if n != len(out.Result()) || msg.Sequence != MessageDest {
		t.Errorf("unexpected block: n=%d seq=%02X", n, msg.Sequence)
	}
	if !bytes.Equal(msg.Payload, commandPayload(6, 14, 1)) {
		t.Errorf("payload = % X", msg.Payload)
	}
}

// startFakeMCU runs a firmware Transport behind one end of a pipe
func startFakeMCU(t *testing.T, handler func(tr *Transport, cmdID uint16, data *[]byte) error) *HostTransport {
	t.Helper()
	hostEnd, mcuEnd := net.Pipe()

	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return handler(tr, cmdID, data)
	})

	go func() {
		defer mcuEnd.Close()
		input := NewFifoBuffer(MessageMax)
		buf := make([]byte, 64)
		for {
			n, err := mcuEnd.Read(buf)
			if err != nil {
				return
			}
			input.Write(buf[:n])
			tr.Receive(input)
			if out.CurPosition() > 0 {
				pending := append([]byte(nil), out.Result()...)
				out.Reset()
				if _, err := mcuEnd.Write(pending); err != nil {
					return
				}
			}
		}
	}()

	host := NewHostTransport(hostEnd)
	t.Cleanup(func() { _ = host.Close() })
	return host
}

func TestHostTransportRoundTrip(t *testing.T) {
	host := startFakeMCU(t, func(tr *Transport, cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		tr.SendCommand(cmdID+1, func(output OutputBuffer) {
			EncodeVLQUint(output, v+1)
		})
		return nil
	})

	var handled []uint16
	host.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		handled = append(handled, cmdID)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := host.SendCommand(ctx, 5, func(output OutputBuffer) {
		EncodeVLQUint(output, 41)
	})
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if host.GetCurrentSequence() != MessageDest|1 {
		t.Errorf("sequence = %02X, want 11", host.GetCurrentSequence())
	}

	resp, err := host.ReceiveResponse(ctx)
	if err != nil {
		t.Fatalf("ReceiveResponse: %v", err)
	}
	data := resp.Payload
	cmdID, _ := DecodeVLQUint(&data)
	value, _ := DecodeVLQUint(&data)
	if cmdID != 6 || value != 42 {
		t.Errorf("response = cmd %d value %d, want cmd 6 value 42", cmdID, value)
	}
	if len(handled) != 1 || handled[0] != 6 {
		t.Errorf("response handler saw %v", handled)
	}
}

func TestHostTransportSequenceWraps(t *testing.T) {
	host := startFakeMCU(t, func(tr *Transport, cmdID uint16, data *[]byte) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 17; i++ {
		if err := host.SendCommand(ctx, 3, nil); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}
	if host.GetCurrentSequence() != MessageDest|1 {
		t.Errorf("sequence = %02X after 17 commands, want 11", host.GetCurrentSequence())
	}
}

func TestHostTransportAckTimeout(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	go func() {
		// Swallow everything, never ACK
		buf := make([]byte, 64)
		for {
			if _, err := mcuEnd.Read(buf); err != nil {
				return
			}
		}
	}()
	host := NewHostTransport(hostEnd)
	defer host.Close()
	defer mcuEnd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := host.SendCommand(ctx, 1, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if host.GetCurrentSequence() != MessageDest {
		t.Error("sequence advanced without an ACK")
	}
}

func TestHostTransportClosed(t *testing.T) {
	host := startFakeMCU(t, func(tr *Transport, cmdID uint16, data *[]byte) error { return nil })

	if err := host.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-host.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop still running after Close")
	}

	if _, err := host.ReceiveResponse(context.Background()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("ReceiveResponse after Close = %v", err)
	}
	// Closing twice is harmless
	if err := host.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
