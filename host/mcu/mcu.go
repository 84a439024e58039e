// Package mcu talks to the button firmware over the Klipper protocol:
// dictionary retrieval, button configuration, polling control and the
// stream of button transitions.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gobutton/core"
	"gobutton/host/serial"
	"gobutton/protocol"
)

// DefaultReplyTimeout bounds a request/response round trip when the context
// has no deadline
const DefaultReplyTimeout = time.Second

const identifyChunkSize = 40

var ErrNoDictionary = errors.New("dictionary not loaded")

// ButtonEvent is a transition reported by the firmware's poll timer
type ButtonEvent struct {
	Pin     uint8
	Pressed bool
	Clock   uint32 // MCU clock when the transition was dispatched
}

// FirmwareError is a button_error response
type FirmwareError struct {
	Pin  uint8
	Code uint8
}

func (e *FirmwareError) Error() string {
	var msg string
	switch e.Code {
	case core.WireErrUnknownPin:
		msg = "pin not registered"
	case core.WireErrDuplicatePin:
		msg = "pin already registered"
	case core.WireErrInvalidHandlers:
		msg = "invalid handlers"
	case core.WireErrDriver:
		msg = "GPIO driver failure"
	default:
		msg = fmt.Sprintf("error code %d", e.Code)
	}
	return fmt.Sprintf("firmware: %s: pin %d", msg, e.Pin)
}

// Unwrap maps the wire code onto the core sentinel errors
func (e *FirmwareError) Unwrap() error {
	switch e.Code {
	case core.WireErrUnknownPin:
		return core.ErrUnknownPin
	case core.WireErrDuplicatePin:
		return core.ErrDuplicatePin
	case core.WireErrInvalidHandlers:
		return core.ErrInvalidHandlers
	}
	return nil
}

// Option configures an MCU
type Option func(*MCU)

// WithLogger sets the logger; the default discards everything
func WithLogger(logger zerolog.Logger) Option {
	return func(m *MCU) {
		m.log = logger
	}
}

// WithEventBuffer sets how many unread button events are kept
func WithEventBuffer(n int) Option {
	return func(m *MCU) {
		m.events = make(chan ButtonEvent, n)
	}
}

// MCU is a session with one button firmware
type MCU struct {
	transport *protocol.HostTransport
	log       zerolog.Logger

	mu             sync.RWMutex
	dictionary     *Dictionary
	dictionaryData []byte

	// Serialises request/reply exchanges
	requestMu sync.Mutex
	replies   chan *Response
	events    chan ButtonEvent
}

// New starts a session on an already open port
func New(port io.ReadWriteCloser, opts ...Option) *MCU {
	m := &MCU{
		log:     zerolog.Nop(),
		replies: make(chan *Response, 32),
		events:  make(chan ButtonEvent, 64),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Open opens a serial port and starts a session on it
func Open(cfg *serial.Config, opts ...Option) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(port, opts...), nil
}

// Close ends the session and closes the port
func (m *MCU) Close() error {
	return m.transport.Close()
}

// Done is closed once the link to the firmware is gone
func (m *MCU) Done() <-chan struct{} {
	return m.transport.Done()
}

// Events returns the stream of button transitions
func (m *MCU) Events() <-chan ButtonEvent {
	return m.events
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dictionary
}

// DictionaryRaw returns the raw dictionary JSON
func (m *MCU) DictionaryRaw() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dictionaryData
}

// RetrieveDictionary fetches the dictionary in identify chunks and parses it
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	m.requestMu.Lock()
	defer m.requestMu.Unlock()

	var buf bytes.Buffer
	for {
		chunk, err := m.identify(ctx, uint32(buf.Len()))
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", buf.Len(), err)
		}
		buf.Write(chunk)
		if len(chunk) < identifyChunkSize {
			break
		}
	}

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.dictionary = dict
	m.dictionaryData = buf.Bytes()
	m.mu.Unlock()

	m.log.Info().
		Str("version", dict.Version).
		Int("bytes", buf.Len()).
		Int("commands", len(dict.Commands)).
		Msg("dictionary retrieved")
	return nil
}

func (m *MCU) identify(ctx context.Context, offset uint32) ([]byte, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	m.drainReplies()
	err := m.transport.SendCommand(ctx, identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, identifyChunkSize)
	})
	if err != nil {
		return nil, err
	}

	resp, err := m.waitReply(ctx, func(r *Response) bool {
		return r.Name == "identify_response" && r.Args["offset"] == offset
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SendCommand sends a dictionary command with integer arguments and waits for its ACK
func (m *MCU) SendCommand(ctx context.Context, name string, args ...uint32) error {
	dict := m.Dictionary()
	if dict == nil {
		return ErrNoDictionary
	}

	format, ok := dict.Command(name)
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}

	encoded := protocol.NewScratchOutput()
	if err := format.Encode(encoded, args...); err != nil {
		return err
	}

	err := m.transport.SendCommand(ctx, format.ID, func(output protocol.OutputBuffer) {
		output.Output(encoded.Result())
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	m.log.Debug().Str("command", name).Uints32("args", args).Msg("command sent")
	return nil
}

// GetClock returns the MCU's current clock
func (m *MCU) GetClock(ctx context.Context) (uint32, error) {
	resp, err := m.request(ctx, "get_clock", nil, func(r *Response) bool {
		return r.Name == "clock"
	})
	if err != nil {
		return 0, err
	}
	return resp.Args["clock"], nil
}

// ConfigureButton configures pin as a button input on the MCU
func (m *MCU) ConfigureButton(ctx context.Context, pin uint8, pullUp bool) error {
	m.requestMu.Lock()
	defer m.requestMu.Unlock()

	m.drainReplies()
	if err := m.SendCommand(ctx, "config_button", uint32(pin), boolArg(pullUp)); err != nil {
		return err
	}

	// A rejection is sent before the ACK, so it is already queued
	for {
		select {
		case r := <-m.replies:
			if r.Name == "button_error" && uint8(r.Args["pin"]) == pin {
				return &FirmwareError{Pin: pin, Code: uint8(r.Args["code"])}
			}
		default:
			m.log.Info().Uint8("pin", pin).Bool("pull_up", pullUp).Msg("button configured")
			return nil
		}
	}
}

// ResetConfig clears the buttons and poll timer left by an earlier session.
// Firmware without config_reset is left as it is.
func (m *MCU) ResetConfig(ctx context.Context) error {
	dict := m.Dictionary()
	if dict == nil {
		return ErrNoDictionary
	}
	if _, ok := dict.Command("config_reset"); !ok {
		return nil
	}
	return m.SendCommand(ctx, "config_reset")
}

// StartPolling starts the MCU poll timer at clock, repeating every restTicks
func (m *MCU) StartPolling(ctx context.Context, clock, restTicks uint32) error {
	if restTicks == 0 {
		return core.ErrZeroRestTicks
	}
	return m.SendCommand(ctx, "buttons_start", clock, restTicks)
}

// StartPollingEvery converts interval with the dictionary's CLOCK_FREQ and
// starts polling 10ms from now
func (m *MCU) StartPollingEvery(ctx context.Context, interval time.Duration) error {
	dict := m.Dictionary()
	if dict == nil {
		return ErrNoDictionary
	}
	freq, err := dict.ConfigUint("CLOCK_FREQ")
	if err != nil {
		return err
	}

	restTicks := uint32(interval.Seconds() * float64(freq))
	if restTicks == 0 {
		return fmt.Errorf("poll interval %v is below one clock tick", interval)
	}

	now, err := m.GetClock(ctx)
	if err != nil {
		return err
	}
	return m.StartPolling(ctx, now+freq/100, restTicks)
}

// StopPolling cancels the MCU poll timer
func (m *MCU) StopPolling(ctx context.Context) error {
	return m.SendCommand(ctx, "buttons_stop")
}

// QueryState returns the firmware's last observed state of pin
func (m *MCU) QueryState(ctx context.Context, pin uint8) (bool, error) {
	resp, err := m.request(ctx, "button_query_state", []uint32{uint32(pin)}, func(r *Response) bool {
		return (r.Name == "button_state" || r.Name == "button_error") && uint8(r.Args["pin"]) == pin
	})
	if err != nil {
		return false, err
	}
	if resp.Name == "button_error" {
		return false, &FirmwareError{Pin: pin, Code: uint8(resp.Args["code"])}
	}
	return resp.Args["pressed"] != 0, nil
}

// request sends a command and waits for the first reply accepted by match
func (m *MCU) request(ctx context.Context, name string, args []uint32, match func(*Response) bool) (*Response, error) {
	m.requestMu.Lock()
	defer m.requestMu.Unlock()

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	m.drainReplies()
	if err := m.SendCommand(ctx, name, args...); err != nil {
		return nil, err
	}
	resp, err := m.waitReply(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return resp, nil
}

func (m *MCU) waitReply(ctx context.Context, match func(*Response) bool) (*Response, error) {
	for {
		select {
		case r := <-m.replies:
			if match(r) {
				return r, nil
			}
			m.log.Debug().Str("response", r.Name).Msg("ignoring unrelated response")
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.transport.Done():
			return nil, protocol.ErrTransportClosed
		}
	}
}

func (m *MCU) drainReplies() {
	for {
		select {
		case <-m.replies:
		default:
			return
		}
	}
}

// handleResponse runs on the transport's read loop
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	var format *MessageFormat
	if dict := m.Dictionary(); dict != nil {
		format, _ = dict.Response(cmdID)
	} else if cmdID == identifyResponseID {
		format = identifyResponseFormat
	}
	if format == nil {
		m.log.Debug().Uint16("id", cmdID).Msg("unknown response")
		return nil
	}

	resp, err := format.Decode(data)
	if err != nil {
		m.log.Warn().Err(err).Msg("malformed response")
		return err
	}

	if resp.Name == "button_event" {
		evt := ButtonEvent{
			Pin:     uint8(resp.Args["pin"]),
			Pressed: resp.Args["pressed"] != 0,
			Clock:   resp.Args["clock"],
		}
		select {
		case m.events <- evt:
		default:
			m.log.Warn().Uint8("pin", evt.Pin).Msg("event queue full, dropping transition")
		}
		return nil
	}

	select {
	case m.replies <- resp:
	default:
		m.log.Warn().Str("response", resp.Name).Msg("reply queue full, dropping")
	}
	return nil
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultReplyTimeout)
}

func boolArg(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
