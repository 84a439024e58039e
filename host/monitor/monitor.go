// Package monitor runs the button dispatch engine on the host, sampling a
// PinReader on a fixed interval until its context ends.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gobutton/core"
)

// ErrInvalidInterval is returned for a non-positive poll interval
var ErrInvalidInterval = errors.New("poll interval must be positive")

// Event is one observed transition
type Event struct {
	Pin     core.GPIOPin
	Name    string
	Pressed bool
	Time    time.Time
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the logger transitions are written to
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithEventHandler forwards every transition to fn.
// fn runs inside the poll pass and must not call Poll.
func WithEventHandler(fn func(Event)) Option {
	return func(m *Monitor) {
		m.onEvent = fn
	}
}

// WithNames labels pins in events and log lines
func WithNames(name func(core.GPIOPin) string) Option {
	return func(m *Monitor) {
		m.name = name
	}
}

// Monitor polls a registry's buttons
type Monitor struct {
	engine   *core.DispatchEngine
	interval time.Duration
	logger   zerolog.Logger
	onEvent  func(Event)
	name     func(core.GPIOPin) string
	now      func() time.Time

	mu     sync.Mutex
	passes uint64
}

// New creates a monitor over reg, reading levels from reader every interval
func New(reg *core.ButtonRegistry, reader core.PinReader, interval time.Duration, opts ...Option) (*Monitor, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	m := &Monitor{
		interval: interval,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.engine = core.NewDispatchEngine(reg, reader, core.WithGlobalHandlers(core.GlobalHandlers{
		OnPress:   func(pin core.GPIOPin) { m.emit(pin, true) },
		OnRelease: func(pin core.GPIOPin) { m.emit(pin, false) },
	}))
	return m, nil
}

// Poll runs a single pass and returns the number of transitions
func (m *Monitor) Poll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.passes++
	return m.engine.Update()
}

// Passes returns how many poll passes have run
func (m *Monitor) Passes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

// Run polls immediately and then every interval until ctx is done.
// It returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().
		Int("buttons", m.engine.Registry().Len()).
		Dur("interval", m.interval).
		Msg("Monitoring buttons")

	m.Poll()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Uint64("passes", m.Passes()).Msg("Monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Poll()
		}
	}
}

func (m *Monitor) emit(pin core.GPIOPin, pressed bool) {
	ev := Event{
		Pin:     pin,
		Pressed: pressed,
		Time:    m.now(),
	}
	if m.name != nil {
		ev.Name = m.name(pin)
	}

	m.logger.Debug().
		Uint8("pin", uint8(pin)).
		Str("name", ev.Name).
		Bool("pressed", pressed).
		Msg("Button transition")

	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
