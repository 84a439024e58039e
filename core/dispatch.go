package core

// GlobalHandlers receive every button's transitions, after the button's own
// handlers. Either func may be nil, in which case that level is not dispatched.
type GlobalHandlers struct {
	OnPress   func(pin GPIOPin)
	OnRelease func(pin GPIOPin)
}

// EngineOption configures a DispatchEngine at construction
type EngineOption func(*DispatchEngine)

// WithGlobalHandlers installs the global press/release handlers
func WithGlobalHandlers(g GlobalHandlers) EngineOption {
	return func(e *DispatchEngine) {
		e.global = g
	}
}

// DispatchEngine polls every registered pin and fires handlers on edges.
//
// Pins must be configured as inputs before the first Update; reading an
// unconfigured pin is up to the PinReader. Handlers run synchronously inside
// Update and must not call Update or register buttons.
type DispatchEngine struct {
	registry *ButtonRegistry
	reader   PinReader
	global   GlobalHandlers
}

// NewDispatchEngine binds a registry to the pin reader that samples it
func NewDispatchEngine(reg *ButtonRegistry, reader PinReader, opts ...EngineOption) *DispatchEngine {
	e := &DispatchEngine{
		registry: reg,
		reader:   reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetGlobalHandlers returns a copy of the engine with the given global
// handlers. The copy shares the registry and reader; the receiver is unchanged.
func (e *DispatchEngine) SetGlobalHandlers(onPress, onRelease func(pin GPIOPin)) *DispatchEngine {
	next := *e
	next.global = GlobalHandlers{OnPress: onPress, OnRelease: onRelease}
	return &next
}

// Registry returns the registry this engine updates
func (e *DispatchEngine) Registry() *ButtonRegistry {
	return e.registry
}

// Update runs one polling pass over all entries in registration order and
// returns the number of transitions dispatched.
func (e *DispatchEngine) Update() int {
	reg := e.registry
	if reg.dispatch {
		panic("DispatchEngine.Update called from a button handler")
	}

	if s, ok := e.reader.(Sampler); ok {
		if err := s.Sample(); err != nil {
			DebugPrintln("[buttons] sample failed: " + err.Error())
			return 0
		}
	}

	reg.dispatch = true
	defer func() { reg.dispatch = false }()

	fired := 0
	for _, entry := range reg.entries {
		level := e.reader.ReadPin(entry.Pin)
		if level == entry.State {
			continue
		}

		// Store first so handlers that query GetState see the new level
		entry.State = level
		fired++

		if level {
			e.firePress(entry)
		} else {
			e.fireRelease(entry)
		}
	}

	return fired
}

func (e *DispatchEngine) firePress(entry *ButtonEntry) {
	if pair, ok := entry.Handlers.(HandlerPair); ok {
		pair.OnPress()
	}
	if e.global.OnPress != nil {
		e.global.OnPress(entry.Pin)
	}
}

func (e *DispatchEngine) fireRelease(entry *ButtonEntry) {
	if pair, ok := entry.Handlers.(HandlerPair); ok {
		pair.OnRelease()
	}
	if e.global.OnRelease != nil {
		e.global.OnRelease(entry.Pin)
	}
}
