// Button registry
// Maps input pins to their last observed level and optional per-button handlers
package core

// Handlers is the per-button handler set. It is either NoHandlers or a
// complete HandlerPair; there is no way to hold only one of the two.
type Handlers interface {
	isHandlers()
}

// NoHandlers marks a button whose transitions are only seen by global handlers
type NoHandlers struct{}

// HandlerPair is a press/release callback pair bound to one button
type HandlerPair struct {
	OnPress   func()
	OnRelease func()
}

func (NoHandlers) isHandlers()  {}
func (HandlerPair) isHandlers() {}

// ButtonEntry represents one monitored input
type ButtonEntry struct {
	Pin      GPIOPin  // Hardware pin, unique within a registry
	State    bool     // Level seen at the end of the previous update (true = pressed)
	Handlers Handlers // NoHandlers or HandlerPair
}

// ButtonRegistry owns the set of registered buttons.
// Entries are append-only and kept in registration order.
// Not safe for concurrent use.
type ButtonRegistry struct {
	entries  []*ButtonEntry
	pinIndex map[GPIOPin]int
	dispatch bool // set while an update pass is running
}

// NewButtonRegistry creates an empty registry
func NewButtonRegistry() *ButtonRegistry {
	return &ButtonRegistry{
		pinIndex: make(map[GPIOPin]int),
	}
}

// Register adds a button without handlers. Initial state is released.
func (r *ButtonRegistry) Register(pin GPIOPin) (*ButtonEntry, error) {
	return r.add(pin, NoHandlers{})
}

// RegisterWithHandlers adds a button with a bound press/release pair.
// Both funcs must be non-nil.
func (r *ButtonRegistry) RegisterWithHandlers(pin GPIOPin, onPress, onRelease func()) (*ButtonEntry, error) {
	if onPress == nil || onRelease == nil {
		return nil, newButtonError(CodeInvalidHandlers, pin)
	}
	return r.add(pin, HandlerPair{OnPress: onPress, OnRelease: onRelease})
}

// RegisterMany registers each pin in order, as repeated Register calls.
// It stops at the first failure; pins before it stay registered.
func (r *ButtonRegistry) RegisterMany(pins ...GPIOPin) error {
	for _, pin := range pins {
		if _, err := r.Register(pin); err != nil {
			return err
		}
	}
	return nil
}

func (r *ButtonRegistry) add(pin GPIOPin, h Handlers) (*ButtonEntry, error) {
	if r.dispatch {
		panic("button registry modified during dispatch")
	}
	if _, exists := r.pinIndex[pin]; exists {
		return nil, newButtonError(CodeDuplicatePin, pin)
	}

	entry := &ButtonEntry{
		Pin:      pin,
		State:    false,
		Handlers: h,
	}
	r.entries = append(r.entries, entry)
	r.pinIndex[pin] = len(r.entries) - 1

	return entry, nil
}

// GetState returns the level observed for pin at the end of the last update
func (r *ButtonRegistry) GetState(pin GPIOPin) (bool, error) {
	idx, ok := r.pinIndex[pin]
	if !ok {
		return false, newButtonError(CodeUnknownPin, pin)
	}
	return r.entries[idx].State, nil
}

// Contains reports whether pin is registered
func (r *ButtonRegistry) Contains(pin GPIOPin) bool {
	_, ok := r.pinIndex[pin]
	return ok
}

// Len returns the number of registered buttons
func (r *ButtonRegistry) Len() int {
	return len(r.entries)
}

// Pins returns the registered pins in registration order
func (r *ButtonRegistry) Pins() []GPIOPin {
	pins := make([]GPIOPin, len(r.entries))
	for i, e := range r.entries {
		pins[i] = e.Pin
	}
	return pins
}
