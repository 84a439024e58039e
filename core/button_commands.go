// Button polling service
// Exposes the button registry over the command protocol and reports
// transitions to the host as button_event responses
package core

import (
	"errors"

	"gobutton/protocol"
)

// ResponseSender encodes a named response; SendResponse in firmware
type ResponseSender func(name string, args func(output protocol.OutputBuffer))

// ErrZeroRestTicks rejects a polling period of zero ticks
var ErrZeroRestTicks = errors.New("buttons_start: rest_ticks must be non-zero")

// ButtonService owns the firmware's button registry, its dispatch engine
// and the poll timer that drives it.
type ButtonService struct {
	driver    GPIODriver
	registry  *ButtonRegistry
	engine    *DispatchEngine
	send      ResponseSender
	timer     Timer
	restTicks uint32
	polling   bool
}

var globalButtons *ButtonService

// NewButtonService creates a service reading through driver.
// Transitions are recorded in the event ring and sent with send.
func NewButtonService(driver GPIODriver, send ResponseSender) *ButtonService {
	s := &ButtonService{
		driver: driver,
		send:   send,
	}
	s.resetRegistry()
	s.timer.Handler = s.pollEvent
	return s
}

func (s *ButtonService) resetRegistry() {
	s.registry = NewButtonRegistry()
	s.engine = NewDispatchEngine(s.registry, s.driver, WithGlobalHandlers(GlobalHandlers{
		OnPress:   func(pin GPIOPin) { s.report(pin, true) },
		OnRelease: func(pin GPIOPin) { s.report(pin, false) },
	}))
}

// Reset stops polling and forgets every registered button, so a new host
// session can configure its pins again. Pin modes are left as they are.
func (s *ButtonService) Reset() {
	s.StopPolling()
	s.resetRegistry()
}

// InitButtonCommands creates the global button service on top of the
// global GPIO driver and registers its commands and responses.
func InitButtonCommands() {
	globalButtons = NewButtonService(halDriver{}, SendResponse)
	globalButtons.RegisterCommands(globalRegistry)
	RegisterShutdownHook(globalButtons.StopPolling)
	RegisterConfigResetHook(globalButtons.Reset)
}

// GetButtonService returns the service created by InitButtonCommands
func GetButtonService() *ButtonService {
	return globalButtons
}

// RegisterCommands adds the button commands and responses to reg
func (s *ButtonService) RegisterCommands(reg *CommandRegistry) {
	reg.Register("config_button", "pin=%u pull_up=%c", s.handleConfigButton)
	reg.Register("buttons_start", "clock=%u rest_ticks=%u", s.handleButtonsStart)
	reg.Register("buttons_stop", "", s.handleButtonsStop)
	reg.Register("button_query_state", "pin=%u", s.handleQueryState)
	reg.Register("buttons_list", "", s.handleButtonsList)

	reg.Register("button_event", "pin=%u pressed=%c clock=%u", nil)
	reg.Register("button_state", "pin=%u pressed=%c", nil)
	reg.Register("button_error", "pin=%u code=%c", nil)
}

// Registry returns the service's button registry
func (s *ButtonService) Registry() *ButtonRegistry {
	return s.registry
}

// Engine returns the dispatch engine driven by the poll timer
func (s *ButtonService) Engine() *DispatchEngine {
	return s.engine
}

// AddButton configures pin as an input and registers it without local handlers
func (s *ButtonService) AddButton(pin GPIOPin, pullUp bool) error {
	return s.addButton(pin, pullUp, nil, nil)
}

// AddButtonWithHandlers configures pin and binds firmware-local handlers.
// They run before the host is notified of the transition.
func (s *ButtonService) AddButtonWithHandlers(pin GPIOPin, pullUp bool, onPress, onRelease func()) error {
	if onPress == nil || onRelease == nil {
		return newButtonError(CodeInvalidHandlers, pin)
	}
	return s.addButton(pin, pullUp, onPress, onRelease)
}

func (s *ButtonService) addButton(pin GPIOPin, pullUp bool, onPress, onRelease func()) error {
	// Reject duplicates before touching the pin configuration
	if s.registry.Contains(pin) {
		return newButtonError(CodeDuplicatePin, pin)
	}

	var err error
	if pullUp {
		err = s.driver.ConfigureInputPullUp(pin)
	} else {
		err = s.driver.ConfigureInputPullDown(pin)
	}
	if err != nil {
		return err
	}

	if onPress != nil {
		_, err = s.registry.RegisterWithHandlers(pin, onPress, onRelease)
	} else {
		_, err = s.registry.Register(pin)
	}
	return err
}

// StartPolling runs an update pass at clock and then every restTicks
func (s *ButtonService) StartPolling(clock, restTicks uint32) error {
	if restTicks == 0 {
		return ErrZeroRestTicks
	}
	s.restTicks = restTicks
	s.timer.WakeTime = clock
	s.polling = true
	ScheduleTimer(&s.timer)
	return nil
}

// StopPolling cancels the poll timer. Button state is kept.
func (s *ButtonService) StopPolling() {
	CancelTimer(&s.timer)
	s.polling = false
}

// IsPolling reports whether the poll timer is active
func (s *ButtonService) IsPolling() bool {
	return s.polling
}

// pollEvent is the timer handler that runs one update pass
func (s *ButtonService) pollEvent(t *Timer) uint8 {
	if !s.polling || IsShutdown() {
		s.polling = false
		return SF_DONE
	}

	s.engine.Update()
	// A firmware-local handler may have stopped polling
	if !s.polling {
		return SF_DONE
	}

	next := t.WakeTime + s.restTicks
	// Don't replay missed periods after a stall; resume one period from now
	if int32(next-currentTime) <= 0 {
		next = currentTime + s.restTicks
	}
	t.WakeTime = next
	return SF_RESCHEDULE
}

func (s *ButtonService) report(pin GPIOPin, pressed bool) {
	clock := GetTime()
	RecordButtonEvent(pin, pressed, clock)
	s.send("button_event", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(pin))
		encodeBool(output, pressed)
		protocol.EncodeVLQUint(output, clock)
	})
}

func (s *ButtonService) reportError(pin GPIOPin, err error) {
	DebugPrintln("[buttons] " + err.Error())
	code := WireCode(err)
	s.send("button_error", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(pin))
		protocol.EncodeVLQUint(output, uint32(code))
	})
}

func (s *ButtonService) reportState(pin GPIOPin, pressed bool) {
	s.send("button_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(pin))
		encodeBool(output, pressed)
	})
}

// handleConfigButton configures and registers a button
// Format: config_button pin=%u pull_up=%c
func (s *ButtonService) handleConfigButton(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	pullUp, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	// Registration failures go back to the host as button_error; the rest
	// of the frame is still processed
	if err := s.AddButton(GPIOPin(pin), pullUp != 0); err != nil {
		s.reportError(GPIOPin(pin), err)
	}
	return nil
}

// handleButtonsStart starts periodic polling
// Format: buttons_start clock=%u rest_ticks=%u
func (s *ButtonService) handleButtonsStart(data *[]byte) error {
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	return s.StartPolling(clock, restTicks)
}

// handleButtonsStop stops periodic polling
func (s *ButtonService) handleButtonsStop(data *[]byte) error {
	s.StopPolling()
	return nil
}

// handleQueryState reports the last observed state of one button
// Format: button_query_state pin=%u
func (s *ButtonService) handleQueryState(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	pressed, err := s.registry.GetState(GPIOPin(pin))
	if err != nil {
		s.reportError(GPIOPin(pin), err)
		return nil
	}

	s.reportState(GPIOPin(pin), pressed)
	return nil
}

// handleButtonsList reports every registered button in registration order
func (s *ButtonService) handleButtonsList(data *[]byte) error {
	for _, pin := range s.registry.Pins() {
		pressed, _ := s.registry.GetState(pin)
		s.reportState(pin, pressed)
	}
	return nil
}

// halDriver forwards to the driver installed with SetGPIODriver, resolved on
// every call so targets may install it after InitButtonCommands.
type halDriver struct{}

func (halDriver) ReadPin(pin GPIOPin) bool {
	return MustGPIO().ReadPin(pin)
}

func (halDriver) ConfigureInputPullUp(pin GPIOPin) error {
	return MustGPIO().ConfigureInputPullUp(pin)
}

func (halDriver) ConfigureInputPullDown(pin GPIOPin) error {
	return MustGPIO().ConfigureInputPullDown(pin)
}

// Sample forwards to bank-sampling drivers
func (halDriver) Sample() error {
	if s, ok := MustGPIO().(Sampler); ok {
		return s.Sample()
	}
	return nil
}
