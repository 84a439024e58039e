package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint8

// PinReader reads the logic level of an input pin.
// true means logic high, which is treated as "pressed".
// Implementations must not touch any button registry.
type PinReader interface {
	ReadPin(pin GPIOPin) bool
}

// PinReaderFunc adapts a plain function to PinReader
type PinReaderFunc func(pin GPIOPin) bool

// ReadPin calls f(pin)
func (f PinReaderFunc) ReadPin(pin GPIOPin) bool {
	return f(pin)
}

// Sampler is implemented by readers that latch a whole bank of pins at once
// (I/O expanders, PIO snapshots). The dispatch engine calls Sample once at
// the start of every update pass, before any ReadPin.
type Sampler interface {
	Sample() error
}

// GPIODriver is the abstract GPIO input interface that firmware code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	PinReader

	// ConfigureInputPullUp configures a pin as a digital input with pull-up resistor
	ConfigureInputPullUp(pin GPIOPin) error

	// ConfigureInputPullDown configures a pin as a digital input with pull-down resistor
	ConfigureInputPullDown(pin GPIOPin) error
}

// Global singleton used by the firmware command layer.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}
