// Package expander reads buttons through GPIO expanders and routes pin
// numbers between an expander bank and the native pins.
package expander

import (
	"errors"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/mcp23017"

	"gobutton/core"
)

// ErrPinOutOfRange is returned when a pin does not exist on the bank
var ErrPinOutOfRange = errors.New("expander pin out of range")

// Bank is a group of expander inputs that are latched together
type Bank interface {
	core.GPIODriver
	core.Sampler

	// Size is the number of pins on the bank, numbered from 0
	Size() int
}

// MCP23017 reads 16 inputs (A0-A7 as 0-7, B0-B7 as 8-15) from one chip.
// All pins are latched by a single I2C read in Sample; ReadPin only looks at
// the latched value.
type MCP23017 struct {
	dev    *mcp23017.Device
	levels mcp23017.Pins
}

// NewMCP23017 opens the chip at addr (0x20-0x27) on bus
func NewMCP23017(bus drivers.I2C, addr uint8) (*MCP23017, error) {
	dev, err := mcp23017.NewI2C(bus, addr)
	if err != nil {
		return nil, err
	}
	return &MCP23017{dev: dev}, nil
}

// Size returns mcp23017.PinCount
func (m *MCP23017) Size() int {
	return mcp23017.PinCount
}

// ConfigureInputPullUp enables the chip's internal 100k pull-up
func (m *MCP23017) ConfigureInputPullUp(pin core.GPIOPin) error {
	return m.setMode(pin, mcp23017.Input|mcp23017.Pullup)
}

// ConfigureInputPullDown makes pin a plain input. The MCP23017 has no
// internal pull-downs, so the board must provide one.
func (m *MCP23017) ConfigureInputPullDown(pin core.GPIOPin) error {
	return m.setMode(pin, mcp23017.Input)
}

func (m *MCP23017) setMode(pin core.GPIOPin, mode mcp23017.PinMode) error {
	if int(pin) >= mcp23017.PinCount {
		return ErrPinOutOfRange
	}
	return m.dev.Pin(int(pin)).SetMode(mode)
}

// Sample latches both ports
func (m *MCP23017) Sample() error {
	pins, err := m.dev.GetPins()
	if err != nil {
		return err
	}
	m.levels = pins
	return nil
}

// ReadPin returns the level latched by the last Sample
func (m *MCP23017) ReadPin(pin core.GPIOPin) bool {
	if int(pin) >= mcp23017.PinCount {
		return false
	}
	return m.levels.Get(int(pin))
}
