//go:build rp2040

package main

import (
	"errors"
	"machine"

	"gobutton/core"
)

var errNoSuchPin = errors.New("no such GPIO")

// RPGPIODriver implements core.GPIODriver on the RP2040's SIO pins
type RPGPIODriver struct {
	// Track configured pins so reconfiguration is a no-op
	configuredPins map[core.GPIOPin]machine.Pin
}

// NewRPGPIODriver creates a new RP2040 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		configuredPins: make(map[core.GPIOPin]machine.Pin),
	}
}

func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

func (d *RPGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPulldown)
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	if pin >= gpioCount {
		return errNoSuchPin
	}
	if _, exists := d.configuredPins[pin]; exists {
		return nil
	}

	// GPIO0 = 0, GPIO1 = 1, etc.
	machinePin := machine.Pin(pin)
	machinePin.Configure(machine.PinConfig{Mode: mode})
	d.configuredPins[pin] = machinePin
	return nil
}

// ReadPin reads an SIO pin; unconfigured pins read low
func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return false
	}
	return machinePin.Get()
}
