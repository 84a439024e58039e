// Package localgpio reads buttons wired straight to a Linux SBC's GPIO header
// through periph.io
package localgpio

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"gobutton/core"
)

// Init loads the periph host drivers. Safe to call more than once.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialise periph host: %w", err)
	}
	return nil
}

// Driver is a core.GPIODriver over periph's pin registry.
// Pin n is looked up as prefix+n, e.g. "GPIO17".
type Driver struct {
	prefix string

	mu   sync.RWMutex
	pins map[core.GPIOPin]gpio.PinIO
}

// New creates a driver naming pins with prefix
func New(prefix string) *Driver {
	return &Driver{
		prefix: prefix,
		pins:   make(map[core.GPIOPin]gpio.PinIO),
	}
}

// ConfigureInputPullUp configures pin as an input with pull-up
func (d *Driver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, gpio.PullUp)
}

// ConfigureInputPullDown configures pin as an input with pull-down
func (d *Driver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, gpio.PullDown)
}

func (d *Driver) configure(pin core.GPIOPin, pull gpio.Pull) error {
	name := d.prefix + strconv.Itoa(int(pin))
	p := gpioreg.ByName(name)
	if p == nil {
		return fmt.Errorf("no GPIO named %s", name)
	}
	if err := p.In(pull, gpio.NoEdge); err != nil {
		return fmt.Errorf("configure %s: %w", name, err)
	}

	d.mu.Lock()
	d.pins[pin] = p
	d.mu.Unlock()
	return nil
}

// ReadPin returns true when pin reads high. Unconfigured pins read low.
func (d *Driver) ReadPin(pin core.GPIOPin) bool {
	d.mu.RLock()
	p, ok := d.pins[pin]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	return p.Read() == gpio.High
}
