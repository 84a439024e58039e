package expander

import (
	"gobutton/core"
)

// Router presents native pins and one expander bank as a single
// core.GPIODriver. Pins [base, base+bank.Size()) go to the bank as
// pin-base; every other pin goes to native.
type Router struct {
	native core.GPIODriver
	bank   Bank
	base   core.GPIOPin
}

// NewRouter maps bank onto pin numbers starting at base
func NewRouter(native core.GPIODriver, bank Bank, base core.GPIOPin) *Router {
	return &Router{
		native: native,
		bank:   bank,
		base:   base,
	}
}

// route returns the driver for pin and the pin number it knows it by
func (r *Router) route(pin core.GPIOPin) (core.GPIODriver, core.GPIOPin) {
	if pin >= r.base && int(pin-r.base) < r.bank.Size() {
		return r.bank, pin - r.base
	}
	return r.native, pin
}

func (r *Router) ConfigureInputPullUp(pin core.GPIOPin) error {
	d, p := r.route(pin)
	return d.ConfigureInputPullUp(p)
}

func (r *Router) ConfigureInputPullDown(pin core.GPIOPin) error {
	d, p := r.route(pin)
	return d.ConfigureInputPullDown(p)
}

func (r *Router) ReadPin(pin core.GPIOPin) bool {
	d, p := r.route(pin)
	return d.ReadPin(p)
}

// Sample latches the bank, then the native pins if they support it
func (r *Router) Sample() error {
	if err := r.bank.Sample(); err != nil {
		return err
	}
	if s, ok := r.native.(core.Sampler); ok {
		return s.Sample()
	}
	return nil
}
