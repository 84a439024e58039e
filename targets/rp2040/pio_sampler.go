//go:build rp2040

package main

import (
	"errors"
	"machine"

	"gobutton/core"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// buildSnapshotProgram waits for a trigger word, samples 32 pins from
// in_base and pushes them:
//
//	pull block
//	in   pins, 32
//	push block
func buildSnapshotProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),
		asm.In(rp2pio.InSrcPins, 32).Encode(),
		asm.Push(false, true).Encode(),
	}
}

var errStateMachineBusy = errors.New("PIO0 state machine 0 already claimed")

// PIOSampler latches all GPIO inputs at once through a PIO state machine.
// Pin configuration (pulls) still goes through the SIO driver.
type PIOSampler struct {
	pins     *RPGPIODriver
	pio      *rp2pio.PIO
	sm       rp2pio.StateMachine
	snapshot uint32
}

// NewPIOSampler claims a state machine on PIO0 and starts the snapshot program
func NewPIOSampler(pins *RPGPIODriver) (*PIOSampler, error) {
	s := &PIOSampler{
		pins: pins,
		pio:  rp2pio.PIO0,
	}
	s.sm = s.pio.StateMachine(0)
	if !s.sm.TryClaim() {
		return nil, errStateMachineBusy
	}

	program := buildSnapshotProgram()
	offset, err := s.pio.AddProgram(program, -1)
	if err != nil {
		s.sm.Unclaim()
		return nil, err
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetInPins(machine.GPIO0, 32)
	cfg.SetInShift(false, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1, 0)

	s.sm.Init(offset, cfg)
	s.sm.SetEnabled(true)
	return s, nil
}

func (s *PIOSampler) ConfigureInputPullUp(pin core.GPIOPin) error {
	return s.pins.ConfigureInputPullUp(pin)
}

func (s *PIOSampler) ConfigureInputPullDown(pin core.GPIOPin) error {
	return s.pins.ConfigureInputPullDown(pin)
}

// Sample triggers one snapshot and waits for it
func (s *PIOSampler) Sample() error {
	s.sm.TxPut(0)
	s.snapshot = s.sm.RxGet()
	return nil
}

// ReadPin reads pin from the last snapshot
func (s *PIOSampler) ReadPin(pin core.GPIOPin) bool {
	if pin >= gpioCount {
		return false
	}
	return s.snapshot&(1<<pin) != 0
}
