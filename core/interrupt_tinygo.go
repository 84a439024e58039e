//go:build tinygo

package core

import "runtime/interrupt"

type irqState = interrupt.State

// maskIRQ keeps timer interrupts out while the timer list is edited.
// Nesting is allowed; unmaskIRQ restores the previous state.
func maskIRQ() irqState {
	return interrupt.Disable()
}

func unmaskIRQ(s irqState) {
	interrupt.Restore(s)
}
