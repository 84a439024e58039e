//go:build !tinygo

package core

// Host builds have no interrupts; the scheduler is only driven from the
// goroutine that calls ProcessTimers.
type irqState struct{}

func maskIRQ() irqState { return irqState{} }

func unmaskIRQ(irqState) {}
