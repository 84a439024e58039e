// Package protocol implements the Klipper message block protocol used between
// the button firmware and its host tools
package protocol

// Version is the wire protocol implementation version
const Version = "0.1.0"

// Protocol constants
const (
	MessageMax = 512 // Firmware output buffer size; several frames may be queued per loop

	// Message sequence masks
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)
