//go:build rp2040

package main

// Board wiring. Buttons themselves are configured by the host with
// config_button; these only pick the input path.
const (
	// usePIOSampler latches GPIO0-29 with one PIO read per poll pass instead of
	// reading each pin through SIO
	usePIOSampler = true

	// useExpander routes pins expanderBase..expanderBase+15 to an MCP23017
	useExpander  = false
	expanderAddr = 0x20
	expanderBase = 32
	expanderSDA  = 4 // I2C0 SDA=GP4, SCL=GP5
	expanderSCL  = 5

	// Default poll period advertised in the dictionary, in timer ticks
	defaultPollTicks = 5000

	gpioCount = 30
)
