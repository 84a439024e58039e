//go:build !tinygo

package core

// getSystemTicks returns the current system ticks (host builds and tests)
func getSystemTicks() uint32 {
	return systemTicks
}

// setSystemTicks sets the system ticks (host builds and tests)
func setSystemTicks(ticks uint32) {
	systemTicks = ticks
}
