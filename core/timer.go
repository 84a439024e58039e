package core

// TimerFreq is the tick rate of the system clock (RP2040 microsecond timer)
const (
	TimerFreq = 1000000
)

var (
	systemTicks uint32
	bootTime    uint32
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (target clock code and tests)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns ticks since TimerInit. The counter is 32-bit, so this
// wraps after ~71 minutes at 1MHz.
func GetUptime() uint64 {
	return uint64(GetTime() - bootTime)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerInit records the boot time
func TimerInit() {
	bootTime = GetTime()
}

// ProcessTimers latches the clock and runs due timers.
// Called once per main-loop iteration.
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
