package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Handler return values
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer adds a timer to the schedule, ordered by WakeTime.
// A timer that is already scheduled is moved rather than queued twice.
func ScheduleTimer(t *Timer) {
	irq := maskIRQ()
	defer unmaskIRQ(irq)

	removeTimer(t)
	insertTimer(t)
}

// CancelTimer removes t from the schedule. It reports whether t was scheduled.
func CancelTimer(t *Timer) bool {
	irq := maskIRQ()
	defer unmaskIRQ(irq)

	return removeTimer(t)
}

// timerIsBefore compares clocks across 32-bit wraparound. Times more than
// half the counter range apart compare wrongly.
func timerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// insertTimer inserts a timer in sorted order by WakeTime
func insertTimer(t *Timer) {
	if timerList == nil || timerIsBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !timerIsBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// removeTimer unlinks t; caller has masked IRQs
func removeTimer(t *Timer) bool {
	for link := &timerList; *link != nil; link = &(*link).Next {
		if *link == t {
			*link = t.Next
			t.Next = nil
			return true
		}
	}
	return false
}

// TimerDispatch runs every timer whose WakeTime has been reached
func TimerDispatch() {
	irq := maskIRQ()
	defer unmaskIRQ(irq)

	for timerList != nil && !timerIsBefore(currentTime, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

// resetTimers drops every scheduled timer
func resetTimers() {
	irq := maskIRQ()
	defer unmaskIRQ(irq)

	for timerList != nil {
		next := timerList.Next
		timerList.Next = nil
		timerList = next
	}
}
