package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// ButtonEvent is one recorded transition, kept for post-mortem dumps
type ButtonEvent struct {
	Pin     GPIOPin
	Pressed bool
	Clock   uint32 // System clock when the transition was dispatched
	Seq     uint32 // Running transition counter, 0 marks an empty slot
}

const (
	EventRingSize = 32 // Keep the last 32 transitions
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled gates DebugPrintln; off by default
	debugEnabled bool = false

	eventRing     [EventRingSize]ButtonEvent
	eventRingHead uint8
	eventSeq      uint32

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			if debugPrintln != nil {
				debugPrintln(msg)
			}
		}
	}()
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message without blocking; drops it when the queue is full
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordButtonEvent stores a transition in the ring buffer
func RecordButtonEvent(pin GPIOPin, pressed bool, clock uint32) {
	eventSeq++
	idx := eventRingHead
	eventRing[idx] = ButtonEvent{
		Pin:     pin,
		Pressed: pressed,
		Clock:   clock,
		Seq:     eventSeq,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// RecentEvents returns the recorded transitions, oldest first
func RecentEvents() []ButtonEvent {
	out := make([]ButtonEvent, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.Seq == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// DumpEventRing writes the ring buffer through the debug writer
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Button Event Dump ===")
	debugPrintln("[EVENTS] Total transitions: " + utoa(eventSeq))
	for _, evt := range RecentEvents() {
		name := "RELEASE"
		if evt.Pressed {
			name = "PRESS"
		}
		debugPrintln("[EVENTS] #" + utoa(evt.Seq) + " " + name +
			" pin=" + itoa(int(evt.Pin)) +
			" clock=" + utoa(evt.Clock))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEventRing clears the ring buffer and the transition counter
func ClearEventRing() {
	for i := range eventRing {
		eventRing[i] = ButtonEvent{}
	}
	eventRingHead = 0
	eventSeq = 0
}
