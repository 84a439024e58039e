//go:build rp2040

package main

import (
	"machine"
	"time"

	"gobutton/core"
	"gobutton/expander"
	"gobutton/protocol"
)

var (
	// Buffers for communication
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	// Debug counters
	messagesReceived uint32
	messagesSent     uint32
	msgerrors        uint32

	// USB connection state tracking
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog left running across a reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()

	InitClock()
	core.TimerInit()

	// identify_response/identify must take IDs 0 and 1
	core.InitCoreCommands()
	core.InitButtonCommands()

	registerPins()
	core.RegisterConstant("BUTTON_POLL_TICKS", uint32(defaultPollTicks))
	core.SetGPIODriver(newButtonDriver())

	// Build and cache dictionary after all commands registered
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// Responses are written before the ACK that follows them
	transport.SetFlushCallback(writeUSB)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugPrintln("[cmd] " + err.Error())
	})
	core.SetGlobalTransport(transport)

	core.SetResetHandler(func() {
		// Watchdog reset re-enumerates USB more reliably than SYSRESETREQ
		if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
			return
		}
		if err := machine.Watchdog.Start(); err != nil {
			return
		}
		for {
			time.Sleep(time.Millisecond)
		}
	})

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				inputBuf := protocol.NewSliceInputBuffer(data)

				transport.Receive(inputBuf)
				messagesReceived++

				if consumed := originalLen - inputBuf.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
				messagesSent++
			}

			// After the ACK has gone out
			core.CheckPendingReset()

			// Button polling runs from the scheduler
			core.ProcessTimers()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// newButtonDriver assembles the input path selected in board.go
func newButtonDriver() core.GPIODriver {
	pins := NewRPGPIODriver()

	var native core.GPIODriver = pins
	if usePIOSampler {
		if sampler, err := NewPIOSampler(pins); err == nil {
			native = sampler
		} else {
			core.DebugPrintln("[buttons] PIO sampler unavailable: " + err.Error())
		}
	}

	if useExpander {
		err := machine.I2C0.Configure(machine.I2CConfig{
			SDA:       machine.Pin(expanderSDA),
			SCL:       machine.Pin(expanderSCL),
			Frequency: 400000,
		})
		if err == nil {
			var chip *expander.MCP23017
			chip, err = expander.NewMCP23017(machine.I2C0, expanderAddr)
			if err == nil {
				return expander.NewRouter(native, chip, expanderBase)
			}
		}
		core.DebugPrintln("[buttons] expander unavailable: " + err.Error())
	}
	return native
}

// usbReaderLoop moves USB bytes into inputBuffer
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}

			// Fresh state for a reconnecting host
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				core.ResetFirmwareState()
				messagesReceived = 0
				messagesSent = 0
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// registerPins publishes pin names: gpio0-29, then exp0-15 when an expander
// is fitted. Unnamed indices between the two are left out of the dictionary.
func registerPins() {
	count := gpioCount
	if useExpander {
		count = expanderBase + 16
	}
	names := make([]string, count)
	for i := 0; i < gpioCount; i++ {
		names[i] = "gpio" + itoa(i)
	}
	if useExpander {
		for i := 0; i < 16; i++ {
			names[expanderBase+i] = "exp" + itoa(i)
		}
	}
	core.RegisterEnumeration("pin", names)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [10]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// writeUSB drains outputBuffer, treating repeated failures as a disconnect
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				// Drop stale data
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
