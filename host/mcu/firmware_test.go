package mcu

import (
	"net"
	"testing"

	"gobutton/core"
	"gobutton/protocol"
)

// pinDriver is an in-memory GPIO bank
type pinDriver struct {
	levels  map[core.GPIOPin]bool
	pullUps map[core.GPIOPin]bool
}

func (d *pinDriver) ReadPin(pin core.GPIOPin) bool { return d.levels[pin] }

func (d *pinDriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	d.pullUps[pin] = true
	return nil
}

func (d *pinDriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	d.pullUps[pin] = false
	return nil
}

// fakeFirmware runs the core button service behind a firmware transport on
// one end of a pipe. All firmware state is touched only on its own goroutine;
// tests reach it through do.
type fakeFirmware struct {
	registry *core.CommandRegistry
	dict     *core.Dictionary
	buttons  *core.ButtonService
	driver   *pinDriver
	out      *protocol.ScratchOutput
	tr       *protocol.Transport

	actions chan func()
}

func startFirmware(t *testing.T) (*fakeFirmware, *MCU) {
	t.Helper()

	fw := &fakeFirmware{
		registry: core.NewCommandRegistry(),
		driver: &pinDriver{
			levels:  make(map[core.GPIOPin]bool),
			pullUps: make(map[core.GPIOPin]bool),
		},
		out:     protocol.NewScratchOutput(),
		actions: make(chan func()),
	}
	fw.tr = protocol.NewTransport(fw.out, fw.registry.Dispatch)

	fw.registry.Register("identify_response", "offset=%u data=%*s", nil)
	fw.registry.Register("identify", "offset=%u count=%c", fw.handleIdentify)
	fw.registry.Register("get_clock", "", fw.handleGetClock)
	fw.registry.Register("clock", "clock=%u", nil)

	fw.buttons = core.NewButtonService(fw.driver, fw.send)
	fw.buttons.RegisterCommands(fw.registry)
	fw.registry.Register("config_reset", "", func(data *[]byte) error {
		fw.buttons.Reset()
		return nil
	})

	fw.dict = core.NewDictionary(fw.registry)
	fw.dict.AddConstant("CLOCK_FREQ", uint32(core.TimerFreq))
	fw.dict.AddConstant("MCU", "test")
	fw.dict.BuildDictionary()

	hostEnd, mcuEnd := net.Pipe()
	done := make(chan struct{})
	input := make(chan []byte)

	go func() {
		defer close(input)
		buf := make([]byte, 128)
		for {
			n, err := mcuEnd.Read(buf)
			if err != nil {
				return
			}
			input <- append([]byte(nil), buf[:n]...)
		}
	}()

	go func() {
		defer close(done)
		defer mcuEnd.Close()
		fifo := protocol.NewFifoBuffer(protocol.MessageMax)
		for {
			select {
			case data, ok := <-input:
				if !ok {
					return
				}
				fifo.Write(data)
				fw.tr.Receive(fifo)
			case fn := <-fw.actions:
				fn()
			}

			if fw.out.CurPosition() > 0 {
				pending := append([]byte(nil), fw.out.Result()...)
				fw.out.Reset()
				if _, err := mcuEnd.Write(pending); err != nil {
					return
				}
			}
		}
	}()

	m := New(hostEnd)
	t.Cleanup(func() {
		_ = m.Close()
		<-done
	})
	return fw, m
}

// do runs fn on the firmware goroutine and waits for it
func (fw *fakeFirmware) do(fn func()) {
	finished := make(chan struct{})
	fw.actions <- func() {
		fn()
		close(finished)
	}
	<-finished
}

func (fw *fakeFirmware) send(name string, args func(output protocol.OutputBuffer)) {
	cmd, ok := fw.registry.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	fw.tr.SendCommand(cmd.ID, args)
}

func (fw *fakeFirmware) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := fw.dict.GetChunk(offset, uint8(count))
	fw.send("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func (fw *fakeFirmware) handleGetClock(data *[]byte) error {
	fw.send("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, core.GetTime())
	})
	return nil
}
