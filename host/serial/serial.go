// Package serial opens the USB CDC / UART link to the button firmware
package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// Port is the byte stream the host transport runs on. Tests substitute an
// in-memory pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it
	Baud int

	// ReadTimeout bounds each Read so the transport can notice Close
	ReadTimeout time.Duration
}

// DefaultConfig returns the Klipper-compatible defaults for device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// NativePort wraps a tarm/serial port
type NativePort struct {
	port   *serial.Port
	cfg    Config
	closed uint32
}

// Open opens a native serial port
func Open(cfg *Config) (*NativePort, error) {
	if cfg == nil {
		return nil, errors.New("serial config cannot be nil")
	}
	if cfg.Device == "" {
		return nil, errors.New("serial device not set")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &NativePort{port: port, cfg: *cfg}, nil
}

// Device returns the path the port was opened with
func (p *NativePort) Device() string {
	return p.cfg.Device
}

// Read reads from the port. tarm/serial reports an expired read timeout as
// io.EOF; that is turned into an empty read while the port is open.
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if errors.Is(err, io.EOF) {
		if atomic.LoadUint32(&p.closed) != 0 {
			return n, io.EOF
		}
		return n, nil
	}
	return n, err
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port; later reads return io.EOF
func (p *NativePort) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return nil
	}
	return p.port.Close()
}

// Flush discards pending input and output
func (p *NativePort) Flush() error {
	return p.port.Flush()
}
