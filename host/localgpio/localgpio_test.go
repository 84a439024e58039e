package localgpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"gobutton/core"
)

// gpioreg is process-wide, so the fake pins are registered once
var (
	pin5 = &gpiotest.Pin{N: "LGTEST5", Num: 5}
	pin6 = &gpiotest.Pin{N: "LGTEST6", Num: 6}
)

func init() {
	for _, p := range []*gpiotest.Pin{pin5, pin6} {
		if err := gpioreg.Register(p); err != nil {
			panic(err)
		}
	}
}

func TestConfigureAndRead(t *testing.T) {
	d := New("LGTEST")

	require.NoError(t, d.ConfigureInputPullUp(5))
	require.NoError(t, d.ConfigureInputPullDown(6))
	assert.Equal(t, gpio.PullUp, pin5.P)
	assert.Equal(t, gpio.PullDown, pin6.P)

	pin5.L = gpio.High
	pin6.L = gpio.Low
	assert.True(t, d.ReadPin(5))
	assert.False(t, d.ReadPin(6))

	pin5.L = gpio.Low
	assert.False(t, d.ReadPin(5))
}

func TestUnknownPin(t *testing.T) {
	d := New("LGTEST")

	err := d.ConfigureInputPullUp(42)
	assert.ErrorContains(t, err, "LGTEST42")
	assert.False(t, d.ReadPin(42))
}

func TestDriverRunsDispatch(t *testing.T) {
	d := New("LGTEST")
	require.NoError(t, d.ConfigureInputPullDown(5))
	pin5.L = gpio.Low

	reg := core.NewButtonRegistry()
	presses := 0
	_, err := reg.RegisterWithHandlers(5, func() { presses++ }, func() {})
	require.NoError(t, err)
	engine := core.NewDispatchEngine(reg, d)

	engine.Update()
	pin5.L = gpio.High
	engine.Update()
	engine.Update()

	assert.Equal(t, 1, presses)
}
