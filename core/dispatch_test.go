package core

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// levelReader returns whatever level the test last set for each pin
type levelReader struct {
	levels map[GPIOPin]bool
	reads  []GPIOPin
}

func newLevelReader() *levelReader {
	return &levelReader{levels: make(map[GPIOPin]bool)}
}

func (r *levelReader) ReadPin(pin GPIOPin) bool {
	r.reads = append(r.reads, pin)
	return r.levels[pin]
}

// samplingReader counts Sample calls and can fail them
type samplingReader struct {
	*levelReader
	samples int
	err     error
}

func (r *samplingReader) Sample() error {
	r.samples++
	return r.err
}

func TestUpdateCounterScenario(t *testing.T) {
	reg := NewButtonRegistry()
	counter := 0
	_, err := reg.RegisterWithHandlers(5,
		func() { counter++ },
		func() { counter-- },
	)
	require.NoError(t, err)

	reader := newLevelReader()
	engine := NewDispatchEngine(reg, reader)

	var got []int
	for _, level := range []bool{false, true, true, false} {
		reader.levels[5] = level
		engine.Update()
		got = append(got, counter)
	}

	assert.Equal(t, []int{0, 1, 1, 0}, got)
}

func TestUpdateIdempotent(t *testing.T) {
	reg := NewButtonRegistry()
	require.NoError(t, reg.RegisterMany(1, 2))

	calls := 0
	reader := newLevelReader()
	engine := NewDispatchEngine(reg, reader, WithGlobalHandlers(GlobalHandlers{
		OnPress:   func(GPIOPin) { calls++ },
		OnRelease: func(GPIOPin) { calls++ },
	}))

	reader.levels[1] = true
	assert.Equal(t, 1, engine.Update())
	assert.Equal(t, 1, calls)

	assert.Equal(t, 0, engine.Update())
	assert.Equal(t, 1, calls)
}

func TestPerButtonHandlerFiresBeforeGlobal(t *testing.T) {
	reg := NewButtonRegistry()
	var order []string
	_, err := reg.RegisterWithHandlers(8,
		func() { order = append(order, "button press") },
		func() { order = append(order, "button release") },
	)
	require.NoError(t, err)

	reader := newLevelReader()
	engine := NewDispatchEngine(reg, reader).SetGlobalHandlers(
		func(pin GPIOPin) { order = append(order, "global press "+itoa(int(pin))) },
		func(pin GPIOPin) { order = append(order, "global release "+itoa(int(pin))) },
	)

	reader.levels[8] = true
	engine.Update()
	reader.levels[8] = false
	engine.Update()

	assert.Equal(t, []string{
		"button press",
		"global press 8",
		"button release",
		"global release 8",
	}, order)
}

func TestTransitionOnlyFiresOwnHandlers(t *testing.T) {
	reg := NewButtonRegistry()
	var pPresses, qPresses int
	_, err := reg.RegisterWithHandlers(1, func() { pPresses++ }, func() {})
	require.NoError(t, err)
	_, err = reg.RegisterWithHandlers(2, func() { qPresses++ }, func() {})
	require.NoError(t, err)

	var globalPins []GPIOPin
	reader := newLevelReader()
	engine := NewDispatchEngine(reg, reader, WithGlobalHandlers(GlobalHandlers{
		OnPress: func(pin GPIOPin) { globalPins = append(globalPins, pin) },
	}))

	reader.levels[1] = true
	engine.Update()

	assert.Equal(t, 1, pPresses)
	assert.Equal(t, 0, qPresses)
	assert.Equal(t, []GPIOPin{1}, globalPins)
}

func TestHandlersSeeUpdatedState(t *testing.T) {
	reg := NewButtonRegistry()
	var seen []bool
	_, err := reg.RegisterWithHandlers(6,
		func() {
			s, _ := reg.GetState(6)
			seen = append(seen, s)
		},
		func() {
			s, _ := reg.GetState(6)
			seen = append(seen, s)
		},
	)
	require.NoError(t, err)

	reader := newLevelReader()
	engine := NewDispatchEngine(reg, reader)
	reader.levels[6] = true
	engine.Update()
	reader.levels[6] = false
	engine.Update()

	assert.Equal(t, []bool{true, false}, seen)
}

func TestStateChangesOnlyWhenReadDiffers(t *testing.T) {
	pins := []GPIOPin{0, 3, 9, 17}
	reg := NewButtonRegistry()
	require.NoError(t, reg.RegisterMany(pins...))

	reader := newLevelReader()
	transitions := make(map[GPIOPin]int)
	engine := NewDispatchEngine(reg, reader, WithGlobalHandlers(GlobalHandlers{
		OnPress:   func(pin GPIOPin) { transitions[pin]++ },
		OnRelease: func(pin GPIOPin) { transitions[pin]++ },
	}))

	rng := rand.New(rand.NewSource(42))
	want := make(map[GPIOPin]int)
	for step := 0; step < 200; step++ {
		expectedFired := 0
		for _, pin := range pins {
			before, err := reg.GetState(pin)
			require.NoError(t, err)
			level := rng.Intn(2) == 1
			reader.levels[pin] = level
			if level != before {
				want[pin]++
				expectedFired++
			}
		}

		require.Equal(t, expectedFired, engine.Update(), "step %d", step)

		for _, pin := range pins {
			state, err := reg.GetState(pin)
			require.NoError(t, err)
			require.Equal(t, reader.levels[pin], state, "step %d pin %d", step, pin)
		}
	}
	assert.Equal(t, want, transitions)
}

func TestUpdateReadsInRegistrationOrder(t *testing.T) {
	reg := NewButtonRegistry()
	require.NoError(t, reg.RegisterMany(9, 1, 5))

	reader := newLevelReader()
	NewDispatchEngine(reg, reader).Update()

	assert.Equal(t, []GPIOPin{9, 1, 5}, reader.reads)
}

func TestSetGlobalHandlersLeavesOriginalEngine(t *testing.T) {
	reg := NewButtonRegistry()
	require.NoError(t, reg.RegisterMany(1, 2))

	reader := newLevelReader()
	base := NewDispatchEngine(reg, reader)

	var pressed []GPIOPin
	withGlobal := base.SetGlobalHandlers(func(pin GPIOPin) { pressed = append(pressed, pin) }, nil)
	assert.Same(t, reg, withGlobal.Registry())

	reader.levels[1] = true
	base.Update()
	assert.Empty(t, pressed)

	reader.levels[2] = true
	withGlobal.Update()
	assert.Equal(t, []GPIOPin{2}, pressed)

	// nil release handler: releasing dispatches nothing and does not panic
	reader.levels[2] = false
	assert.NotPanics(t, func() { withGlobal.Update() })
}

func TestNoHandlersAnywhereStillTracksState(t *testing.T) {
	reg := NewButtonRegistry()
	_, err := reg.Register(11)
	require.NoError(t, err)

	reader := newLevelReader()
	engine := NewDispatchEngine(reg, reader)
	reader.levels[11] = true
	assert.Equal(t, 1, engine.Update())

	state, err := reg.GetState(11)
	require.NoError(t, err)
	assert.True(t, state)
}

func TestUpdateFromHandlerPanics(t *testing.T) {
	reg := NewButtonRegistry()
	reader := newLevelReader()
	var engine *DispatchEngine
	_, err := reg.RegisterWithHandlers(1, func() { engine.Update() }, func() {})
	require.NoError(t, err)
	engine = NewDispatchEngine(reg, reader)

	reader.levels[1] = true
	assert.Panics(t, func() { engine.Update() })

	// The guard is released once the panic unwinds
	reader.levels[1] = false
	assert.NotPanics(t, func() { engine.Update() })
}

func TestRegisterFromHandlerPanics(t *testing.T) {
	reg := NewButtonRegistry()
	require.NoError(t, reg.RegisterMany(1))

	reader := newLevelReader()
	engine := NewDispatchEngine(reg, reader, WithGlobalHandlers(GlobalHandlers{
		OnPress: func(GPIOPin) { _, _ = reg.Register(2) },
	}))

	reader.levels[1] = true
	assert.Panics(t, func() { engine.Update() })
	assert.False(t, reg.Contains(2))
}

func TestSamplerCalledOncePerUpdate(t *testing.T) {
	reg := NewButtonRegistry()
	require.NoError(t, reg.RegisterMany(1, 2, 3))

	reader := &samplingReader{levelReader: newLevelReader()}
	engine := NewDispatchEngine(reg, reader)

	engine.Update()
	engine.Update()
	assert.Equal(t, 2, reader.samples)
	assert.Len(t, reader.reads, 6)
}

func TestSampleErrorSkipsPass(t *testing.T) {
	reg := NewButtonRegistry()
	require.NoError(t, reg.RegisterMany(1))

	reader := &samplingReader{levelReader: newLevelReader(), err: errors.New("i2c nack")}
	reader.levels[1] = true
	engine := NewDispatchEngine(reg, reader)

	assert.Equal(t, 0, engine.Update())
	assert.Empty(t, reader.reads)
	state, err := reg.GetState(1)
	require.NoError(t, err)
	assert.False(t, state)

	reader.err = nil
	assert.Equal(t, 1, engine.Update())
}
