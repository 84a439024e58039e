package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")

	assert.Equal(t, "/dev/ttyACM0", cfg.Device)
	assert.Equal(t, 250000, cfg.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.ReadTimeout)
}

func TestOpenRejectsEmptyConfig(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)

	_, err = Open(&Config{Baud: 250000})
	assert.ErrorContains(t, err, "device not set")
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(DefaultConfig("/dev/does-not-exist-buttonmon"))
	assert.ErrorContains(t, err, "/dev/does-not-exist-buttonmon")
}
