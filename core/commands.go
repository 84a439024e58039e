package core

import (
	"gobutton/protocol"
	"sync/atomic"
)

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  uint32 // atomic
	isShutdown uint32 // atomic bool
	moveCount  uint16
}

var globalState = &FirmwareState{
	moveCount: 16, // Klipper hosts refuse an MCU reporting fewer
}

var (
	// Global transport for sending responses (set by main)
	globalTransport *protocol.Transport

	// Platform reset handler (set by target-specific code)
	globalResetHandler func()

	// resetPending is set by the reset command and acted on in the main loop
	resetPending uint32 // atomic bool

	shutdownHooks    []func()
	configResetHooks []func()
)

// InitCoreCommands registers the protocol bootstrap and housekeeping commands.
// Klipper hosts hardcode identify_response = 0 and identify = 1, so this
// must run before any other registration.
func InitCoreCommands() {
	RegisterCommand("identify_response", "offset=%u data=%*s", nil) // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
}

// handleIdentify returns chunks of the data dictionary
// Format: identify offset=%u count=%c
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})

	return nil
}

// handleGetUptime returns the system uptime
func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()

	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})

	return nil
}

// handleGetClock returns the current clock value
func handleGetClock(data *[]byte) error {
	clock := GetTime()

	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})

	return nil
}

// handleGetConfig returns the configuration state
func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)

	SendResponse("config", func(output protocol.OutputBuffer) {
		encodeBool(output, crc != 0)
		protocol.EncodeVLQUint(output, crc)
		encodeBool(output, IsShutdown())
		protocol.EncodeVLQUint(output, uint32(globalState.moveCount))
	})

	return nil
}

// handleConfigReset clears the configuration CRC and everything configured
// since the last reset
func handleConfigReset(data *[]byte) error {
	resetConfig()
	return nil
}

func resetConfig() {
	atomic.StoreUint32(&globalState.configCRC, 0)
	for _, hook := range configResetHooks {
		hook()
	}
}

// handleFinalizeConfig finalizes the configuration with a CRC
// Format: finalize_config crc=%u
func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

// handleEmergencyStop enters shutdown
func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency_stop")
	return nil
}

// handleReset defers the hardware reset to the main loop so the ACK goes out first
func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// RegisterShutdownHook adds a function run once per shutdown, in registration order
func RegisterShutdownHook(hook func()) {
	shutdownHooks = append(shutdownHooks, hook)
}

// RegisterConfigResetHook adds a function run on config_reset and on host
// reconnect, in registration order
func RegisterConfigResetHook(hook func()) {
	configResetHooks = append(configResetHooks, hook)
}

// TryShutdown marks the firmware as shut down and runs the shutdown hooks.
// Repeated calls while already shut down do nothing.
func TryShutdown(reason string) {
	if !atomic.CompareAndSwapUint32(&globalState.isShutdown, 0, 1) {
		return
	}
	DebugPrintln("[core] shutdown: " + reason)
	for _, hook := range shutdownHooks {
		hook()
	}
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ResetFirmwareState clears the shutdown flag and config state on host reconnect
func ResetFirmwareState() {
	resetConfig()
	atomic.StoreUint32(&globalState.isShutdown, 0)
}

// SendResponse encodes a registered response on the global transport.
// Without a transport (tests, early boot) it does nothing.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}

	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		// All responses are registered at init; a miss is a firmware bug
		panic("Response not registered: " + responseName)
	}

	globalTransport.SendCommand(cmd.ID, args)
}

// SetGlobalTransport sets the global transport for sending responses
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

// CheckPendingReset runs the reset handler if a reset was requested.
// Call from the main loop after pending output is flushed.
func CheckPendingReset() {
	if atomic.LoadUint32(&resetPending) != 0 && globalResetHandler != nil {
		globalResetHandler()
	}
}

func encodeBool(output protocol.OutputBuffer, v bool) {
	if v {
		protocol.EncodeVLQUint(output, 1)
	} else {
		protocol.EncodeVLQUint(output, 0)
	}
}
