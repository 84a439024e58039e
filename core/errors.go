package core

import "errors"

// ErrorCode identifies a class of button registry failure
type ErrorCode string

const (
	CodeUnknownPin      ErrorCode = "UNKNOWN_PIN"
	CodeDuplicatePin    ErrorCode = "DUPLICATE_PIN"
	CodeInvalidHandlers ErrorCode = "INVALID_HANDLERS"
)

// ButtonError is returned by registration and state queries.
// Two ButtonErrors match under errors.Is when their codes are equal,
// so callers can test against the sentinels below regardless of pin.
type ButtonError struct {
	Code ErrorCode
	Pin  GPIOPin
}

var (
	// ErrUnknownPin: query against a pin that was never registered
	ErrUnknownPin = &ButtonError{Code: CodeUnknownPin}
	// ErrDuplicatePin: the pin is already registered
	ErrDuplicatePin = &ButtonError{Code: CodeDuplicatePin}
	// ErrInvalidHandlers: a handler pair with a nil press or release func
	ErrInvalidHandlers = &ButtonError{Code: CodeInvalidHandlers}
)

func newButtonError(code ErrorCode, pin GPIOPin) *ButtonError {
	return &ButtonError{Code: code, Pin: pin}
}

// Error implements the error interface without pulling in fmt
func (e *ButtonError) Error() string {
	msg := "button error"
	switch e.Code {
	case CodeUnknownPin:
		msg = "pin not registered"
	case CodeDuplicatePin:
		msg = "pin already registered"
	case CodeInvalidHandlers:
		msg = "press and release handlers must both be set"
	}
	return "[" + string(e.Code) + "] " + msg + ": pin " + itoa(int(e.Pin))
}

// Is implements errors.Is matching on the error code
func (e *ButtonError) Is(target error) bool {
	t, ok := target.(*ButtonError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WireCode maps an error to the numeric code carried by button_error responses.
// Anything that is not a ButtonError reports as a driver failure.
func WireCode(err error) uint8 {
	var be *ButtonError
	if !errors.As(err, &be) {
		return WireErrDriver
	}
	switch be.Code {
	case CodeUnknownPin:
		return WireErrUnknownPin
	case CodeDuplicatePin:
		return WireErrDuplicatePin
	case CodeInvalidHandlers:
		return WireErrInvalidHandlers
	}
	return WireErrDriver
}

// Error codes sent in button_error responses
const (
	WireErrUnknownPin      = 1
	WireErrDuplicatePin    = 2
	WireErrInvalidHandlers = 3
	WireErrDriver          = 4
)
