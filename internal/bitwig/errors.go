package bitwig

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by the bridge. Callers match them with errors.Is
// to distinguish missing targets from transport trouble.
var (
	// ErrTrackNotFound indicates the referenced track index does not exist
	// in the current project.
	ErrTrackNotFound = errors.New("track does not exist")

	// ErrDeviceNotFound indicates the referenced chain position holds no
	// device on the resolved track.
	ErrDeviceNotFound = errors.New("device does not exist")

	// ErrBadRequest indicates the bridge rejected the call arguments.
	ErrBadRequest = errors.New("bad request")

	// ErrBridgeUnavailable indicates the websocket link to the controller
	// extension could not be established or dropped mid-call.
	ErrBridgeUnavailable = errors.New("bridge unavailable")
)

// CallError is an application-level failure reported by the bridge for a
// single RPC method. Transport failures are not CallErrors.
type CallError struct {
	Method  string
	Code    string
	Message string
}

func (e *CallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: bridge error %s", e.Method, e.Code)
	}
	return fmt.Sprintf("%s: bridge error %s: %s", e.Method, e.Code, e.Message)
}

// remoteError maps a bridge error code onto the sentinel taxonomy, falling
// back to a CallError for codes the gateway has no special handling for.
func remoteError(method, code, message string) error {
	switch code {
	case "track_not_found":
		return fmt.Errorf("%s: %w", method, ErrTrackNotFound)
	case "device_not_found":
		return fmt.Errorf("%s: %w", method, ErrDeviceNotFound)
	case "bad_request":
		return fmt.Errorf("%s: %w: %s", method, ErrBadRequest, message)
	}
	return &CallError{Method: method, Code: code, Message: message}
}
