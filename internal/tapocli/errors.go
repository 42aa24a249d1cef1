package tapocli

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed helper invocation.
type ErrorKind int

const (
	// KindNone means the invocation did not fail.
	KindNone ErrorKind = iota
	// KindInvalidAddress means the helper did not finish within the timeout.
	KindInvalidAddress
	// KindAuthenticationFailed means the device rejected the credentials.
	KindAuthenticationFailed
	// KindCannotConnect means the helper could not reach the device.
	KindCannotConnect
	// KindInvalidResponse means the info output was not a JSON object.
	KindInvalidResponse
	// KindUnknown covers any other stderr output.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidAddress:
		return "invalid_address"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindCannotConnect:
		return "cannot_connect"
	case KindInvalidResponse:
		return "invalid_response"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel errors, one per kind. Every *Error matches exactly one of them
// through errors.Is.
var (
	ErrInvalidAddress       = errors.New("device did not respond before timeout")
	ErrAuthenticationFailed = errors.New("device login failed")
	ErrCannotConnect        = errors.New("cannot connect to device")
	ErrInvalidResponse      = errors.New("invalid response from helper")
	ErrUnknown              = errors.New("unknown helper error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidAddress:
		return ErrInvalidAddress
	case KindAuthenticationFailed:
		return ErrAuthenticationFailed
	case KindCannotConnect:
		return ErrCannotConnect
	case KindInvalidResponse:
		return ErrInvalidResponse
	case KindUnknown:
		return ErrUnknown
	default:
		return nil
	}
}

// Error is returned by every failing Client call.
type Error struct {
	Kind    ErrorKind
	Command string
	// Stderr holds the helper's standard error text, if any.
	Stderr string
	// Err is the underlying cause (process or decode failure), if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("tapo2 %s: %v", e.Command, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf reports the kind of err. Errors that did not come from a Client are
// reported as KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Kind
	}
	return KindUnknown
}
