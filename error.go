package isobus

import (
	"errors"
	"fmt"
)

var (
	ErrNullArgument       = errors.New("null argument")
	ErrConfiguration      = errors.New("configuration error")
	ErrIO                 = errors.New("i/o error")
	ErrTimeout            = errors.New("timed out")
	ErrDeviceActionFailed = errors.New("device action failed")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrCommandTooLong     = errors.New("command too long")

	// ErrUnsupportedTransport also matches ErrConfiguration.
	ErrUnsupportedTransport error = &subError{"unsupported transport", ErrConfiguration}
	// ErrRetriesExhausted also matches ErrTimeout.
	ErrRetriesExhausted error = &subError{"retries exhausted", ErrTimeout}
)

type subError struct {
	msg    string
	parent error
}

func (e *subError) Error() string {
	return e.msg
}

func (e *subError) Is(target error) bool {
	return target == e.parent
}

// CommandError is returned for everything that goes wrong while executing a
// command. Kind is one of the ErrXxx values above.
type CommandError struct {
	Kind      error
	Interface string
	Command   string
	// Response is the controller's own error message for ErrDeviceActionFailed.
	Response string
	// Retries is how many retries were used up, for ErrRetriesExhausted.
	Retries int
	Err     error
}

func (e *CommandError) Error() string {
	switch e.Kind {
	case ErrDeviceActionFailed:
		return fmt.Sprintf("the command '%s' to ISOBUS interface '%s' failed. Controller error message = '%s'",
			e.Command, e.Interface, e.Response)
	case ErrRetriesExhausted:
		msg := fmt.Sprintf("the command '%s' to ISOBUS interface '%s' is still failing after %d retries. Giving up",
			e.Command, e.Interface, e.Retries)
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	msg := fmt.Sprintf("%v: ISOBUS interface '%s'", e.Kind, e.Interface)
	if e.Command != "" {
		msg += fmt.Sprintf(" command '%s'", e.Command)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// writeError marks a failed write, which leaves the link in an unknown state
// and is never retried.
type writeError struct {
	error
}

func (e *writeError) Unwrap() error {
	return e.error
}

func isWriteError(err error) bool {
	var we *writeError
	return errors.As(err, &we)
}
