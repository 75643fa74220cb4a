package isobus

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandError_Is(t *testing.T) {
	cause := &CommandError{Kind: ErrDeviceActionFailed, Interface: "isobus1", Command: "@6V", Response: "?V"}
	exhausted := &CommandError{Kind: ErrRetriesExhausted, Interface: "isobus1", Command: "@6V", Retries: 2, Err: cause}

	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"exhausted", exhausted, ErrRetriesExhausted, true},
		{"exhausted is timeout", exhausted, ErrTimeout, true},
		{"exhausted cause", exhausted, ErrDeviceActionFailed, true},
		{"exhausted not io", exhausted, ErrIO, false},
		{"device", cause, ErrDeviceActionFailed, true},
		{"device not timeout", cause, ErrTimeout, false},
		{"unsupported is configuration", ErrUnsupportedTransport, ErrConfiguration, true},
		{"configuration is not unsupported", ErrConfiguration, ErrUnsupportedTransport, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestCommandError_Error(t *testing.T) {
	device := &CommandError{Kind: ErrDeviceActionFailed, Interface: "isobus1", Command: "@6V", Response: "?V"}
	if got, want := device.Error(), "the command '@6V' to ISOBUS interface 'isobus1' failed. Controller error message = '?V'"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	exhausted := &CommandError{Kind: ErrRetriesExhausted, Interface: "isobus1", Command: "@6V", Retries: 2, Err: device}
	if got := exhausted.Error(); !strings.HasPrefix(got, "the command '@6V' to ISOBUS interface 'isobus1' is still failing after 2 retries") {
		t.Errorf("Error() = %q", got)
	}
	io := &CommandError{Kind: ErrIO, Interface: "isobus1", Command: "@6V", Err: &writeError{errors.New("broken pipe")}}
	if got, want := io.Error(), "i/o error: ISOBUS interface 'isobus1' command '@6V': broken pipe"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !isWriteError(io) {
		t.Error("isWriteError() = false")
	}
}

func TestFlags(t *testing.T) {
	if got := Flags(0).ReadTerminator(); got != CR {
		t.Errorf("ReadTerminator() = %#x, want CR", got)
	}
	f := FlagDebug | FlagReadTerminatorIsLinefeed
	if got := f.ReadTerminator(); got != LF {
		t.Errorf("ReadTerminator() = %#x, want LF", got)
	}
	if !f.Has(FlagDebug) || Flags(2).Has(FlagDebug) {
		t.Error("Has() mismatch")
	}
}
