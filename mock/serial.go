package mock

import (
	"fmt"

	"github.com/roffe/goisobus"
)

// Serial is a scripted isobus.SerialPort.
type Serial struct {
	PortName string
	// Settings is what VerifyConfiguration compares against.
	Settings isobus.LineSettings
	// WriteErr, when set, fails every write.
	WriteErr error
	// AvailableErr, when set, fails every BytesAvailable call.
	AvailableErr error
	ResyncErr    error

	// Written holds every line written, without terminator.
	Written []string
	// Calls records the link management calls in order.
	Calls []string
	Polls int
	Reads int

	script
}

func NewSerial(name string, replies ...Reply) *Serial {
	return &Serial{
		PortName: name,
		Settings: isobus.ISOBUSLineSettings(isobus.CR),
		script:   script{replies: replies},
	}
}

// Script appends replies.
func (s *Serial) Script(replies ...Reply) {
	s.replies = append(s.replies, replies...)
}

func (s *Serial) Name() string {
	return s.PortName
}

func (s *Serial) WriteLine(line string) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Written = append(s.Written, line)
	s.next()
	return nil
}

func (s *Serial) ReadLine(maxLen int) (string, error) {
	s.Reads++
	return s.read(maxLen)
}

func (s *Serial) BytesAvailable() (int, error) {
	s.Polls++
	if s.AvailableErr != nil {
		return 0, s.AvailableErr
	}
	if s.pending == nil {
		return 0, nil
	}
	if s.pending.Err != nil {
		return 1, nil
	}
	return len(s.pending.Line), nil
}

func (s *Serial) VerifyConfiguration(want isobus.LineSettings) error {
	s.Calls = append(s.Calls, "verify")
	if want != s.Settings {
		return fmt.Errorf("%w: %s is configured as %s, expected %s", isobus.ErrConfiguration, s.PortName, s.Settings, want)
	}
	return nil
}

func (s *Serial) Resynchronize() error {
	s.Calls = append(s.Calls, "resync")
	s.pending = nil
	return s.ResyncErr
}

func (s *Serial) DiscardUnwrittenOutput() error {
	s.Calls = append(s.Calls, "discard-output")
	return nil
}

func (s *Serial) DiscardUnreadInput() error {
	s.Calls = append(s.Calls, "discard-input")
	s.pending = nil
	return nil
}
