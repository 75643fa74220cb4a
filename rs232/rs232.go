// Package rs232 implements isobus.SerialPort on top of go.bug.st/serial.
package rs232

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/roffe/goisobus"
	"go.bug.st/serial"
)

// pollSlice is the read timeout of the underlying port. Reads return after
// at most this long with whatever arrived, which is what BytesAvailable
// and the ReadLine deadline are built on.
const pollSlice = 10 * time.Millisecond

type Config struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	// FlowControl is N (none), H (RTS/CTS) or S (XON/XOFF). Only N is
	// implemented by the port, the others are reported by VerifyConfiguration.
	FlowControl     byte
	ReadTerminator  byte
	WriteTerminator byte
	// ReadTimeout bounds ReadLine.
	ReadTimeout time.Duration
}

func DefaultConfig(port string) *Config {
	return &Config{
		Port:            port,
		BaudRate:        9600,
		DataBits:        8,
		Parity:          serial.NoParity,
		StopBits:        serial.OneStopBit,
		FlowControl:     'N',
		ReadTerminator:  isobus.CR,
		WriteTerminator: isobus.CR,
		ReadTimeout:     5 * time.Second,
	}
}

func (c *Config) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
}

// Settings reports the configuration in isobus terms.
func (c *Config) Settings() isobus.LineSettings {
	return isobus.LineSettings{
		BaudRate:        c.BaudRate,
		DataBits:        c.DataBits,
		Parity:          parityLetter(c.Parity),
		StopBits:        stopBitsNumber(c.StopBits),
		FlowControl:     c.FlowControl,
		ReadTerminator:  c.ReadTerminator,
		WriteTerminator: c.WriteTerminator,
	}
}

func parityLetter(p serial.Parity) byte {
	switch p {
	case serial.NoParity:
		return 'N'
	case serial.OddParity:
		return 'O'
	case serial.EvenParity:
		return 'E'
	case serial.MarkParity:
		return 'M'
	case serial.SpaceParity:
		return 'S'
	}
	return '?'
}

// stopBitsNumber maps 1.5 stop bits to 15.
func stopBitsNumber(s serial.StopBits) int {
	switch s {
	case serial.OneStopBit:
		return 1
	case serial.OnePointFiveStopBits:
		return 15
	case serial.TwoStopBits:
		return 2
	}
	return 0
}

// conn is the part of serial.Port the Port uses.
type conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

type Port struct {
	cfg     *Config
	conn    conn
	open    func() (conn, error)
	pending []byte
	scratch []byte
}

func Open(cfg *Config) (*Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no rs232 config", isobus.ErrNullArgument)
	}
	if cfg.FlowControl != 'N' && cfg.FlowControl != 0 {
		return nil, fmt.Errorf("%w: flow control %c is not supported on %s", isobus.ErrConfiguration, cfg.FlowControl, cfg.Port)
	}
	open := func() (conn, error) {
		p, err := serial.Open(cfg.Port, cfg.mode())
		if err != nil {
			return nil, fmt.Errorf("failed to open com port %q : %v", cfg.Port, err)
		}
		if err := p.SetReadTimeout(pollSlice); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	}
	c, err := open()
	if err != nil {
		return nil, err
	}
	return newPort(cfg, c, open), nil
}

func newPort(cfg *Config, c conn, open func() (conn, error)) *Port {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig(cfg.Port).ReadTimeout
	}
	if cfg.FlowControl == 0 {
		cfg.FlowControl = 'N'
	}
	return &Port{
		cfg:     cfg,
		conn:    c,
		open:    open,
		scratch: make([]byte, 64),
	}
}

func (p *Port) Name() string {
	return p.cfg.Port
}

func (p *Port) Config() Config {
	return *p.cfg
}

// connected fails once a reopen in Resynchronize has failed.
func (p *Port) connected() error {
	if p.conn == nil {
		return fmt.Errorf("%w: com port %q not open", isobus.ErrIO, p.cfg.Port)
	}
	return nil
}

func (p *Port) WriteLine(line string) error {
	if err := p.connected(); err != nil {
		return err
	}
	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	out = append(out, p.cfg.WriteTerminator)
	for len(out) > 0 {
		n, err := p.conn.Write(out)
		if err != nil {
			return fmt.Errorf("%w: failed to write to com port %q: %v", isobus.ErrIO, p.cfg.Port, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: short write to com port %q", isobus.ErrIO, p.cfg.Port)
		}
		out = out[n:]
	}
	return nil
}

// fill reads whatever arrives within one poll slice.
func (p *Port) fill() error {
	if err := p.connected(); err != nil {
		return err
	}
	n, err := p.conn.Read(p.scratch)
	if err != nil {
		return fmt.Errorf("%w: failed to read com port %q: %v", isobus.ErrIO, p.cfg.Port, err)
	}
	p.pending = append(p.pending, p.scratch[:n]...)
	return nil
}

func (p *Port) BytesAvailable() (int, error) {
	if len(p.pending) > 0 {
		return len(p.pending), nil
	}
	if err := p.fill(); err != nil {
		return 0, err
	}
	return len(p.pending), nil
}

func (p *Port) ReadLine(maxLen int) (string, error) {
	if maxLen <= 0 {
		return "", fmt.Errorf("%w: read of %d bytes", isobus.ErrNullArgument, maxLen)
	}
	deadline := time.Now().Add(p.cfg.ReadTimeout)
	for {
		if idx := bytes.IndexByte(p.pending, p.cfg.ReadTerminator); idx >= 0 && idx <= maxLen {
			line := string(p.pending[:idx])
			p.pending = p.pending[idx+1:]
			return line, nil
		}
		if len(p.pending) >= maxLen {
			line := string(p.pending[:maxLen])
			p.pending = p.pending[maxLen:]
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no line terminator from %q after %v, have %q",
				isobus.ErrTimeout, p.cfg.Port, p.cfg.ReadTimeout, p.pending)
		}
		if err := p.fill(); err != nil {
			return "", err
		}
	}
}

func (p *Port) VerifyConfiguration(want isobus.LineSettings) error {
	have := p.cfg.Settings()
	if have != want {
		return fmt.Errorf("%w: com port %q is configured as %s, expected %s",
			isobus.ErrConfiguration, p.cfg.Port, have, want)
	}
	return nil
}

// Resynchronize closes and reopens the port. Ports built without an opener
// only have their buffers reset.
func (p *Port) Resynchronize() error {
	p.pending = nil
	if p.open == nil {
		if err := p.connected(); err != nil {
			return err
		}
		if err := p.conn.ResetOutputBuffer(); err != nil {
			return err
		}
		return p.conn.ResetInputBuffer()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	c, err := p.open()
	if err != nil {
		p.conn = nil
		return fmt.Errorf("%w: %v", isobus.ErrIO, err)
	}
	p.conn = c
	return nil
}

func (p *Port) DiscardUnwrittenOutput() error {
	if err := p.connected(); err != nil {
		return err
	}
	if err := p.conn.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("%w: %v", isobus.ErrIO, err)
	}
	return nil
}

func (p *Port) DiscardUnreadInput() error {
	p.pending = nil
	if err := p.connected(); err != nil {
		return err
	}
	if err := p.conn.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: %v", isobus.ErrIO, err)
	}
	return nil
}

func (p *Port) Close() error {
	if p.conn == nil {
		return errors.New("port not open")
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
