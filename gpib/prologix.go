// Package gpib implements isobus.Bus with a Prologix GPIB controller, either
// the USB model (a virtual serial port) or the Ethernet model (TCP).
package gpib

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/roffe/goisobus"
	"go.bug.st/serial"
)

const (
	// DefaultTCPPort is where the Ethernet controller listens.
	DefaultTCPPort = 1234

	esc = 0x1B
)

type Config struct {
	// ReadTimeout bounds one ReadLine.
	ReadTimeout time.Duration
	// WriteDelay is the pause after each controller command.
	WriteDelay time.Duration
	Debug      bool
	OnMessage  func(string)
}

func DefaultConfig() *Config {
	return &Config{
		ReadTimeout: 3 * time.Second,
		WriteDelay:  0,
	}
}

type deadliner interface {
	SetReadDeadline(time.Time) error
}

// Prologix drives instruments on one GPIB bus. It remembers the address it
// last selected and only sends ++addr when the address changes. It is safe
// for use by several interfaces at once.
type Prologix struct {
	mu      sync.Mutex
	name    string
	cfg     *Config
	rw      io.ReadWriter
	closer  io.Closer
	address int
	pending []byte
	scratch []byte
}

// OpenSerial opens a Prologix GPIB-USB controller.
func OpenSerial(port string, cfg *Config) (*Prologix, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q : %v", port, err)
	}
	if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
		p.Close()
		return nil, err
	}
	if err := resetBuffers(port, p); err != nil {
		p.Close()
		return nil, err
	}
	pro, err := New(port, p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return pro, nil
}

type resetter interface {
	ResetOutputBuffer() error
	ResetInputBuffer() error
}

func resetBuffers(port string, r resetter) error {
	if err := r.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("%w: failed to reset output of com port %q: %v", isobus.ErrIO, port, err)
	}
	if err := r.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: failed to reset input of com port %q: %v", isobus.ErrIO, port, err)
	}
	return nil
}

// Dial connects to a Prologix GPIB-ETHERNET controller. addr may omit the port.
func Dial(addr string, cfg *Config) (*Prologix, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultTCPPort))
	}
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	pro, err := New(addr, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return pro, nil
}

// New puts the controller behind rw into controller mode with manual read-after-write.
func New(name string, rw io.ReadWriter, cfg *Config) (*Prologix, error) {
	if rw == nil {
		return nil, fmt.Errorf("%w: prologix without a connection", isobus.ErrNullArgument)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	p := &Prologix{
		name:    name,
		cfg:     cfg,
		rw:      rw,
		address: -1,
		scratch: make([]byte, 64),
	}
	if c, ok := rw.(io.Closer); ok {
		p.closer = c
	}
	initCmds := []string{
		"++mode 1", // controller mode
		"++auto 0", // no automatic read-after-write
		"++eoi 1",  // assert EOI with the last byte
		"++eos 1",  // append CR to writes
		"++read_tmo_ms " + strconv.Itoa(readTimeoutMs(cfg.ReadTimeout)),
	}
	for _, c := range initCmds {
		if err := p.control(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// readTimeoutMs clamps to the 1..3000 ms the controller accepts.
func readTimeoutMs(d time.Duration) int {
	ms := int(d / time.Millisecond)
	if ms < 1 {
		return 1
	}
	if ms > 3000 {
		return 3000
	}
	return ms
}

func (p *Prologix) Name() string {
	return p.name
}

func (p *Prologix) control(cmd string) error {
	if p.cfg.Debug && p.cfg.OnMessage != nil {
		p.cfg.OnMessage("<o> " + cmd)
	}
	if err := p.write([]byte(cmd + "\n")); err != nil {
		return err
	}
	if p.cfg.WriteDelay > 0 {
		time.Sleep(p.cfg.WriteDelay)
	}
	return nil
}

func (p *Prologix) write(b []byte) error {
	for len(b) > 0 {
		n, err := p.rw.Write(b)
		if err != nil {
			return fmt.Errorf("%w: failed to write to %s: %v", isobus.ErrIO, p.name, err)
		}
		b = b[n:]
	}
	return nil
}

func (p *Prologix) selectAddress(address int) error {
	if address < 0 || address > 30 {
		return fmt.Errorf("%w: GPIB address %d out of range 0-30", isobus.ErrConfiguration, address)
	}
	if address == p.address {
		return nil
	}
	if err := p.control("++addr " + strconv.Itoa(address)); err != nil {
		p.address = -1
		return err
	}
	p.address = address
	return nil
}

// WriteLine sends line to the instrument at address. CR, LF, ESC and '+' are
// escaped so the controller passes them on instead of interpreting them.
func (p *Prologix) WriteLine(address int, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.selectAddress(address); err != nil {
		return err
	}
	if p.cfg.Debug && p.cfg.OnMessage != nil {
		p.cfg.OnMessage(fmt.Sprintf("<o> %d: %s", address, line))
	}
	return p.write(append(escape([]byte(line)), '\n'))
}

func escape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case isobus.CR, isobus.LF, esc, '+':
			out = append(out, esc)
		}
		out = append(out, c)
	}
	return out
}

// ReadLine addresses the instrument to talk and reads until CR or LF.
func (p *Prologix) ReadLine(address int, maxLen int) (string, error) {
	if maxLen <= 0 {
		return "", fmt.Errorf("%w: read of %d bytes", isobus.ErrNullArgument, maxLen)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.selectAddress(address); err != nil {
		return "", err
	}
	p.pending = p.pending[:0]
	if err := p.control("++read eoi"); err != nil {
		return "", err
	}
	deadline := time.Now().Add(p.cfg.ReadTimeout)
	if d, ok := p.rw.(deadliner); ok {
		d.SetReadDeadline(deadline)
		defer d.SetReadDeadline(time.Time{})
	}
	for {
		if idx := bytes.IndexAny(p.pending, "\r\n"); idx >= 0 {
			line := p.pending[:idx]
			if len(line) > maxLen {
				line = line[:maxLen]
			}
			if p.cfg.Debug && p.cfg.OnMessage != nil {
				p.cfg.OnMessage(fmt.Sprintf("<i> %d: %s", address, line))
			}
			return string(line), nil
		}
		if len(p.pending) >= maxLen {
			return string(p.pending[:maxLen]), nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no reply from GPIB address %d on %s", isobus.ErrTimeout, address, p.name)
		}
		n, err := p.rw.Read(p.scratch)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", fmt.Errorf("%w: no reply from GPIB address %d on %s", isobus.ErrTimeout, address, p.name)
			}
			return "", fmt.Errorf("%w: failed to read from %s: %v", isobus.ErrIO, p.name, err)
		}
		p.pending = append(p.pending, p.scratch[:n]...)
	}
}

// Clear sends the selected device clear to the instrument at address.
func (p *Prologix) Clear(address int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.selectAddress(address); err != nil {
		return err
	}
	return p.control("++clr")
}

func (p *Prologix) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
