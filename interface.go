package isobus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
)

type Config struct {
	// Name identifies the interface in events and errors.
	Name  string
	Flags Flags
	// PollAttempts is how many times a serial link is asked for pending
	// input before an attempt is given up. Zero means DefaultPollAttempts.
	PollAttempts int
	// PollInterval is the pause between two polls. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// SettleDelay is the pause after resynchronizing a serial link in Open.
	// Zero means DefaultSettleDelay.
	SettleDelay time.Duration
	OnEvent     func(Event)
}

func DefaultConfig(name string) *Config {
	return &Config{
		Name:         name,
		PollAttempts: DefaultPollAttempts,
		PollInterval: DefaultPollInterval,
		SettleDelay:  DefaultSettleDelay,
	}
}

// Request is a single ISOBUS command.
type Request struct {
	// Address is the ISOBUS address of the controller, or NoAddress.
	Address int
	Command string
	// ResponseSize is the reply capacity in bytes. Zero or less sends the
	// command without waiting for a reply.
	ResponseSize int
	// MaxRetries is how many times a failed exchange is repeated, or RetryForever.
	MaxRetries int
	// Flags are OR'ed with the interface flags for this request.
	Flags Flags
}

func (r Request) wantsResponse() bool {
	return r.ResponseSize > 0
}

// Frame returns the command exactly as it is written to the link.
func (r Request) Frame() (string, error) {
	if r.Command == "" {
		return "", fmt.Errorf("%w: empty command", ErrNullArgument)
	}
	wire := r.Command
	if r.Address >= 0 {
		wire = "@" + strconv.Itoa(r.Address) + r.Command
	}
	if len(wire) > MaxCommandLength {
		return "", fmt.Errorf("%w: %q is %d characters, limit is %d", ErrCommandTooLong, wire, len(wire), MaxCommandLength)
	}
	return wire, nil
}

// attempts returns how many exchanges a request may make.
func (r Request) attempts() uint {
	if r.MaxRetries < 0 {
		return math.MaxUint
	}
	return uint(r.MaxRetries) + 1
}

// Interface is the ISOBUS command engine bound to one Link.
type Interface struct {
	name  string
	link  Link
	cfg   *Config
	stats Stats
}

func New(link Link, cfg *Config) (*Interface, error) {
	if cfg == nil {
		cfg = DefaultConfig(link.Name())
	}
	if err := link.validate(); err != nil {
		return nil, err
	}
	c := *cfg
	if c.Name == "" {
		c.Name = link.Name()
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = DefaultPollAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.OnEvent == nil {
		c.OnEvent = LogEvent
	}
	return &Interface{
		name: c.Name,
		link: link,
		cfg:  &c,
	}, nil
}

func (i *Interface) Name() string {
	return i.name
}

func (i *Interface) Link() Link {
	return i.link
}

func (i *Interface) Flags() Flags {
	return i.cfg.Flags
}

// LineSettings returns what a serial link has to be configured as.
func (i *Interface) LineSettings() LineSettings {
	return ISOBUSLineSettings(i.cfg.Flags.ReadTerminator())
}

// Open prepares the link. Serial links are verified against the ISOBUS line
// settings, resynchronized, given time to settle and flushed in both
// directions. Bus links need no preparation.
func (i *Interface) Open(ctx context.Context) error {
	i.debugf(i.cfg.Flags, "open invoked for %s link %q, flags = %#x", i.link.Kind, i.link.Name(), uint32(i.cfg.Flags))
	switch i.link.Kind {
	case LinkSerial:
		port := i.link.Serial
		settings := i.LineSettings()
		if err := port.VerifyConfiguration(settings); err != nil {
			if errors.Is(err, ErrConfiguration) {
				return err
			}
			return fmt.Errorf("%w: ISOBUS interface '%s': %v", ErrConfiguration, i.name, err)
		}
		if err := port.Resynchronize(); err != nil {
			return i.ioError("", err)
		}
		select {
		case <-time.After(i.cfg.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := port.DiscardUnwrittenOutput(); err != nil {
			return i.ioError("", err)
		}
		if err := port.DiscardUnreadInput(); err != nil {
			return i.ioError("", err)
		}
		return nil
	case LinkBus:
		return nil
	default:
		return i.link.unsupported(i.name)
	}
}

// Command sends a command and returns the controller's reply.
func (i *Interface) Command(ctx context.Context, address int, command string, maxRetries int) (string, error) {
	return i.Execute(ctx, Request{
		Address:      address,
		Command:      command,
		ResponseSize: DefaultResponseSize,
		MaxRetries:   maxRetries,
	})
}

// Send writes a command without waiting for a reply.
func (i *Interface) Send(ctx context.Context, address int, command string, maxRetries int) error {
	_, err := i.Execute(ctx, Request{
		Address:    address,
		Command:    command,
		MaxRetries: maxRetries,
	})
	return err
}

// Execute frames the request, writes it and, when a reply is wanted, waits
// for and checks the reply. Failed exchanges are repeated up to the request's
// retry budget. Write failures are never repeated.
func (i *Interface) Execute(ctx context.Context, req Request) (string, error) {
	wire, err := req.Frame()
	if err != nil {
		return "", err
	}
	flags := i.cfg.Flags | req.Flags
	i.stats.Commands++

	var (
		response string
		attempt  int
		fatal    error
		last     error
	)

	err = retry.Do(func() error {
		if err := ctx.Err(); err != nil {
			fatal = err
			return retry.Unrecoverable(err)
		}
		if attempt > 0 {
			i.stats.Retries++
			i.emit(EventTypeInfo, fmt.Sprintf("ISOBUS interface '%s' command retry #%d.", i.name, attempt))
		}
		if req.wantsResponse() {
			i.discardStale(flags)
		}
		attempt++
		i.stats.Attempts++

		i.debugf(flags, "sending command '%s' to '%s'", wire, i.name)
		resp, err := i.exchange(wire, req)
		if err != nil {
			if isWriteError(err) || errors.Is(err, ErrUnsupportedTransport) {
				fatal = err
				return retry.Unrecoverable(err)
			}
			i.count(err)
			last = err
			return err
		}
		if req.wantsResponse() {
			i.debugf(flags, "received response '%s' from '%s'", resp, i.name)
		}
		response = resp
		return nil
	},
		retry.Attempts(req.attempts()),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			i.debugf(flags, "attempt %d of '%s' failed: %v", n+1, wire, err)
		}),
	)
	if fatal != nil {
		return "", fatal
	}
	if err == nil {
		return response, nil
	}
	if last == nil {
		last = err
	}
	return "", &CommandError{
		Kind:      ErrRetriesExhausted,
		Interface: i.name,
		Command:   wire,
		Retries:   attempt - 1,
		Err:       last,
	}
}

// exchange performs a single attempt.
func (i *Interface) exchange(wire string, req Request) (string, error) {
	var resp string
	switch i.link.Kind {
	case LinkSerial:
		port := i.link.Serial
		if err := port.WriteLine(wire); err != nil {
			return "", i.writeError(wire, err)
		}
		i.stats.SentBytes += uint64(len(wire) + 1)
		if !req.wantsResponse() {
			return "", nil
		}
		if err := i.awaitReply(wire); err != nil {
			return "", err
		}
		line, err := port.ReadLine(req.ResponseSize)
		if err != nil {
			return "", i.readError(wire, err)
		}
		i.stats.RecvBytes += uint64(len(line))
		resp = strings.TrimSuffix(line, "\r")
	case LinkBus:
		bus, addr := i.link.Bus, i.link.Address
		if err := bus.WriteLine(addr, wire); err != nil {
			return "", i.writeError(wire, err)
		}
		i.stats.SentBytes += uint64(len(wire))
		if !req.wantsResponse() {
			return "", nil
		}
		line, err := bus.ReadLine(addr, req.ResponseSize)
		if err != nil {
			return "", i.readError(wire, err)
		}
		i.stats.RecvBytes += uint64(len(line))
		resp = line
	default:
		return "", i.link.unsupported(i.name)
	}

	if strings.HasPrefix(resp, "?") {
		return "", &CommandError{
			Kind:      ErrDeviceActionFailed,
			Interface: i.name,
			Command:   wire,
			Response:  resp,
		}
	}
	return resp, nil
}

// awaitReply polls a serial link until the first byte of a reply arrives.
func (i *Interface) awaitReply(wire string) error {
	port := i.link.Serial
	for n := 0; n < i.cfg.PollAttempts; n++ {
		avail, err := port.BytesAvailable()
		if err != nil {
			return i.readError(wire, err)
		}
		if avail > 0 {
			return nil
		}
		if n < i.cfg.PollAttempts-1 {
			time.Sleep(i.cfg.PollInterval)
		}
	}
	return &CommandError{
		Kind:      ErrTimeout,
		Interface: i.name,
		Command:   wire,
		Err:       fmt.Errorf("no reply after %d polls", i.cfg.PollAttempts),
	}
}

// discardStale drops whatever an earlier command or attempt left unread, a
// truncated tail or a late reply, so it cannot be taken for the next reply.
func (i *Interface) discardStale(flags Flags) {
	if i.link.Kind != LinkSerial {
		return
	}
	if err := i.link.Serial.DiscardUnreadInput(); err != nil {
		i.debugf(flags, "failed to discard unread input on '%s': %v", i.name, err)
	}
}

func (i *Interface) count(err error) {
	switch {
	case errors.Is(err, ErrDeviceActionFailed):
		i.stats.DeviceErrors++
	case errors.Is(err, ErrTimeout):
		i.stats.Timeouts++
	default:
		i.stats.Errors++
	}
}

func (i *Interface) ioError(wire string, err error) error {
	return &CommandError{Kind: ErrIO, Interface: i.name, Command: wire, Err: err}
}

func (i *Interface) writeError(wire string, err error) error {
	return &CommandError{Kind: ErrIO, Interface: i.name, Command: wire, Err: &writeError{err}}
}

func (i *Interface) readError(wire string, err error) error {
	kind := ErrIO
	if errors.Is(err, ErrTimeout) {
		kind = ErrTimeout
	}
	return &CommandError{Kind: kind, Interface: i.name, Command: wire, Err: err}
}

func (i *Interface) debugf(flags Flags, format string, args ...interface{}) {
	if !flags.Has(FlagDebug) {
		return
	}
	i.emit(EventTypeDebug, fmt.Sprintf(format, args...))
}

func (i *Interface) emit(t EventType, details string) {
	i.cfg.OnEvent(Event{Type: t, Interface: i.name, Details: details})
}
