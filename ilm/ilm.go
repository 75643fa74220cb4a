// Package ilm drives the Oxford Instruments ILM intelligent level meter
// through an ISOBUS interface.
package ilm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/avast/retry-go"
	"github.com/roffe/goisobus"
)

const DriverName = "ilm"

const (
	// FlagEnableRemoteMode puts the meter under remote control.
	FlagEnableRemoteMode uint32 = 0x1
	// FlagUnlock leaves the front panel usable.
	FlagUnlock uint32 = 0x2

	controlMask = FlagEnableRemoteMode | FlagUnlock
)

// identityPrefix starts every ILM version string.
const identityPrefix = "ILM"

func init() {
	if err := isobus.RegisterDriver(&isobus.DriverInfo{
		Name:        DriverName,
		Description: "Oxford Instruments ILM level meter",
		New:         newDriver,
	}); err != nil {
		panic(err)
	}
}

type Config struct {
	Name string
	// Address is the ISOBUS address of the meter, or isobus.NoAddress.
	Address        int
	Flags          uint32
	MaximumRetries int
	Debug          bool
	// OnEvent receives the driver's own notices. Nil means isobus.LogEvent.
	OnEvent func(isobus.Event)
}

type ILM struct {
	cfg     *Config
	iface   *isobus.Interface
	version string
}

func New(iface *isobus.Interface, cfg *Config) (*ILM, error) {
	if iface == nil {
		return nil, fmt.Errorf("%w: ILM without an ISOBUS interface", isobus.ErrNullArgument)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: ILM without a config", isobus.ErrNullArgument)
	}
	c := *cfg
	if c.Name == "" {
		c.Name = iface.Name()
	}
	if c.OnEvent == nil {
		c.OnEvent = isobus.LogEvent
	}
	return &ILM{
		cfg:   &c,
		iface: iface,
	}, nil
}

func newDriver(iface *isobus.Interface, cfg *isobus.DriverConfig) (isobus.Driver, error) {
	return New(iface, &Config{
		Name:           cfg.Name,
		Address:        cfg.Address,
		Flags:          cfg.Flags,
		MaximumRetries: cfg.MaximumRetries,
		Debug:          cfg.Debug,
		OnEvent:        cfg.OnEvent,
	})
}

func (m *ILM) Name() string {
	return m.cfg.Name
}

// Version is the identity string read by Open.
func (m *ILM) Version() string {
	return m.version
}

// ControlCommand returns the C command selecting local/remote and locked/unlocked.
//
//	C0 local and locked
//	C1 remote and locked
//	C2 local and unlocked
//	C3 remote and unlocked
func ControlCommand(flags uint32) string {
	return fmt.Sprintf("C%d", flags&controlMask)
}

// Open wakes the meter, checks that it is an ILM and sets its control mode.
func (m *ILM) Open(ctx context.Context) error {
	// Q0 selects normal CR terminated replies. It is sent until the write
	// goes through since nothing else can be read before it.
	if _, err := m.iface.Execute(ctx, isobus.Request{
		Address:    m.cfg.Address,
		Command:    "Q0",
		MaxRetries: isobus.RetryForever,
		Flags:      m.flags(),
	}); err != nil {
		return fmt.Errorf("ILM '%s': %w", m.cfg.Name, err)
	}

	version, err := m.identify(ctx)
	if err != nil {
		return fmt.Errorf("ILM '%s': %w", m.cfg.Name, err)
	}
	m.version = version

	if _, err := m.command(ctx, ControlCommand(m.cfg.Flags)); err != nil {
		return fmt.Errorf("ILM '%s': %w", m.cfg.Name, err)
	}
	return nil
}

func (m *ILM) identify(ctx context.Context) (string, error) {
	var version string
	var last error
	err := retry.Do(func() error {
		resp, err := m.command(ctx, "V")
		if err != nil {
			last = err
			return err
		}
		if !strings.HasPrefix(resp, identityPrefix) {
			last = fmt.Errorf("%w: '%s' is not an ILM identity", isobus.ErrUnexpectedResponse, resp)
			return last
		}
		version = resp
		return nil
	},
		retry.Attempts(m.attempts()),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, isobus.ErrUnexpectedResponse)
		}),
		retry.OnRetry(func(n uint, err error) {
			m.cfg.OnEvent(isobus.Event{
				Type:      isobus.EventTypeWarning,
				Interface: m.iface.Name(),
				Details:   fmt.Sprintf("ILM '%s' identity check #%d failed: %v", m.cfg.Name, n+1, err),
			})
		}),
	)
	if err != nil {
		if last != nil {
			return "", last
		}
		return "", err
	}
	return version, nil
}

func (m *ILM) command(ctx context.Context, cmd string) (string, error) {
	return m.iface.Execute(ctx, isobus.Request{
		Address:      m.cfg.Address,
		Command:      cmd,
		ResponseSize: isobus.DefaultResponseSize,
		MaxRetries:   m.cfg.MaximumRetries,
		Flags:        m.flags(),
	})
}

func (m *ILM) attempts() uint {
	if m.cfg.MaximumRetries < 0 {
		return math.MaxUint
	}
	return uint(m.cfg.MaximumRetries) + 1
}

func (m *ILM) flags() isobus.Flags {
	if m.cfg.Debug {
		return isobus.FlagDebug
	}
	return 0
}
