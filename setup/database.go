package setup

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/roffe/goisobus"
	"golang.org/x/sync/errgroup"
)

type Option func(d *Database) error

func OptOpener(o Opener) Option {
	return func(d *Database) error {
		d.opener = o
		return nil
	}
}

func OptOnEvent(fn func(isobus.Event)) Option {
	return func(d *Database) error {
		d.onEvent = fn
		return nil
	}
}

// OptDebug turns on debug tracing for every interface and device.
func OptDebug(enabled bool) Option {
	return func(d *Database) error {
		d.debug = enabled
		return nil
	}
}

// OptSettleDelay overrides how long serial links are left to settle in Open.
func OptSettleDelay(delay time.Duration) Option {
	return func(d *Database) error {
		if delay < 0 {
			return fmt.Errorf("%w: negative settle delay", isobus.ErrConfiguration)
		}
		d.settle = delay
		return nil
	}
}

type Device struct {
	Spec      DeviceSpec
	Interface *isobus.Interface
	Driver    isobus.Driver
}

// Database holds the interfaces and devices built from a File.
type Database struct {
	// Interfaces in file order.
	Interfaces []*isobus.Interface
	// Devices in file order.
	Devices []*Device

	byName  map[string]*isobus.Interface
	opener  Opener
	onEvent func(isobus.Event)
	debug   bool
	settle  time.Duration
	closers []io.Closer
}

// Build opens every link of f and creates the interfaces and device drivers
// on them. Nothing is sent to any device until Open.
func Build(f *File, opts ...Option) (*Database, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: no setup", isobus.ErrNullArgument)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	d := &Database{
		byName: make(map[string]*isobus.Interface),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.opener == nil {
		d.opener = &DefaultOpener{Debug: d.debug}
	}
	if d.onEvent == nil {
		d.onEvent = isobus.LogEvent
	}

	buses := make(map[string]isobus.Bus)
	for n := range f.Interfaces {
		spec := &f.Interfaces[n]
		link, err := d.openLink(spec, buses)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("interface %q: %w", spec.Name, err)
		}
		flags := isobus.Flags(spec.Flags)
		if d.debug {
			flags |= isobus.FlagDebug
		}
		iface, err := isobus.New(link, &isobus.Config{
			Name:        spec.Name,
			Flags:       flags,
			SettleDelay: d.settle,
			OnEvent:     d.onEvent,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("interface %q: %w", spec.Name, err)
		}
		d.Interfaces = append(d.Interfaces, iface)
		d.byName[spec.Name] = iface
	}

	for _, spec := range f.Devices {
		iface := d.byName[spec.Interface]
		drv, err := isobus.NewDriver(spec.Type, iface, &isobus.DriverConfig{
			Name:           spec.Name,
			Address:        spec.address(),
			Flags:          uint32(spec.Flags),
			MaximumRetries: spec.MaximumRetries,
			Debug:          d.debug,
			OnEvent:        d.onEvent,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("device %q: %w", spec.Name, err)
		}
		d.Devices = append(d.Devices, &Device{Spec: spec, Interface: iface, Driver: drv})
	}
	return d, nil
}

func (d *Database) openLink(spec *InterfaceSpec, buses map[string]isobus.Bus) (isobus.Link, error) {
	switch strings.ToLower(spec.Link) {
	case LinkRS232:
		port, err := d.opener.OpenSerial(spec)
		if err != nil {
			return isobus.Link{}, err
		}
		d.track(port)
		return isobus.SerialLink(port), nil
	case LinkGPIB:
		bus, found := buses[spec.Controller]
		if !found {
			var err error
			bus, err = d.opener.OpenBus(spec.Controller, spec.ReadTimeout)
			if err != nil {
				return isobus.Link{}, err
			}
			d.track(bus)
			buses[spec.Controller] = bus
		}
		return isobus.BusLink(bus, spec.GPIBAddress), nil
	}
	return isobus.Link{}, fmt.Errorf("%w: link %q", isobus.ErrUnsupportedTransport, spec.Link)
}

func (d *Database) track(v interface{}) {
	if c, ok := v.(io.Closer); ok {
		d.closers = append(d.closers, c)
	}
}

// Interface returns the named interface or nil.
func (d *Database) Interface(name string) *isobus.Interface {
	return d.byName[name]
}

// Device returns the named device or nil.
func (d *Database) Device(name string) *Device {
	for _, dev := range d.Devices {
		if dev.Spec.Name == name {
			return dev
		}
	}
	return nil
}

// Open opens every interface and then the devices on it. Interfaces are
// opened concurrently, devices on the same interface one after the other in
// file order. The first failure cancels the rest.
func (d *Database) Open(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, iface := range d.Interfaces {
		iface := iface
		var devices []*Device
		for _, dev := range d.Devices {
			if dev.Interface == iface {
				devices = append(devices, dev)
			}
		}
		g.Go(func() error {
			if err := iface.Open(gctx); err != nil {
				return fmt.Errorf("interface %q: %w", iface.Name(), err)
			}
			for _, dev := range devices {
				if err := dev.Driver.Open(gctx); err != nil {
					return fmt.Errorf("device %q: %w", dev.Spec.Name, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Database) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			log.Printf("failed to close link: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	d.closers = nil
	return first
}
