// Package setup builds ISOBUS interfaces and the devices on them from a
// YAML description and opens them.
package setup

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/roffe/goisobus"
	"gopkg.in/yaml.v3"
)

const (
	LinkRS232 = "rs232"
	LinkGPIB  = "gpib"
)

// File is the contents of a setup file.
//
//	interfaces:
//	  - name: isobus1
//	    link: rs232
//	    port: /dev/ttyUSB0
//	    isobus_flags: 0x0
//	devices:
//	  - name: ilm1
//	    type: ilm
//	    isobus: isobus1
//	    isobus_address: 6
//	    flags: 0x3
//	    maximum_retries: 2
type File struct {
	Interfaces []InterfaceSpec `yaml:"interfaces"`
	Devices    []DeviceSpec    `yaml:"devices"`
}

type InterfaceSpec struct {
	Name string `yaml:"name"`
	Link string `yaml:"link"`
	// Port is the serial port of an rs232 link.
	Port     string `yaml:"port"`
	Baudrate int    `yaml:"baudrate"`
	// Controller is the Prologix controller of a gpib link, a serial port
	// or tcp://host[:port].
	Controller  string        `yaml:"controller"`
	GPIBAddress int           `yaml:"gpib_address"`
	Flags       Hex           `yaml:"isobus_flags"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type DeviceSpec struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Interface string `yaml:"isobus"`
	// Address is the ISOBUS address. Left out, commands go unaddressed.
	Address        *int `yaml:"isobus_address"`
	Flags          Hex  `yaml:"flags"`
	MaximumRetries int  `yaml:"maximum_retries"`
}

func (d *DeviceSpec) address() int {
	if d.Address == nil {
		return isobus.NoAddress
	}
	return *d.Address
}

// Hex is a flag word written either as 0x3 or as 3.
type Hex uint32

func (h *Hex) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: flags must be a number", value.Line)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(value.Value), 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid flags %q", value.Line, value.Value)
	}
	*h = Hex(v)
	return nil
}

func (h Hex) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

func (h Hex) String() string {
	return fmt.Sprintf("%#x", uint32(h))
}

func Load(filename string) (*File, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return f, nil
}

func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", isobus.ErrConfiguration, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks names are unique, links are known, every device sits on a
// configured interface and has a registered driver.
func (f *File) Validate() error {
	ifaces := make(map[string]*InterfaceSpec)
	for n := range f.Interfaces {
		spec := &f.Interfaces[n]
		if spec.Name == "" {
			return configErr("interface #%d has no name", n+1)
		}
		if _, found := ifaces[spec.Name]; found {
			return configErr("interface %q is defined twice", spec.Name)
		}
		ifaces[spec.Name] = spec
		switch strings.ToLower(spec.Link) {
		case LinkRS232:
			if spec.Port == "" {
				return configErr("interface %q: rs232 link without a port", spec.Name)
			}
		case LinkGPIB:
			if spec.Controller == "" {
				return configErr("interface %q: gpib link without a controller", spec.Name)
			}
			if spec.GPIBAddress < 0 || spec.GPIBAddress > 30 {
				return configErr("interface %q: GPIB address %d out of range 0-30", spec.Name, spec.GPIBAddress)
			}
		default:
			return fmt.Errorf("%w: interface %q: link %q", isobus.ErrUnsupportedTransport, spec.Name, spec.Link)
		}
	}
	devices := make(map[string]bool)
	for n := range f.Devices {
		spec := &f.Devices[n]
		if spec.Name == "" {
			return configErr("device #%d has no name", n+1)
		}
		if devices[spec.Name] {
			return configErr("device %q is defined twice", spec.Name)
		}
		devices[spec.Name] = true
		if _, found := ifaces[spec.Interface]; !found {
			return configErr("device %q: unknown ISOBUS interface %q", spec.Name, spec.Interface)
		}
		if !isobus.HasDriver(spec.Type) {
			return configErr("device %q: unknown type %q, known types: %s",
				spec.Name, spec.Type, strings.Join(isobus.ListDriverNames(), ", "))
		}
		if spec.Address != nil && *spec.Address < 0 {
			return configErr("device %q: ISOBUS address %d", spec.Name, *spec.Address)
		}
	}
	return nil
}

func configErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", isobus.ErrConfiguration, fmt.Sprintf(format, args...))
}
