package setup

import (
	"strings"
	"time"

	"github.com/roffe/goisobus"
	"github.com/roffe/goisobus/gpib"
	"github.com/roffe/goisobus/rs232"
)

// Opener opens the physical links a setup file names.
type Opener interface {
	OpenSerial(spec *InterfaceSpec) (isobus.SerialPort, error)
	// OpenBus opens a GPIB controller. It is called once per controller
	// no matter how many interfaces share it.
	OpenBus(controller string, readTimeout time.Duration) (isobus.Bus, error)
}

// DefaultOpener opens real serial ports and Prologix controllers.
type DefaultOpener struct {
	Debug     bool
	OnMessage func(string)
}

func (o *DefaultOpener) OpenSerial(spec *InterfaceSpec) (isobus.SerialPort, error) {
	cfg := rs232.DefaultConfig(rs232.NormalizeName(spec.Port))
	if spec.Baudrate > 0 {
		cfg.BaudRate = spec.Baudrate
	}
	if spec.ReadTimeout > 0 {
		cfg.ReadTimeout = spec.ReadTimeout
	}
	cfg.ReadTerminator = isobus.Flags(spec.Flags).ReadTerminator()
	port, err := rs232.Open(cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (o *DefaultOpener) OpenBus(controller string, readTimeout time.Duration) (isobus.Bus, error) {
	cfg := gpib.DefaultConfig()
	if readTimeout > 0 {
		cfg.ReadTimeout = readTimeout
	}
	cfg.Debug = o.Debug
	cfg.OnMessage = o.OnMessage
	var (
		p   *gpib.Prologix
		err error
	)
	if strings.HasPrefix(controller, "tcp://") {
		p, err = gpib.Dial(strings.TrimPrefix(controller, "tcp://"), cfg)
	} else {
		p, err = gpib.OpenSerial(rs232.NormalizeName(controller), cfg)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
