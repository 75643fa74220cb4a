package isobus

import "fmt"

type LinkKind int

const (
	LinkUnknown LinkKind = iota
	LinkSerial
	LinkBus
)

func (k LinkKind) String() string {
	switch k {
	case LinkSerial:
		return "RS-232"
	case LinkBus:
		return "GPIB"
	default:
		return "unknown"
	}
}

// LineSettings describe how a serial link is configured.
// Parity and FlowControl use the letters N, O, E, M, S and N, H, S.
type LineSettings struct {
	BaudRate        int
	DataBits        int
	Parity          byte
	StopBits        int
	FlowControl     byte
	ReadTerminator  byte
	WriteTerminator byte
}

// ISOBUSLineSettings are the settings every ISOBUS controller expects on RS-232.
func ISOBUSLineSettings(readTerminator byte) LineSettings {
	return LineSettings{
		BaudRate:        9600,
		DataBits:        8,
		Parity:          'N',
		StopBits:        1,
		FlowControl:     'N',
		ReadTerminator:  readTerminator,
		WriteTerminator: CR,
	}
}

func (s LineSettings) String() string {
	return fmt.Sprintf("%d %d%c%d flow %c read term %#02x write term %#02x",
		s.BaudRate, s.DataBits, s.Parity, s.StopBits, s.FlowControl, s.ReadTerminator, s.WriteTerminator)
}

// SerialPort is a point-to-point RS-232 link.
type SerialPort interface {
	Name() string
	// WriteLine writes line followed by the write terminator.
	WriteLine(line string) error
	// ReadLine blocks until the read terminator is seen or maxLen bytes
	// have been read. The terminator is not returned.
	ReadLine(maxLen int) (string, error)
	// BytesAvailable reports how many bytes are waiting to be read without blocking.
	BytesAvailable() (int, error)
	VerifyConfiguration(LineSettings) error
	// Resynchronize reinitializes the link.
	Resynchronize() error
	DiscardUnwrittenOutput() error
	DiscardUnreadInput() error
}

// Bus is an addressed GPIB link shared by several instruments.
type Bus interface {
	Name() string
	WriteLine(address int, line string) error
	// ReadLine blocks until a complete reply or a timeout.
	ReadLine(address int, maxLen int) (string, error)
}

// Link is the transport an Interface is bound to: either a serial port or
// one address on a bus.
type Link struct {
	Kind    LinkKind
	Serial  SerialPort
	Bus     Bus
	Address int
}

func SerialLink(port SerialPort) Link {
	return Link{Kind: LinkSerial, Serial: port}
}

func BusLink(bus Bus, address int) Link {
	return Link{Kind: LinkBus, Bus: bus, Address: address}
}

func (l Link) Name() string {
	switch l.Kind {
	case LinkSerial:
		if l.Serial != nil {
			return l.Serial.Name()
		}
	case LinkBus:
		if l.Bus != nil {
			return fmt.Sprintf("%s:%d", l.Bus.Name(), l.Address)
		}
	}
	return "<none>"
}

func (l Link) WriteLine(line string) error {
	switch l.Kind {
	case LinkSerial:
		return l.Serial.WriteLine(line)
	case LinkBus:
		return l.Bus.WriteLine(l.Address, line)
	}
	return l.unsupported("")
}

func (l Link) ReadLine(maxLen int) (string, error) {
	switch l.Kind {
	case LinkSerial:
		return l.Serial.ReadLine(maxLen)
	case LinkBus:
		return l.Bus.ReadLine(l.Address, maxLen)
	}
	return "", l.unsupported("")
}

// BytesAvailable is only meaningful on serial links. Bus links always
// report zero since their reads block until data or timeout.
func (l Link) BytesAvailable() (int, error) {
	switch l.Kind {
	case LinkSerial:
		return l.Serial.BytesAvailable()
	case LinkBus:
		return 0, nil
	}
	return 0, l.unsupported("")
}

// Reset resynchronizes a serial link and discards pending bytes both ways.
// It is a no-op on a bus.
func (l Link) Reset() error {
	switch l.Kind {
	case LinkSerial:
		if err := l.Serial.Resynchronize(); err != nil {
			return err
		}
		if err := l.Serial.DiscardUnwrittenOutput(); err != nil {
			return err
		}
		return l.Serial.DiscardUnreadInput()
	case LinkBus:
		return nil
	}
	return l.unsupported("")
}

func (l Link) validate() error {
	switch l.Kind {
	case LinkSerial:
		if l.Serial == nil {
			return fmt.Errorf("%w: serial link without a port", ErrNullArgument)
		}
	case LinkBus:
		if l.Bus == nil {
			return fmt.Errorf("%w: bus link without a controller", ErrNullArgument)
		}
		if l.Address < 0 {
			return fmt.Errorf("%w: bus address %d", ErrConfiguration, l.Address)
		}
	}
	return nil
}

func (l Link) unsupported(name string) error {
	if name == "" {
		return fmt.Errorf("%w: link kind %s", ErrUnsupportedTransport, l.Kind)
	}
	return fmt.Errorf("%w: only RS-232 and GPIB links are supported for ISOBUS interface '%s', link is of kind %s",
		ErrUnsupportedTransport, name, l.Kind)
}
