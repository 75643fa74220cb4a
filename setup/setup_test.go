package setup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roffe/goisobus"
	_ "github.com/roffe/goisobus/ilm"
	"github.com/roffe/goisobus/mock"
	"github.com/roffe/goisobus/setup"
)

const twoInterfaces = `
interfaces:
  - name: isobus1
    link: rs232
    port: /dev/ttyUSB0
  - name: isobus2
    link: gpib
    controller: tcp://10.0.0.5
    gpib_address: 24
    isobus_flags: 0x2
    read_timeout: 2s
devices:
  - name: ilm1
    type: ilm
    isobus: isobus1
    isobus_address: 6
    flags: 0x3
    maximum_retries: 2
  - name: ilm2
    type: ILM
    isobus: isobus2
    flags: 1
`

type fakeOpener struct {
	serials map[string]*mock.Serial
	buses   map[string]*mock.Bus
	opens   []string
	err     error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		serials: make(map[string]*mock.Serial),
		buses:   make(map[string]*mock.Bus),
	}
}

func (o *fakeOpener) OpenSerial(spec *setup.InterfaceSpec) (isobus.SerialPort, error) {
	o.opens = append(o.opens, spec.Port)
	if o.err != nil {
		return nil, o.err
	}
	s, found := o.serials[spec.Port]
	if !found {
		s = mock.NewSerial(spec.Port)
		o.serials[spec.Port] = s
	}
	return s, nil
}

func (o *fakeOpener) OpenBus(controller string, _ time.Duration) (isobus.Bus, error) {
	o.opens = append(o.opens, controller)
	if o.err != nil {
		return nil, o.err
	}
	b, found := o.buses[controller]
	if !found {
		b = mock.NewBus(controller)
		o.buses[controller] = b
	}
	return b, nil
}

func TestParse(t *testing.T) {
	f, err := setup.Parse([]byte(twoInterfaces))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Interfaces) != 2 || len(f.Devices) != 2 {
		t.Fatalf("parsed %+v", f)
	}
	gp := f.Interfaces[1]
	if gp.Flags != 2 || gp.GPIBAddress != 24 || gp.ReadTimeout != 2*time.Second || gp.Controller != "tcp://10.0.0.5" {
		t.Errorf("interface %+v", gp)
	}
	d := f.Devices[0]
	if d.Flags != 3 || d.Address == nil || *d.Address != 6 || d.MaximumRetries != 2 {
		t.Errorf("device %+v", d)
	}
	if f.Devices[1].Address != nil {
		t.Errorf("ilm2 has address %d", *f.Devices[1].Address)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"bad flags", "interfaces:\n  - {name: a, link: rs232, port: p, isobus_flags: zz}\n", isobus.ErrConfiguration},
		{"unknown link", "interfaces:\n  - {name: a, link: usb, port: p}\n", isobus.ErrUnsupportedTransport},
		{"no port", "interfaces:\n  - {name: a, link: rs232}\n", isobus.ErrConfiguration},
		{"no controller", "interfaces:\n  - {name: a, link: gpib}\n", isobus.ErrConfiguration},
		{"gpib address", "interfaces:\n  - {name: a, link: gpib, controller: c, gpib_address: 31}\n", isobus.ErrConfiguration},
		{"duplicate interface", "interfaces:\n  - {name: a, link: rs232, port: p}\n  - {name: a, link: rs232, port: q}\n", isobus.ErrConfiguration},
		{"unknown interface", "devices:\n  - {name: d, type: ilm, isobus: nope}\n", isobus.ErrConfiguration},
		{"unknown type", "interfaces:\n  - {name: a, link: rs232, port: p}\ndevices:\n  - {name: d, type: ips, isobus: a}\n", isobus.ErrConfiguration},
		{"duplicate device", "interfaces:\n  - {name: a, link: rs232, port: p}\ndevices:\n  - {name: d, type: ilm, isobus: a}\n  - {name: d, type: ilm, isobus: a}\n", isobus.ErrConfiguration},
		{"negative address", "interfaces:\n  - {name: a, link: rs232, port: p}\ndevices:\n  - {name: d, type: ilm, isobus: a, isobus_address: -2}\n", isobus.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := setup.Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v want %v", err, tt.want)
			}
		})
	}
}

func TestHex(t *testing.T) {
	tests := []struct {
		in   string
		want setup.Hex
	}{
		{"0x3", 3},
		{"3", 3},
		{"0X1f", 0x1f},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := setup.Parse([]byte("interfaces:\n  - {name: a, link: rs232, port: p, isobus_flags: " + tt.in + "}\n"))
			if err != nil {
				t.Fatal(err)
			}
			if f.Interfaces[0].Flags != tt.want {
				t.Errorf("got %s want %s", f.Interfaces[0].Flags, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "setup.yaml")
	if err := os.WriteFile(name, []byte(twoInterfaces), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := setup.Load(name)
	if err != nil {
		t.Fatal(err)
	}
	if f.Interfaces[0].Port != "/dev/ttyUSB0" {
		t.Errorf("port %q", f.Interfaces[0].Port)
	}
	if _, err := setup.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func buildTwo(t *testing.T) (*setup.Database, *fakeOpener) {
	t.Helper()
	f, err := setup.Parse([]byte(twoInterfaces))
	if err != nil {
		t.Fatal(err)
	}
	o := newFakeOpener()
	db, err := setup.Build(f,
		setup.OptOpener(o),
		setup.OptOnEvent(isobus.Discard),
		setup.OptSettleDelay(time.Microsecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	return db, o
}

func TestBuild(t *testing.T) {
	db, o := buildTwo(t)
	if len(db.Interfaces) != 2 || len(db.Devices) != 2 {
		t.Fatalf("built %d interfaces and %d devices", len(db.Interfaces), len(db.Devices))
	}
	if got := strings.Join(o.opens, ","); got != "/dev/ttyUSB0,tcp://10.0.0.5" {
		t.Errorf("opened %s", got)
	}
	gp := db.Interface("isobus2")
	if gp == nil {
		t.Fatal("isobus2 missing")
	}
	if gp.Link().Kind != isobus.LinkBus || gp.Link().Address != 24 {
		t.Errorf("link %+v", gp.Link())
	}
	if gp.Flags() != isobus.FlagReadTerminatorIsLinefeed {
		t.Errorf("flags %#x", uint32(gp.Flags()))
	}
	if dev := db.Device("ilm2"); dev == nil || dev.Interface != gp || dev.Driver.Name() != "ilm2" {
		t.Errorf("ilm2 %+v", dev)
	}
	if db.Device("nope") != nil || db.Interface("nope") != nil {
		t.Error("found unknown names")
	}
}

func TestBuild_SharedController(t *testing.T) {
	f, err := setup.Parse([]byte(`
interfaces:
  - {name: a, link: gpib, controller: /dev/ttyACM0, gpib_address: 1}
  - {name: b, link: gpib, controller: /dev/ttyACM0, gpib_address: 2}
`))
	if err != nil {
		t.Fatal(err)
	}
	o := newFakeOpener()
	db, err := setup.Build(f, setup.OptOpener(o), setup.OptOnEvent(isobus.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if len(o.opens) != 1 {
		t.Errorf("controller opened %d times", len(o.opens))
	}
	if db.Interface("a").Link().Bus != db.Interface("b").Link().Bus {
		t.Error("interfaces do not share the controller")
	}
}

func TestBuild_OpenFailure(t *testing.T) {
	f, err := setup.Parse([]byte(twoInterfaces))
	if err != nil {
		t.Fatal(err)
	}
	o := newFakeOpener()
	o.err = errors.New("no such port")
	if _, err := setup.Build(f, setup.OptOpener(o)); err == nil || !strings.Contains(err.Error(), "isobus1") {
		t.Errorf("got %v", err)
	}
}

func TestBuild_Nil(t *testing.T) {
	if _, err := setup.Build(nil); !errors.Is(err, isobus.ErrNullArgument) {
		t.Errorf("got %v", err)
	}
}

func TestDatabase_Open(t *testing.T) {
	db, o := buildTwo(t)
	serial := o.serials["/dev/ttyUSB0"]
	serial.Script(mock.Silence(), mock.Line("ILM Version 1.09\r"), mock.Line("C3\r"))
	bus := o.buses["tcp://10.0.0.5"]
	bus.Script(mock.Silence(), mock.Line("ILM Version 1.07"), mock.Line("C1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(serial.Written, "|"); got != "@6Q0|@6V|@6C3" {
		t.Errorf("serial wrote %s", got)
	}
	if got := strings.Join(bus.Lines(), "|"); got != "Q0|V|C1" {
		t.Errorf("bus wrote %s", got)
	}
	if got := strings.Join(serial.Calls, ","); !strings.HasPrefix(got, "verify,resync,discard-output,discard-input") {
		t.Errorf("serial calls %s", got)
	}
}

func TestDatabase_OpenFailure(t *testing.T) {
	db, o := buildTwo(t)
	o.serials["/dev/ttyUSB0"].Script(mock.Silence(), mock.Line("IPS120 Version 3.07\r"), mock.Line("IPS120 Version 3.07\r"), mock.Line("IPS120 Version 3.07\r"))
	o.buses["tcp://10.0.0.5"].Script(mock.Silence(), mock.Line("ILM Version 1.07"), mock.Line("C1"))

	err := db.Open(context.Background())
	if !errors.Is(err, isobus.ErrUnexpectedResponse) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), `device "ilm1"`) {
		t.Errorf("error %q does not name the device", err)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("ILMTOOL_PORT", "/dev/ttyS1")
	t.Setenv("ILMTOOL_DEBUG", "true")
	t.Setenv("ILMTOOL_CONFIG", "lab.yaml")
	env, err := setup.LoadEnvironment()
	if err != nil {
		t.Fatal(err)
	}
	if env.Port != "/dev/ttyS1" || !env.Debug || env.Config != "lab.yaml" || env.Baudrate != 9600 {
		t.Errorf("env %+v", env)
	}
}

func TestLoadEnvironment_Invalid(t *testing.T) {
	t.Setenv("ILMTOOL_BAUDRATE", "fast")
	if _, err := setup.LoadEnvironment(); err == nil {
		t.Error("expected error")
	}
}
