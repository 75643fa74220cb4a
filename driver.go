package isobus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Driver is a device on an ISOBUS interface.
type Driver interface {
	Name() string
	Open(context.Context) error
}

type DriverConfig struct {
	Name           string
	Address        int
	Flags          uint32
	MaximumRetries int
	Debug          bool
	OnEvent        func(Event)
}

type DriverInfo struct {
	Name        string
	Description string
	New         func(*Interface, *DriverConfig) (Driver, error)
}

func (d *DriverInfo) String() string {
	return fmt.Sprintf("%s | %s", d.Name, d.Description)
}

var (
	driverMu  sync.RWMutex
	driverMap = make(map[string]*DriverInfo)
)

func RegisterDriver(driver *DriverInfo) error {
	driverMu.Lock()
	defer driverMu.Unlock()
	name := strings.ToLower(driver.Name)
	if _, found := driverMap[name]; found {
		return fmt.Errorf("driver %s already registered", driver.Name)
	}
	driverMap[name] = driver
	return nil
}

func NewDriver(driverName string, iface *Interface, cfg *DriverConfig) (Driver, error) {
	if iface == nil {
		return nil, fmt.Errorf("%w: driver %q without an ISOBUS interface", ErrNullArgument, driverName)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: driver %q without a config", ErrNullArgument, driverName)
	}
	driverMu.RLock()
	driver, found := driverMap[strings.ToLower(driverName)]
	driverMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown driver %q", driverName)
	}
	return driver.New(iface, cfg)
}

func HasDriver(driverName string) bool {
	driverMu.RLock()
	defer driverMu.RUnlock()
	_, found := driverMap[strings.ToLower(driverName)]
	return found
}

func ListDriverNames() []string {
	driverMu.RLock()
	defer driverMu.RUnlock()
	var out []string
	for _, d := range driverMap {
		out = append(out, d.Name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}
