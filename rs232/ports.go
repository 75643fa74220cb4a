package rs232

import (
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"
)

type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return p.Name + " (USB " + p.VID + ":" + p.PID + " " + p.SerialNumber + ")"
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var out []PortInfo
	for _, port := range ports {
		out = append(out, PortInfo{
			Name:         port.Name,
			IsUSB:        port.IsUSB,
			VID:          port.VID,
			PID:          port.PID,
			SerialNumber: port.SerialNumber,
		})
	}
	return out, nil
}

// NormalizeName upper-cases COM port names on windows.
func NormalizeName(portName string) string {
	if runtime.GOOS == "windows" {
		return strings.ToUpper(portName)
	}
	return portName
}
