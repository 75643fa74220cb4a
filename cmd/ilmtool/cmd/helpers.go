package cmd

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/roffe/goisobus"
	"github.com/roffe/goisobus/rs232"
	"github.com/roffe/goisobus/setup"
	"github.com/spf13/cobra"
)

var (
	yellow = color.New(color.FgHiYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
	blue   = color.New(color.FgHiBlue).SprintfFunc()
)

const interfaceName = "isobus"

func printEvent(e isobus.Event) {
	switch e.Type {
	case isobus.EventTypeError:
		log.Println(red("%s", e.String()))
	case isobus.EventTypeWarning:
		log.Println(yellow("%s", e.String()))
	case isobus.EventTypeDebug:
		log.Println(blue("%s", e.String()))
	default:
		log.Println(e.String())
	}
}

// interfaceSpec turns the link flags into a one interface setup.
func interfaceSpec(cmd *cobra.Command) (*setup.InterfaceSpec, error) {
	pf := cmd.Flags()
	port, err := pf.GetString(flagPort)
	if err != nil {
		return nil, err
	}
	baudrate, err := pf.GetInt(flagBaudrate)
	if err != nil {
		return nil, err
	}
	link, err := pf.GetString(flagLink)
	if err != nil {
		return nil, err
	}
	address, err := pf.GetInt(flagGPIBAddress)
	if err != nil {
		return nil, err
	}
	linefeed, err := pf.GetBool(flagLinefeed)
	if err != nil {
		return nil, err
	}

	if port == "*" {
		if port, err = selectPort(); err != nil {
			return nil, err
		}
	}

	spec := &setup.InterfaceSpec{
		Name:     interfaceName,
		Link:     strings.ToLower(link),
		Baudrate: baudrate,
	}
	if linefeed {
		spec.Flags = setup.Hex(isobus.FlagReadTerminatorIsLinefeed)
	}
	switch spec.Link {
	case setup.LinkRS232:
		spec.Port = port
	case setup.LinkGPIB:
		spec.Controller = port
		spec.GPIBAddress = address
	default:
		return nil, fmt.Errorf("unknown link %q", link)
	}
	return spec, nil
}

// buildSetup opens the link given by the flags together with the devices.
func buildSetup(cmd *cobra.Command, devices ...setup.DeviceSpec) (*setup.Database, error) {
	spec, err := interfaceSpec(cmd)
	if err != nil {
		return nil, err
	}
	debug, err := cmd.Flags().GetBool(flagDebug)
	if err != nil {
		return nil, err
	}
	f := &setup.File{
		Interfaces: []setup.InterfaceSpec{*spec},
		Devices:    devices,
	}
	return setup.Build(f,
		setup.OptDebug(debug),
		setup.OptOnEvent(printEvent),
		setup.OptOpener(&setup.DefaultOpener{Debug: debug, OnMessage: func(s string) { log.Println(blue("%s", s)) }}),
	)
}

func selectPort() (string, error) {
	ports, err := rs232.ListPorts()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	items := make([]string, len(ports))
	for i, p := range ports {
		items[i] = p.String()
	}
	prompt := promptui.Select{
		Label: "Select com-port",
		Items: items,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return ports[idx].Name, nil
}
