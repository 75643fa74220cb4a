package cmd

import (
	"context"
	"log"

	"github.com/roffe/goisobus/setup"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:          "ilmtool",
	Short:        "ISOBUS instrument tool",
	Long:         `Talk to Oxford Instruments ISOBUS controllers over RS-232 or a Prologix GPIB controller`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort        = "port"
	flagBaudrate    = "baudrate"
	flagDebug       = "debug"
	flagLink        = "link"
	flagGPIBAddress = "gpib-address"
	flagLinefeed    = "linefeed"
	flagRetries     = "retries"
)

// env holds the flag defaults from the ILMTOOL_ variables.
var env = loadEnvironment()

func loadEnvironment() *setup.Environment {
	e, err := setup.LoadEnvironment()
	if err != nil {
		log.Printf("ignoring environment: %v", err)
		return &setup.Environment{Baudrate: 9600}
	}
	return e
}

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)
	addLinkFlags(rootCmd.PersistentFlags())
}

func addLinkFlags(pf *pflag.FlagSet) {
	port := env.Port
	if port == "" {
		port = "*"
	}
	pf.StringP(flagPort, "p", port, "com-port or GPIB controller (tcp://host for ethernet), * = select")
	pf.IntP(flagBaudrate, "b", env.Baudrate, "baudrate")
	pf.BoolP(flagDebug, "d", env.Debug, "debug mode")
	pf.StringP(flagLink, "l", setup.LinkRS232, "link type, rs232 or gpib")
	pf.Int(flagGPIBAddress, 24, "GPIB address of the ISOBUS interface")
	pf.Bool(flagLinefeed, false, "controller terminates replies with LF instead of CR")
}
