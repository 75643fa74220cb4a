package cmd

import (
	"fmt"
	"strconv"

	"github.com/roffe/goisobus/ilm"
	"github.com/roffe/goisobus/setup"
	"github.com/spf13/cobra"
)

const flagILMFlags = "ilm-flags"

func init() {
	rootCmd.AddCommand(ilmCmd)
	ilmCmd.Flags().Uint32(flagILMFlags, ilm.FlagEnableRemoteMode, "1 = remote, 2 = unlocked")
	ilmCmd.Flags().IntP(flagRetries, "r", 2, "retries per command, -1 = forever")
}

var ilmCmd = &cobra.Command{
	Use:   "ilm <address>",
	Short: "initialize an ILM level meter and print its version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[0], err)
		}
		flags, err := cmd.Flags().GetUint32(flagILMFlags)
		if err != nil {
			return err
		}
		retries, err := cmd.Flags().GetInt(flagRetries)
		if err != nil {
			return err
		}

		db, err := buildSetup(cmd, setup.DeviceSpec{
			Name:           "ilm",
			Type:           ilm.DriverName,
			Interface:      interfaceName,
			Address:        &address,
			Flags:          setup.Hex(flags),
			MaximumRetries: retries,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Open(cmd.Context()); err != nil {
			return err
		}
		m := db.Device("ilm").Driver.(*ilm.ILM)
		fmt.Println(green("%s", m.Version()), "mode", ilm.ControlCommand(flags))
		return nil
	},
}
