package cmd

import (
	"fmt"

	"github.com/roffe/goisobus/rs232"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(portsCmd)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "list serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := rs232.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println(red("no serial ports found"))
			return nil
		}
		for _, port := range ports {
			fmt.Println(green("%s", port.Name))
			if port.IsUSB {
				fmt.Println(yellow("   USB ID      %s:%s", port.VID, port.PID))
				fmt.Println(yellow("   USB serial  %s", port.SerialNumber))
			}
		}
		return nil
	},
}
