package cmd

import (
	"errors"
	"fmt"

	"github.com/roffe/goisobus"
	"github.com/spf13/cobra"
)

const (
	flagAddress    = "address"
	flagNoResponse = "no-response"
	flagClear      = "clear"
)

// clearer is a bus that can send a GPIB selected device clear.
type clearer interface {
	Clear(address int) error
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntP(flagAddress, "a", isobus.NoAddress, "ISOBUS address, -1 = none")
	sendCmd.Flags().IntP(flagRetries, "r", 0, "retries, -1 = forever")
	sendCmd.Flags().Bool(flagNoResponse, false, "do not wait for a reply")
	sendCmd.Flags().Bool(flagClear, false, "send a GPIB device clear first")
}

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "send a raw ISOBUS command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		address, err := cmd.Flags().GetInt(flagAddress)
		if err != nil {
			return err
		}
		retries, err := cmd.Flags().GetInt(flagRetries)
		if err != nil {
			return err
		}
		noResponse, err := cmd.Flags().GetBool(flagNoResponse)
		if err != nil {
			return err
		}
		devClear, err := cmd.Flags().GetBool(flagClear)
		if err != nil {
			return err
		}

		db, err := buildSetup(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Open(ctx); err != nil {
			return err
		}

		iface := db.Interface(interfaceName)
		if devClear {
			link := iface.Link()
			c, ok := link.Bus.(clearer)
			if !ok {
				return errors.New("--clear needs a gpib link")
			}
			if err := c.Clear(link.Address); err != nil {
				return err
			}
		}
		req := isobus.Request{
			Address:    address,
			Command:    args[0],
			MaxRetries: retries,
		}
		if !noResponse {
			req.ResponseSize = isobus.DefaultResponseSize
		}
		resp, err := iface.Execute(ctx, req)
		if err != nil {
			return err
		}
		if !noResponse {
			fmt.Println(green("%s", resp))
		}
		fmt.Println(iface.Stats())
		return nil
	},
}
