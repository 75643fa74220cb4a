package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/roffe/goisobus/setup"
	"github.com/spf13/cobra"
)

const (
	flagConfig  = "config"
	flagTimeout = "timeout"
)

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringP(flagConfig, "c", env.Config, "setup file")
	setupCmd.Flags().Duration(flagTimeout, 60*time.Second, "give up opening after this long")
}

type versioner interface {
	Version() string
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "open every interface and device in a setup file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, err := cmd.Flags().GetString(flagConfig)
		if err != nil {
			return err
		}
		if filename == "" {
			return errors.New("no setup file given")
		}
		timeout, err := cmd.Flags().GetDuration(flagTimeout)
		if err != nil {
			return err
		}
		debug, err := cmd.Flags().GetBool(flagDebug)
		if err != nil {
			return err
		}

		f, err := setup.Load(filename)
		if err != nil {
			return err
		}
		db, err := setup.Build(f, setup.OptDebug(debug), setup.OptOnEvent(printEvent))
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		start := time.Now()
		if err := db.Open(ctx); err != nil {
			return err
		}
		for _, dev := range db.Devices {
			line := fmt.Sprintf("%-12s %-6s on %s", dev.Spec.Name, dev.Spec.Type, dev.Interface.Name())
			if v, ok := dev.Driver.(versioner); ok {
				line += " " + v.Version()
			}
			fmt.Println(green("%s", line))
		}
		for _, iface := range db.Interfaces {
			fmt.Printf("%s: %s\n", iface.Name(), iface.Stats())
		}
		log.Println("took", time.Since(start).String())
		return nil
	},
}
