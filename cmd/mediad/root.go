package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mediad",
		Short: "Mediad is the media storage and streaming backend for the portfolio site",
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newSeedCmd(&configPath),
	)

	return cmd
}
