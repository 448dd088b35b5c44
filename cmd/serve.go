package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"seekstream"
	"seekstream/internal/config"
)

func init() {
	command := &cobra.Command{
		Use:   "serve",
		Short: "serve transcoding session orchestrator",
		Long:  `serve transcoding session orchestrator`,
		Run:   seekstream.Service.ServeCommand,
	}

	configs := []config.Config{
		seekstream.Service.ServerConfig,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		seekstream.Service.Preflight()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	rootCmd.AddCommand(command)
}
