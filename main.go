package seekstream

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"seekstream/hlsession"
	"seekstream/internal/api"
	"seekstream/internal/config"
	"seekstream/internal/http"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig: &config.Server{},
	}
}

type Main struct {
	ServerConfig *config.Server

	logger        zerolog.Logger
	registry      *hlsession.Registry
	apiManager    *api.ApiManagerCtx
	server        *http.HttpManagerCtx
	stopEviction  context.CancelFunc
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) Start() {
	cfg := main.ServerConfig

	// reclaim leftovers from a prior crash before accepting any session
	if killed := hlsession.SweepOrphans(main.logger, cfg.Vod.FFmpegBinary); killed > 0 {
		main.logger.Warn().Int("killed", killed).Msg("orphaned encoders reclaimed")
	}
	hlsession.SweepTranscodeRoot(main.logger, cfg.Vod.TranscodeDir)

	resolver := &hlsession.ProbeResolver{
		MediaRoot:     cfg.Vod.MediaDir,
		FFprobeBinary: cfg.Vod.FFprobeBinary,
	}

	main.registry = hlsession.New(orchestratorConfig(cfg.Vod), resolver)

	ctx, cancel := context.WithCancel(context.Background())
	main.stopEviction = cancel
	go main.registry.RunEviction(ctx)

	main.apiManager = api.New(main.registry)

	main.server = http.New(cfg)
	main.server.Mount(main.apiManager.Mount)

	if cfg.PProf {
		main.server.WithDebugPProf("/debug/pprof")
		main.logger.Info().Msg("with pprof endpoint")
	}

	main.server.Start()
}

func (main *Main) Shutdown() {
	if main.stopEviction != nil {
		main.stopEviction()
	}

	main.registry.Shutdown()

	if err := main.server.Shutdown(); err != nil {
		main.logger.Err(err).Msg("server shutdown with an error")
	} else {
		main.logger.Debug().Msg("server shutdown")
	}
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.Start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}

func orchestratorConfig(o config.Orchestrator) hlsession.Config {
	return hlsession.Config{
		TranscodeDir:  o.TranscodeDir,
		FFmpegBinary:  o.FFmpegBinary,
		FFprobeBinary: o.FFprobeBinary,

		Quality: hlsession.Quality{
			Name: o.Quality,
			Video: hlsession.VideoProfile{
				Width:   o.VideoProfile.Width,
				Height:  o.VideoProfile.Height,
				Bitrate: o.VideoProfile.Bitrate,
			},
			Audio: hlsession.AudioProfile{
				Bitrate: o.AudioProfile.Bitrate,
			},
		},

		SegmentDuration:  o.SegmentDuration,
		SegmentLookahead: o.SegmentLookahead,

		FirstSegmentTimeout: time.Duration(o.FirstSegmentTimeout) * time.Second,
		KillGracePeriod:     time.Duration(o.KillGracePeriod) * time.Second,
		ReconcileInterval:   time.Duration(o.ReconcileInterval) * time.Millisecond,

		SeekWaitBudget:    time.Duration(o.SeekWaitBudget) * time.Second,
		EncodeSpeedFactor: o.EncodeSpeedFactor,

		IdleTimeout:      time.Duration(o.IdleTimeout) * time.Second,
		EvictionInterval: time.Duration(o.EvictionInterval) * time.Second,
	}
}
