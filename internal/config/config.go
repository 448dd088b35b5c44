package config

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type VideoProfile struct {
	Width   int `mapstructure:"width"`
	Height  int `mapstructure:"height"`
	Bitrate int `mapstructure:"bitrate"` // in kilobits
}

type AudioProfile struct {
	Bitrate int `mapstructure:"bitrate"` // in kilobits
}

// Orchestrator configures the transcoding session core. Intervals are plain
// numbers so they round-trip through env vars and yaml without decode hooks:
// seconds unless stated otherwise.
type Orchestrator struct {
	MediaDir      string `mapstructure:"media-dir"`
	TranscodeDir  string `mapstructure:"transcode-dir"`
	FFmpegBinary  string `mapstructure:"ffmpeg-binary"`
	FFprobeBinary string `mapstructure:"ffprobe-binary"`

	Quality      string       `mapstructure:"quality"`
	VideoProfile VideoProfile `mapstructure:"video-profile"`
	AudioProfile AudioProfile `mapstructure:"audio-profile"`

	SegmentDuration  float64 `mapstructure:"segment-duration"`
	SegmentLookahead int     `mapstructure:"segment-lookahead"`

	FirstSegmentTimeout int `mapstructure:"first-segment-timeout"`
	KillGracePeriod     int `mapstructure:"kill-grace"`
	ReconcileInterval   int `mapstructure:"reconcile-interval"` // in milliseconds

	SeekWaitBudget    int     `mapstructure:"seek-wait-budget"`
	EncodeSpeedFactor float64 `mapstructure:"encode-speed-factor"`

	IdleTimeout      int `mapstructure:"idle-timeout"`
	EvictionInterval int `mapstructure:"eviction-interval"`
}

type Server struct {
	PProf bool

	Cert  string
	Key   string
	Bind  string
	Proxy bool

	Vod Orchestrator
}

func (Server) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("bind", "127.0.0.1:8080", "address/port/socket to serve the orchestrator")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cert", "", "path to the SSL cert used to secure the server")
	if err := viper.BindPFlag("cert", cmd.PersistentFlags().Lookup("cert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("key", "", "path to the SSL key used to secure the server")
	if err := viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	return nil
}

func (s *Server) Set() {
	s.PProf = viper.GetBool("pprof")

	s.Cert = viper.GetString("cert")
	s.Key = viper.GetString("key")
	s.Bind = viper.GetString("bind")
	s.Proxy = viper.GetBool("proxy")

	//
	// VOD orchestrator
	//
	if err := viper.UnmarshalKey("vod", &s.Vod); err != nil {
		panic(err)
	}

	// defaults

	if s.Vod.MediaDir == "" {
		panic("specify vod media-dir")
	}

	if s.Vod.TranscodeDir == "" {
		var err error
		s.Vod.TranscodeDir, err = os.MkdirTemp(os.TempDir(), "seekstream-vod")
		if err != nil {
			panic(err)
		}
	} else {
		err := os.MkdirAll(s.Vod.TranscodeDir, 0755)
		if err != nil {
			panic(err)
		}
	}

	if s.Vod.FFmpegBinary == "" {
		s.Vod.FFmpegBinary = "ffmpeg"
	}

	if s.Vod.FFprobeBinary == "" {
		s.Vod.FFprobeBinary = "ffprobe"
	}

	if s.Vod.Quality == "" {
		s.Vod.Quality = "720p"
	}

	if s.Vod.VideoProfile.Width == 0 {
		s.Vod.VideoProfile = VideoProfile{Width: 1280, Height: 720, Bitrate: 3000}
	}

	if s.Vod.AudioProfile.Bitrate == 0 {
		s.Vod.AudioProfile = AudioProfile{Bitrate: 128}
	}
}
