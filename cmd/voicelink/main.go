package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/voicelink/internal/config"
	"github.com/zhouzirui/voicelink/internal/logging"
	"github.com/zhouzirui/voicelink/internal/metrics"
	"github.com/zhouzirui/voicelink/internal/service/recorder/microphone"
	"github.com/zhouzirui/voicelink/internal/service/recorder/opuscodec"
	"github.com/zhouzirui/voicelink/internal/service/voice"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "voicelink",
		Short:        "Capture microphone audio and stream it to a websocket peer",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newStreamCmd())
	return root
}

// bootstrap 加载 .env 与环境变量配置并初始化日志。
func bootstrap() (*config.Config, zerolog.Logger, error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := logging.New(cfg.Log)
	log.Logger = logger
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}
	return cfg, logger, nil
}

// newController wires the microphone and Opus encoders into a controller.
func newController(cfg *config.Config, logger zerolog.Logger, reg *prometheus.Registry) *voice.Controller {
	var m *metrics.Metrics
	if reg != nil {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	mic := microphone.NewMalgo(logging.Component(logger, "microphone"))
	return voice.New(cfg.Voice.Controller(), mic, opuscodec.NewFactory(), m, logger)
}
