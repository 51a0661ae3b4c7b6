package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openkit-go/beacon-agent/internal/beacon"
	"github.com/openkit-go/beacon-agent/internal/config"
	"github.com/openkit-go/beacon-agent/internal/diagstatus"
	"github.com/openkit-go/beacon-agent/internal/protocol"
	"github.com/openkit-go/beacon-agent/internal/providers"
	"github.com/openkit-go/beacon-agent/internal/sending"
	"github.com/openkit-go/beacon-agent/internal/sessions"
	"github.com/openkit-go/beacon-agent/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Long: `Starts the sending state machine: handshake with the collector,
steady-state flushing of cached telemetry, and graceful flush on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		beaconCfg := config.ToBeaconConfiguration(cfg)
		beaconCfg.SetUpdateCallback(func(old, next *config.ServerConfiguration) {
			logger.WithFields(logrus.Fields{
				"capture":      next.Capture,
				"multiplicity": next.Multiplicity,
				"server_id":    next.ServerID,
			}).Info("Server configuration updated")
		})

		cache := beacon.NewCache()
		timing := providers.WallClock{}
		threads := providers.NewThreadIDAllocator()
		prng := providers.CryptoRandomProvider{}
		counter := providers.NewSessionCounter()

		registry := sessions.NewRegistry(beaconCfg, cache, timing, threads, prng, counter, cfg.ClientIP, logger)

		wireLog := zerolog.Nop()
		if logger.IsLevelEnabled(logrus.DebugLevel) {
			wireLog = zerolog.New(os.Stdout).With().Timestamp().Logger()
		}

		client := transport.NewClient(transport.Config{
			BaseURL:       cfg.CollectorURL,
			JWTSecret:     []byte(cfg.CollectorJWTSecret),
			ServerID:      beaconCfg.Server().ServerID,
			ApplicationID: cfg.ApplicationID,
			AgentVersion:  protocol.AgentVersion,
		}, logger, wireLog)

		evictor := beacon.NewEvictor(cache, beacon.EvictionConfig{
			MaxRecordAge:        time.Duration(cfg.CacheMaxRecordAgeMs) * time.Millisecond,
			CacheSizeUpperBytes: cfg.CacheSizeUpperBytes,
			CacheSizeLowerBytes: cfg.CacheSizeLowerBytes,
		}, timing, logger)

		sendCtx := sending.NewContext(beaconCfg, registry, func() beacon.HTTPClient { return client }, timing)
		sendCtx.Evictor = evictor

		if cfg.DiagPort > 0 {
			diag := diagstatus.NewServer(diagstatus.Config{Port: cfg.DiagPort}, cache, sendCtx, prometheus.DefaultRegisterer, logger)
			diag.Start()
			defer diag.Stop()
		}

		logger.WithField("collector", cfg.CollectorURL).Info("Starting sender")

		done := make(chan struct{})
		go func() {
			sending.Run(sendCtx)
			close(done)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("Received shutdown signal")
			sendCtx.RequestShutdown()
		case <-done:
			logger.Info("Sender stopped on its own")
		}

		<-done
		logger.Info("Agent stopped")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
