// Package cmd implements the CLI commands for the beacon agent.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openkit-go/beacon-agent/internal/config"
)

var (
	cfgFile string
	cfg     *config.FileConfig
	logger  *logrus.Logger
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Client-side user-monitoring beacon agent",
	Long: `Agentctl captures application telemetry (sessions, actions, values,
errors, crashes, web-request traces), buffers it in a bounded in-memory
cache, and ships it to a remote collector in size-limited chunks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogger()

		return initConfig()
	},
}

func init() {
	v = viper.New()
	cobra.OnInitialize(loadConfigFile)

	defaults := config.DefaultFileConfig()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().String("application-id", "", "Application identifier reported in every beacon")
	rootCmd.PersistentFlags().String("application-name", "", "Human-readable application name")
	rootCmd.PersistentFlags().String("collector-url", "", "Collector base URL")
	rootCmd.PersistentFlags().String("collector-jwt-secret", "", "Shared secret for collector bearer-token auth")
	rootCmd.PersistentFlags().String("client-ip", "", "Client IP asserted on beacon requests (empty = server-observed)")
	rootCmd.PersistentFlags().Int64("device-id", 0, "Configured device identifier")
	rootCmd.PersistentFlags().Int("data-collection-level", defaults.DataCollectionLevel, "Privacy data-collection level (0=off, 1=performance, 2=user-behavior)")
	rootCmd.PersistentFlags().Int("crash-reporting-level", defaults.CrashReportingLevel, "Privacy crash-reporting level (0=off, 1=opted-out, 2=opted-in)")
	rootCmd.PersistentFlags().Int("diagnostics-port", defaults.DiagPort, "Diagnostics HTTP port (0 = disabled)")
	rootCmd.PersistentFlags().Int64("cache-max-record-age-ms", defaults.CacheMaxRecordAgeMs, "Maximum age of a cached record before eviction")
	rootCmd.PersistentFlags().Int64("cache-size-upper-bytes", defaults.CacheSizeUpperBytes, "Cache high-water mark in bytes")
	rootCmd.PersistentFlags().Int64("cache-size-lower-bytes", defaults.CacheSizeLowerBytes, "Cache low-water mark in bytes")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	if err := v.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initLogger() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
}

func loadConfigFile() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agentctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agentctl")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if logger != nil {
				logger.WithError(err).Warn("Error reading config file")
			}
		}
	}
}

func initConfig() error {
	loader := config.NewLoader(logger)

	fileCfg := config.DefaultFileConfig()

	if path := v.ConfigFileUsed(); path != "" {
		loaded, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		fileCfg = loaded
	}

	if v.GetInt64("device-id") != 0 {
		fileCfg.DeviceID = v.GetInt64("device-id")
	}

	cfg = loader.ApplyFlags(fileCfg, v)

	return nil
}

// GetLogger returns the application logger.
func GetLogger() *logrus.Logger {
	return logger
}
