package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk/flag representation of a BeaconConfiguration
// plus the operational settings (collector URL, diagnostics port) that
// have no place in the wire protocol itself.
type FileConfig struct {
	ApplicationID      string `yaml:"application_id"`
	ApplicationName    string `yaml:"application_name"`
	ApplicationVersion string `yaml:"application_version"`
	OperatingSystem    string `yaml:"operating_system"`
	Manufacturer       string `yaml:"manufacturer"`
	ModelID            string `yaml:"model_id"`
	DeviceID           int64  `yaml:"device_id"`

	DataCollectionLevel int `yaml:"data_collection_level"`
	CrashReportingLevel int `yaml:"crash_reporting_level"`

	CollectorURL       string `yaml:"collector_url"`
	CollectorJWTSecret string `yaml:"collector_jwt_secret"`
	ClientIP           string `yaml:"client_ip"`
	DiagPort           int    `yaml:"diagnostics_port"`

	// Cache eviction caps: maximum record age plus the high/low water
	// marks on total cached bytes.
	CacheMaxRecordAgeMs int64 `yaml:"cache_max_record_age_ms"`
	CacheSizeUpperBytes int64 `yaml:"cache_size_upper_bytes"`
	CacheSizeLowerBytes int64 `yaml:"cache_size_lower_bytes"`
}

// DefaultFileConfig returns the zero-value-safe defaults a fresh install
// ships with.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		ApplicationVersion:  "1.0.0",
		DataCollectionLevel: int(DataCollectionUserBehavior),
		CrashReportingLevel: int(CrashReportingOptedIn),
		DiagPort:            0,
		CacheMaxRecordAgeMs: 105 * 60 * 1000,
		CacheSizeUpperBytes: 2 * 1024 * 1024,
		CacheSizeLowerBytes: 1600 * 1024,
	}
}

// Loader handles configuration loading from files and CLI flags, the
// ambient counterpart to the in-process configuration model.
type Loader struct {
	log logrus.FieldLogger
}

// NewLoader creates a new configuration loader.
func NewLoader(log logrus.FieldLogger) *Loader {
	return &Loader{log: log.WithField("component", "config")}
}

// LoadFile loads configuration from a YAML file.
func (l *Loader) LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyFlags overlays viper-bound CLI flags onto cfg, flags taking
// precedence whenever the user actually passed them.
func (l *Loader) ApplyFlags(cfg *FileConfig, v *viper.Viper) *FileConfig {
	if val := v.GetString("application-id"); val != "" {
		cfg.ApplicationID = val
	}
	if val := v.GetString("application-name"); val != "" {
		cfg.ApplicationName = val
	}
	if val := v.GetString("collector-url"); val != "" {
		cfg.CollectorURL = val
	}
	if val := v.GetString("collector-jwt-secret"); val != "" {
		cfg.CollectorJWTSecret = val
	}
	if val := v.GetString("client-ip"); val != "" {
		cfg.ClientIP = val
	}
	if v.IsSet("data-collection-level") {
		cfg.DataCollectionLevel = v.GetInt("data-collection-level")
	}
	if v.IsSet("crash-reporting-level") {
		cfg.CrashReportingLevel = v.GetInt("crash-reporting-level")
	}
	if v.IsSet("diagnostics-port") {
		cfg.DiagPort = v.GetInt("diagnostics-port")
	}
	if v.IsSet("cache-max-record-age-ms") {
		cfg.CacheMaxRecordAgeMs = v.GetInt64("cache-max-record-age-ms")
	}
	if v.IsSet("cache-size-upper-bytes") {
		cfg.CacheSizeUpperBytes = v.GetInt64("cache-size-upper-bytes")
	}
	if v.IsSet("cache-size-lower-bytes") {
		cfg.CacheSizeLowerBytes = v.GetInt64("cache-size-lower-bytes")
	}

	return cfg
}

// Validate checks cfg for internal consistency before it is turned into
// a BeaconConfiguration.
func Validate(cfg *FileConfig) error {
	if cfg.ApplicationID == "" {
		return fmt.Errorf("application_id: must not be empty")
	}

	if cfg.CollectorURL == "" {
		return fmt.Errorf("collector_url: must not be empty")
	}
	if _, err := url.Parse(cfg.CollectorURL); err != nil {
		return fmt.Errorf("collector_url: invalid URL: %w", err)
	}

	if cfg.DataCollectionLevel < int(DataCollectionOff) || cfg.DataCollectionLevel > int(DataCollectionUserBehavior) {
		return fmt.Errorf("data_collection_level: out of range: %d", cfg.DataCollectionLevel)
	}
	if cfg.CrashReportingLevel < int(CrashReportingOff) || cfg.CrashReportingLevel > int(CrashReportingOptedIn) {
		return fmt.Errorf("crash_reporting_level: out of range: %d", cfg.CrashReportingLevel)
	}

	if cfg.CacheSizeLowerBytes >= cfg.CacheSizeUpperBytes {
		return fmt.Errorf("cache_size_lower_bytes: must be below cache_size_upper_bytes")
	}
	if cfg.CacheMaxRecordAgeMs <= 0 {
		return fmt.Errorf("cache_max_record_age_ms: must be positive")
	}

	return nil
}

// ToBeaconConfiguration converts a validated FileConfig into the runtime
// BeaconConfiguration consumed by the core.
func ToBeaconConfiguration(cfg *FileConfig) *BeaconConfiguration {
	openKit := &OpenKitConfiguration{
		ApplicationID:      cfg.ApplicationID,
		ApplicationName:    cfg.ApplicationName,
		ApplicationVersion: cfg.ApplicationVersion,
		OperatingSystem:    cfg.OperatingSystem,
		Manufacturer:       cfg.Manufacturer,
		ModelID:            cfg.ModelID,
		DeviceID:           cfg.DeviceID,
	}

	privacy := NewPrivacyConfiguration(DataCollectionLevel(cfg.DataCollectionLevel), CrashReportingLevel(cfg.CrashReportingLevel))

	return NewBeaconConfiguration(openKit, privacy, DefaultServerConfiguration())
}
