// Package config holds the BeaconConfiguration data model (OpenKit,
// privacy, and server sub-configurations) plus the loader that turns a
// YAML file and/or CLI flags into one, layering viper flags over a YAML
// file into a single validated struct.
package config

import "sync/atomic"

// DataCollectionLevel controls how much behavioural data the agent is
// permitted to report.
type DataCollectionLevel int

const (
	DataCollectionOff          DataCollectionLevel = 0
	DataCollectionPerformance  DataCollectionLevel = 1
	DataCollectionUserBehavior DataCollectionLevel = 2
)

// CrashReportingLevel controls whether crashes are reported at all.
type CrashReportingLevel int

const (
	CrashReportingOff      CrashReportingLevel = 0
	CrashReportingOptedOut CrashReportingLevel = 1
	CrashReportingOptedIn  CrashReportingLevel = 2
)

// OpenKitConfiguration is the static application/device identity carried
// in every beacon's immutable prefix.
type OpenKitConfiguration struct {
	ApplicationID      string `yaml:"application_id"`
	ApplicationName    string `yaml:"application_name"`
	ApplicationVersion string `yaml:"application_version"`
	OperatingSystem    string `yaml:"operating_system"`
	Manufacturer       string `yaml:"manufacturer"`
	ModelID            string `yaml:"model_id"`
	DeviceID           int64  `yaml:"device_id"`
}

// PrivacyConfiguration derives per-capability gates from the two
// configured levels. Capability booleans are computed once by
// NewPrivacyConfiguration and never recomputed per call, matching the
// "no return value unless stated" style of the gated assembler ops.
type PrivacyConfiguration struct {
	DataCollectionLevel DataCollectionLevel
	CrashReportingLevel CrashReportingLevel

	sessionReportingAllowed       bool
	actionReportingAllowed        bool
	valueReportingAllowed         bool
	eventReportingAllowed         bool
	errorReportingAllowed         bool
	crashReportingAllowed         bool
	webRequestTracingAllowed      bool
	userIdentificationAllowed     bool
	sessionNumberReportingAllowed bool
	deviceIDSendingAllowed        bool
}

// NewPrivacyConfiguration derives capability gates from the two levels.
func NewPrivacyConfiguration(dataLevel DataCollectionLevel, crashLevel CrashReportingLevel) *PrivacyConfiguration {
	behaviorAllowed := dataLevel == DataCollectionUserBehavior
	anyDataAllowed := dataLevel != DataCollectionOff

	return &PrivacyConfiguration{
		DataCollectionLevel: dataLevel,
		CrashReportingLevel: crashLevel,

		sessionReportingAllowed:       anyDataAllowed,
		actionReportingAllowed:        behaviorAllowed,
		valueReportingAllowed:         behaviorAllowed,
		eventReportingAllowed:         behaviorAllowed,
		errorReportingAllowed:         anyDataAllowed,
		crashReportingAllowed:         crashLevel == CrashReportingOptedIn,
		webRequestTracingAllowed:      behaviorAllowed,
		userIdentificationAllowed:     behaviorAllowed,
		sessionNumberReportingAllowed: behaviorAllowed,
		deviceIDSendingAllowed:        behaviorAllowed,
	}
}

func (p *PrivacyConfiguration) IsSessionReportingAllowed() bool   { return p.sessionReportingAllowed }
func (p *PrivacyConfiguration) IsActionReportingAllowed() bool    { return p.actionReportingAllowed }
func (p *PrivacyConfiguration) IsValueReportingAllowed() bool     { return p.valueReportingAllowed }
func (p *PrivacyConfiguration) IsEventReportingAllowed() bool     { return p.eventReportingAllowed }
func (p *PrivacyConfiguration) IsErrorReportingAllowed() bool     { return p.errorReportingAllowed }
func (p *PrivacyConfiguration) IsCrashReportingAllowed() bool     { return p.crashReportingAllowed }
func (p *PrivacyConfiguration) IsWebRequestTracingAllowed() bool  { return p.webRequestTracingAllowed }
func (p *PrivacyConfiguration) IsUserIdentificationAllowed() bool { return p.userIdentificationAllowed }
func (p *PrivacyConfiguration) IsSessionNumberReportingAllowed() bool {
	return p.sessionNumberReportingAllowed
}
func (p *PrivacyConfiguration) IsDeviceIDSendingAllowed() bool { return p.deviceIDSendingAllowed }

// ServerConfiguration is the set of parameters discovered from the
// collector's status response. It is swapped as a whole on update so
// readers never observe a partially applied change.
type ServerConfiguration struct {
	Capture             bool
	CaptureErrors       bool
	CaptureCrashes      bool
	BeaconSizeBytes     int
	SendIntervalMs      int
	Multiplicity        int
	VisitStoreVersion   int
	MaxEventsPerSession int
	SessionTimeoutMs    int
	SessionDurationMs   int
	ServerID            int
}

// DefaultServerConfiguration is installed before the first status
// response arrives, so the agent always has a usable zero-value
// configuration.
func DefaultServerConfiguration() *ServerConfiguration {
	return &ServerConfiguration{
		Capture:             true,
		CaptureErrors:       true,
		CaptureCrashes:      true,
		BeaconSizeBytes:     30 * 1024,
		SendIntervalMs:      120000,
		Multiplicity:        1,
		VisitStoreVersion:   1,
		MaxEventsPerSession: 200,
		SessionTimeoutMs:    600000,
		SessionDurationMs:   0,
		ServerID:            1,
	}
}

// UpdateCallback is invoked synchronously whenever a new server
// configuration is installed. A single slot, nullable, set at agent
// boot.
type UpdateCallback func(old, new *ServerConfiguration)

// BeaconConfiguration is the composite configuration handed to every
// Beacon. The server sub-configuration is stored behind an atomic
// pointer so readers always see a complete snapshot.
type BeaconConfiguration struct {
	OpenKit *OpenKitConfiguration
	Privacy *PrivacyConfiguration

	server   atomic.Pointer[ServerConfiguration]
	onUpdate UpdateCallback
}

// NewBeaconConfiguration installs the given server configuration as the
// initial snapshot.
func NewBeaconConfiguration(openKit *OpenKitConfiguration, privacy *PrivacyConfiguration, initialServer *ServerConfiguration) *BeaconConfiguration {
	c := &BeaconConfiguration{OpenKit: openKit, Privacy: privacy}
	c.server.Store(initialServer)
	return c
}

// SetUpdateCallback registers the single observer invoked on every
// ServerConfiguration update. Passing nil clears it.
func (c *BeaconConfiguration) SetUpdateCallback(cb UpdateCallback) {
	c.onUpdate = cb
}

// Server returns the current server configuration snapshot. Callers must
// always go through this accessor rather than caching the pointer
// themselves, so they never straddle an update.
func (c *BeaconConfiguration) Server() *ServerConfiguration {
	return c.server.Load()
}

// UpdateServer swaps in a new server configuration and invokes the
// registered callback, if any, with the old and new snapshots.
func (c *BeaconConfiguration) UpdateServer(next *ServerConfiguration) {
	old := c.server.Swap(next)
	if c.onUpdate != nil {
		c.onUpdate(old, next)
	}
}
