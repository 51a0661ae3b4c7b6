package sending

import (
	"github.com/openkit-go/beacon-agent/internal/beacon"
	"github.com/openkit-go/beacon-agent/internal/config"
)

// applyPatch produces a new ServerConfiguration from base with every
// non-nil field in patch overridden. base is never mutated; the result
// is installed as a whole via BeaconConfiguration.UpdateServer so no
// reader ever observes a half-applied patch.
func applyPatch(base *config.ServerConfiguration, patch *beacon.ServerConfigPatch) *config.ServerConfiguration {
	next := *base

	if patch == nil {
		return &next
	}

	if patch.Capture != nil {
		next.Capture = *patch.Capture
	}
	if patch.CaptureErrors != nil {
		next.CaptureErrors = *patch.CaptureErrors
	}
	if patch.CaptureCrashes != nil {
		next.CaptureCrashes = *patch.CaptureCrashes
	}
	if patch.BeaconSizeBytes != nil {
		next.BeaconSizeBytes = *patch.BeaconSizeBytes
	}
	if patch.SendIntervalMs != nil {
		next.SendIntervalMs = *patch.SendIntervalMs
	}
	if patch.Multiplicity != nil {
		next.Multiplicity = *patch.Multiplicity
	}
	if patch.VisitStoreVersion != nil {
		next.VisitStoreVersion = *patch.VisitStoreVersion
	}
	if patch.MaxEventsPerSession != nil {
		next.MaxEventsPerSession = *patch.MaxEventsPerSession
	}
	if patch.SessionTimeoutMs != nil {
		next.SessionTimeoutMs = *patch.SessionTimeoutMs
	}
	if patch.SessionDurationMs != nil {
		next.SessionDurationMs = *patch.SessionDurationMs
	}
	if patch.ServerID != nil {
		next.ServerID = *patch.ServerID
	}

	return &next
}
