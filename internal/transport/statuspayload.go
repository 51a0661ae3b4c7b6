package transport

import (
	"encoding/json"

	"github.com/openkit-go/beacon-agent/internal/beacon"
)

// statusPayload is the collector's status-response JSON shape. Every
// field is a pointer so an absent field leaves the corresponding patch
// field nil, and the sending state machine's applyPatch only overrides
// what the server actually sent.
type statusPayload struct {
	Capture             *bool `json:"capture,omitempty"`
	CaptureErrors       *bool `json:"captureErrors,omitempty"`
	CaptureCrashes      *bool `json:"captureCrashes,omitempty"`
	BeaconSizeBytes     *int  `json:"beaconSizeBytes,omitempty"`
	SendIntervalMs      *int  `json:"sendIntervalMs,omitempty"`
	Multiplicity        *int  `json:"multiplicity,omitempty"`
	VisitStoreVersion   *int  `json:"visitStoreVersion,omitempty"`
	MaxEventsPerSession *int  `json:"maxEventsPerSession,omitempty"`
	SessionTimeoutMs    *int  `json:"sessionTimeoutMs,omitempty"`
	SessionDurationMs   *int  `json:"sessionDurationMs,omitempty"`
	ServerID            *int  `json:"serverId,omitempty"`
}

// parseServerConfigPatch decodes a status response body. An empty body
// (common for a 2xx beacon-send acknowledgement with no config change)
// is not an error; it simply yields no patch.
func parseServerConfigPatch(body []byte) (*beacon.ServerConfigPatch, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}

	return &beacon.ServerConfigPatch{
		Capture:             p.Capture,
		CaptureErrors:       p.CaptureErrors,
		CaptureCrashes:      p.CaptureCrashes,
		BeaconSizeBytes:     p.BeaconSizeBytes,
		SendIntervalMs:      p.SendIntervalMs,
		Multiplicity:        p.Multiplicity,
		VisitStoreVersion:   p.VisitStoreVersion,
		MaxEventsPerSession: p.MaxEventsPerSession,
		SessionTimeoutMs:    p.SessionTimeoutMs,
		SessionDurationMs:   p.SessionDurationMs,
		ServerID:            p.ServerID,
	}, nil
}
