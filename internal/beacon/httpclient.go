package beacon

import "context"

// StatusResponse is the collaborator contract's result type, shared by
// both status polling and beacon sends. A StatusResponse is considered
// erroneous when StatusCode >= 400 or Err is non-nil.
type StatusResponse struct {
	StatusCode int
	Err        error

	// ServerConfig is a server-configuration patch the caller should
	// install, or nil if the response carried none.
	ServerConfig *ServerConfigPatch
}

// ServerConfigPatch mirrors config.ServerConfiguration without importing
// the config package, so beacon stays free of the ambient config layer;
// the sending state machine is responsible for turning a patch into a
// config.ServerConfiguration update.
type ServerConfigPatch struct {
	Capture             *bool
	CaptureErrors       *bool
	CaptureCrashes      *bool
	BeaconSizeBytes     *int
	SendIntervalMs      *int
	Multiplicity        *int
	VisitStoreVersion   *int
	MaxEventsPerSession *int
	SessionTimeoutMs    *int
	SessionDurationMs   *int
	ServerID            *int
}

// IsErroneous reports whether r should be treated as a transport/server
// failure.
func (r *StatusResponse) IsErroneous() bool {
	return r == nil || r.Err != nil || r.StatusCode >= 400
}

// HTTPClient is the abstract collaborator the assembler sends beacons
// through. The concrete implementation (internal/transport) owns
// connection handling and auth. Retries are explicitly not its job:
// at most one attempt per call.
type HTTPClient interface {
	// SendStatusRequest polls the collector for capture policy and
	// server configuration. extraParams are opaque query parameters
	// the core does not interpret.
	SendStatusRequest(ctx context.Context, extraParams map[string]string) *StatusResponse

	// SendBeaconRequest POSTs one beacon chunk's bytes to the
	// collector. clientIP is forwarded so the collector can prefer the
	// caller-asserted address over its own view of the connection.
	SendBeaconRequest(ctx context.Context, clientIP string, body []byte, extraParams map[string]string) *StatusResponse
}

// ClientFactory produces an HTTPClient on demand. The core never
// constructs a transport itself; the host binary supplies the factory.
type ClientFactory func() HTTPClient
