package beacon

// WebRequestTracer carries the timing/outcome data the caller-side HTTP
// tracer object accumulated for one traced request. The core only reads
// these fields; it never performs the HTTP call itself (transport
// connection handling belongs to the concrete HTTP client).
type WebRequestTracer struct {
	StartSequence int32
	// StartTime and EndTime are absolute wall-clock milliseconds from the
	// timing provider, matching every other timestamp field the core
	// consumes from its caller.
	StartTime int64
	EndTime   int64

	// ResponseCode, BytesSent, BytesReceived are -1 when unknown; a
	// negative value omits the corresponding wire field.
	ResponseCode  int
	BytesSent     int
	BytesReceived int
}
