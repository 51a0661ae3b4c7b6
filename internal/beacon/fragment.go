package beacon

// EventFragment is one serialised event's key/value payload, already
// percent-encoded and delimiter-clean (no leading/trailing '&'). The
// timestamp is wall-clock milliseconds from the timing provider and is
// used only to order eviction-by-age; it plays no part in the wire
// format itself.
type EventFragment struct {
	TimestampMs int64
	Payload     string
}
