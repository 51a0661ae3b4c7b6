// Package protocol holds the fixed wire-level constants shared by the
// beacon assembler and cache: the key vocabulary, event type codes, and
// the protocol/platform identifiers baked into every beacon's immutable
// prefix.
package protocol

// EventType is the numeric code ("et=") identifying a beacon event.
type EventType int

const (
	EventAction       EventType = 1
	EventValueString  EventType = 11
	EventValueInt     EventType = 12
	EventValueDouble  EventType = 13
	EventNamedEvent   EventType = 10
	EventSessionStart EventType = 18
	EventSessionEnd   EventType = 19
	EventWebRequest   EventType = 30
	EventError        EventType = 40
	EventCrash        EventType = 50
	EventIdentifyUser EventType = 60
)

// Fixed two-character wire keys, grouped by protocol section.
const (
	KeyProtocolVersion    = "vv"
	KeyAgentVersion       = "va"
	KeyApplicationID      = "ap"
	KeyApplicationName    = "an"
	KeyApplicationVersion = "vn"
	KeyPlatformType       = "pt"
	KeyAgentTechType      = "tt"
	KeyVisitorID          = "vi"
	KeySessionNumber      = "sn"
	KeySessionSeq         = "ss"
	KeyClientIP           = "ip"
	KeyMultiplicity       = "mp"
	KeyDataCollection     = "dl"
	KeyCrashReporting     = "cl"
	KeyVisitStore         = "vs"

	KeyOS           = "os"
	KeyManufacturer = "mf"
	KeyModelID      = "md"

	KeyTransmissionTime = "tx"
	KeyVisitTime        = "tv"

	KeyEventType   = "et"
	KeyName        = "na"
	KeyThreadID    = "it"
	KeyParentActID = "ca"
	KeyParentID    = "pa"
	KeyStartSeq    = "s0"
	KeyStartTime   = "t0"
	KeyEndSeq      = "s1"
	KeyEndTime     = "t1"

	KeyValue = "vl"

	KeyErrorValue    = "ev"
	KeyErrorReason   = "rs"
	KeyErrorStack    = "st"
	KeyErrorTechType = "tt" // intentional collision with KeyAgentTechType, see DESIGN.md

	KeyWebRequestCode = "rc"
	KeyBytesSent      = "bs"
	KeyBytesReceived  = "br"
)

// ProtocolVersion is the wire protocol revision this agent speaks.
const ProtocolVersion = 3

// AgentVersion is the semantic version of this agent, reported verbatim.
const AgentVersion = "1.0.0"

// PlatformType identifies the host platform family in the immutable prefix.
const PlatformType = 1

// AgentTechnologyType is emitted for both "tt" slots (basic block and
// error/crash block). Both render the same literal by design; see
// DESIGN.md for the rationale carried over from the source protocol.
const AgentTechnologyType = "1"

// MaxNameLength is the maximum number of characters (after trimming,
// before encoding) a name/tag string may occupy on the wire.
const MaxNameLength = 250

// SendMarginBytes is subtracted from the configured beacon size to leave
// headroom for header growth between chunk emissions.
const SendMarginBytes = 1024
