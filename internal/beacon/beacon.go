// Package beacon implements the beacon assembler and cache: the two
// subsystems known as "beacon assembly & protocol encoder" and
// "beacon cache". A Beacon is constructed once per session, builds its
// immutable prefix at construction time, and serialises every telemetry
// operation into an EventFragment appended to the shared Cache under its
// Key.
package beacon

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/openkit-go/beacon-agent/internal/config"
	"github.com/openkit-go/beacon-agent/internal/percentenc"
	"github.com/openkit-go/beacon-agent/internal/protocol"
	"github.com/openkit-go/beacon-agent/internal/providers"
)

// Action is one completed user action. Start/End are absolute
// wall-clock milliseconds from the timing provider.
type Action struct {
	ID            int32
	ParentID      int32
	Name          string
	StartSequence int32
	EndSequence   int32
	StartTime     int64
	EndTime       int64
}

// Beacon assembles one session's telemetry into wire-format fragments
// and drives their transmission. Not safe for concurrent calls to send()
// against the same Beacon, but individual append operations are safe to
// call from many goroutines since they only ever touch the shared Cache.
type Beacon struct {
	cfg   *config.BeaconConfiguration
	cache *Cache
	key   Key

	timing   providers.TimingProvider
	threadID providers.ThreadIDProvider
	prng     providers.PRNProvider
	log      logrus.FieldLogger

	reportedSessionNumber int32
	sessionStartMs        int64
	visitorID             int64
	clientIP              string
	immutablePrefix       string

	nextID  atomic.Int32
	nextSeq atomic.Int32
}

// New constructs a Beacon for the given key. key.SessionNumber is the
// value the caller drew from providers.SessionIDProvider for this
// session (the Key's session number is always the real value; what gets
// reported on the wire depends on privacy policy, see reportedSessionNumber
// below). rawClientIP is validated and substituted with "" when invalid;
// a non-empty invalid address is logged as a warning.
func New(
	cfg *config.BeaconConfiguration,
	cache *Cache,
	key Key,
	rawClientIP string,
	timing providers.TimingProvider,
	threadID providers.ThreadIDProvider,
	prng providers.PRNProvider,
	log logrus.FieldLogger,
) *Beacon {
	if log == nil {
		log = logrus.StandardLogger()
	}

	b := &Beacon{
		cfg:      cfg,
		cache:    cache,
		key:      key,
		timing:   timing,
		threadID: threadID,
		prng:     prng,
		log:      log.WithField("component", "beacon"),
	}

	b.sessionStartMs = timing.NowMillis()

	if cfg.Privacy.IsSessionNumberReportingAllowed() {
		b.reportedSessionNumber = key.SessionNumber
	} else {
		b.reportedSessionNumber = 1
	}

	if cfg.Privacy.IsDeviceIDSendingAllowed() {
		b.visitorID = cfg.OpenKit.DeviceID
		if b.visitorID < 0 {
			b.visitorID = 0
		}
	} else {
		b.visitorID = prng.NextPositiveInt63()
	}

	clientIP, ok := ValidateClientIP(rawClientIP)
	if rawClientIP != "" && !ok {
		b.log.WithField("client_ip", rawClientIP).Warn("beacon: invalid client IP, substituting empty")
	}
	b.clientIP = clientIP

	b.immutablePrefix = b.buildImmutablePrefix()

	return b
}

// Key returns the BeaconKey this beacon serialises under.
func (b *Beacon) Key() Key { return b.key }

func (b *Beacon) buildImmutablePrefix() string {
	fb := newFragmentBuilder(b.log)

	fb.addInt(protocol.KeyProtocolVersion, protocol.ProtocolVersion)
	fb.addString(protocol.KeyAgentVersion, protocol.AgentVersion)
	fb.addString(protocol.KeyApplicationID, b.cfg.OpenKit.ApplicationID)

	if b.cfg.OpenKit.ApplicationName != "" {
		fb.addString(protocol.KeyApplicationName, b.cfg.OpenKit.ApplicationName)
	}
	if b.cfg.OpenKit.ApplicationVersion != "" {
		fb.addString(protocol.KeyApplicationVersion, b.cfg.OpenKit.ApplicationVersion)
	}

	fb.addInt(protocol.KeyPlatformType, protocol.PlatformType)
	fb.addString(protocol.KeyAgentTechType, protocol.AgentTechnologyType)
	fb.addInt(protocol.KeyVisitorID, b.visitorID)
	fb.addInt(protocol.KeySessionNumber, int64(b.reportedSessionNumber))

	if b.clientIP != "" {
		fb.addString(protocol.KeyClientIP, b.clientIP)
	}

	if b.cfg.OpenKit.OperatingSystem != "" {
		fb.addString(protocol.KeyOS, b.cfg.OpenKit.OperatingSystem)
	}
	if b.cfg.OpenKit.Manufacturer != "" {
		fb.addString(protocol.KeyManufacturer, b.cfg.OpenKit.Manufacturer)
	}
	if b.cfg.OpenKit.ModelID != "" {
		fb.addString(protocol.KeyModelID, b.cfg.OpenKit.ModelID)
	}

	fb.addInt(protocol.KeyDataCollection, int64(b.cfg.Privacy.DataCollectionLevel))
	fb.addInt(protocol.KeyCrashReporting, int64(b.cfg.Privacy.CrashReportingLevel))

	return fb.String()
}

// buildMutablePrefix rebuilds the per-send prefix: immutable prefix,
// visit-store version (+ session sequence when >1), transmission/visit
// timestamps, multiplicity.
func (b *Beacon) buildMutablePrefix() string {
	server := b.cfg.Server()

	var out strings.Builder
	out.WriteString(b.immutablePrefix)
	out.WriteByte('&')
	out.WriteString(protocol.KeyVisitStore)
	out.WriteByte('=')
	fmt.Fprintf(&out, "%d", server.VisitStoreVersion)

	if server.VisitStoreVersion > 1 {
		out.WriteByte('&')
		out.WriteString(protocol.KeySessionSeq)
		out.WriteByte('=')
		fmt.Fprintf(&out, "%d", b.key.SessionSequence)
	}

	now := b.timing.NowMillis()
	fmt.Fprintf(&out, "&%s=%d&%s=%d", protocol.KeyTransmissionTime, now, protocol.KeyVisitTime, b.sessionStartMs)
	fmt.Fprintf(&out, "&%s=%d", protocol.KeyMultiplicity, server.Multiplicity)

	return out.String()
}

func (b *Beacon) header(fb *fragmentBuilder, eventType protocol.EventType, name string) {
	fb.addInt(protocol.KeyEventType, int64(eventType))
	if name != "" {
		fb.addString(protocol.KeyName, truncateName(name, protocol.MaxNameLength))
	}
	fb.addInt(protocol.KeyThreadID, b.threadID.ThreadID())
}

func (b *Beacon) addEvent(ts int64, payload string) {
	b.cache.AddEventData(b.key, ts, payload)
}

func (b *Beacon) addAction(ts int64, payload string) {
	b.cache.AddActionData(b.key, ts, payload)
}

// CreateID returns a fresh, strictly increasing positive int32 id,
// starting at 1, for correlating parent/child records within this
// beacon.
func (b *Beacon) CreateID() int32 {
	return b.nextID.Add(1)
}

// CreateSequenceNumber returns a fresh, strictly increasing positive
// int32 sequence number, starting at 1.
func (b *Beacon) CreateSequenceNumber() int32 {
	return b.nextSeq.Add(1)
}

// CreateTag builds a web-request tag when tracing is allowed, else "".
func (b *Beacon) CreateTag(parentID int32, tracerSeq int32) string {
	if !b.cfg.Privacy.IsWebRequestTracingAllowed() {
		return ""
	}

	server := b.cfg.Server()

	encodedAppID, err := percentenc.Encode(b.cfg.OpenKit.ApplicationID, reservedUnderscore)
	if err != nil {
		b.log.WithError(err).Warn("beacon: failed to encode application id for tag")
		encodedAppID = ""
	}

	tag := fmt.Sprintf("MT_%d_%d_%d_%d", protocol.ProtocolVersion, server.ServerID, b.visitorID, b.reportedSessionNumber)
	if server.VisitStoreVersion > 1 {
		tag += fmt.Sprintf("-%d", b.key.SessionSequence)
	}
	tag += fmt.Sprintf("_%s_%d_%d_%d", encodedAppID, parentID, b.threadID.ThreadID(), tracerSeq)

	return tag
}

// StartSession appends a SESSION_START event when capture is enabled.
func (b *Beacon) StartSession() {
	server := b.cfg.Server()
	if !server.Capture {
		return
	}

	now := b.timing.NowMillis()

	fb := newFragmentBuilder(b.log)
	b.header(fb, protocol.EventSessionStart, "")
	fb.addInt(protocol.KeyParentID, 0)
	fb.addInt(protocol.KeyStartSeq, int64(b.CreateSequenceNumber()))
	fb.addInt(protocol.KeyStartTime, now-b.sessionStartMs)

	b.addEvent(now, fb.String())
}

// EndSession appends a SESSION_END event when session reporting is
// allowed and capture is enabled.
func (b *Beacon) EndSession() {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsSessionReportingAllowed() || !server.Capture {
		return
	}

	now := b.timing.NowMillis()

	fb := newFragmentBuilder(b.log)
	b.header(fb, protocol.EventSessionEnd, "")
	fb.addInt(protocol.KeyParentID, 0)
	fb.addInt(protocol.KeyStartSeq, int64(b.CreateSequenceNumber()))
	fb.addInt(protocol.KeyStartTime, now-b.sessionStartMs)

	b.addEvent(now, fb.String())
}

// AddAction appends an ACTION event to the action sequence.
func (b *Beacon) AddAction(a Action) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsActionReportingAllowed() || !server.Capture {
		return
	}

	fb := newFragmentBuilder(b.log)
	b.header(fb, protocol.EventAction, a.Name)
	fb.addInt(protocol.KeyParentActID, int64(a.ID))
	fb.addInt(protocol.KeyParentID, int64(a.ParentID))
	fb.addInt(protocol.KeyStartSeq, int64(a.StartSequence))
	fb.addInt(protocol.KeyStartTime, a.StartTime-b.sessionStartMs)
	fb.addInt(protocol.KeyEndSeq, int64(a.EndSequence))
	fb.addInt(protocol.KeyEndTime, a.EndTime-a.StartTime)

	b.addAction(a.StartTime, fb.String())
}

func (b *Beacon) reportValueHeader(parentID int32, name string, eventType protocol.EventType) (*fragmentBuilder, int64) {
	now := b.timing.NowMillis()

	fb := newFragmentBuilder(b.log)
	b.header(fb, eventType, name)
	fb.addInt(protocol.KeyParentID, int64(parentID))
	fb.addInt(protocol.KeyStartSeq, int64(b.CreateSequenceNumber()))
	fb.addInt(protocol.KeyStartTime, now-b.sessionStartMs)

	return fb, now
}

// ReportValueInt appends a VALUE_INT event.
func (b *Beacon) ReportValueInt(parentID int32, name string, value int64) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsValueReportingAllowed() || !server.Capture {
		return
	}

	fb, now := b.reportValueHeader(parentID, name, protocol.EventValueInt)
	fb.addInt(protocol.KeyValue, value)
	b.addEvent(now, fb.String())
}

// ReportValueDouble appends a VALUE_DOUBLE event.
func (b *Beacon) ReportValueDouble(parentID int32, name string, value float64) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsValueReportingAllowed() || !server.Capture {
		return
	}

	fb, now := b.reportValueHeader(parentID, name, protocol.EventValueDouble)
	fb.addFloat(protocol.KeyValue, value)
	b.addEvent(now, fb.String())
}

// ReportValueString appends a VALUE_STRING event. value == nil omits the
// vl= field entirely.
func (b *Beacon) ReportValueString(parentID int32, name string, value *string) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsValueReportingAllowed() || !server.Capture {
		return
	}

	fb, now := b.reportValueHeader(parentID, name, protocol.EventValueString)
	fb.addStringPtr(protocol.KeyValue, value)
	b.addEvent(now, fb.String())
}

// ReportEvent appends a NAMED_EVENT event.
func (b *Beacon) ReportEvent(parentID int32, name string) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsEventReportingAllowed() || !server.Capture {
		return
	}

	fb, now := b.reportValueHeader(parentID, name, protocol.EventNamedEvent)
	b.addEvent(now, fb.String())
}

// ReportError appends an ERROR event.
func (b *Beacon) ReportError(parentID int32, name string, code int, reason string) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsErrorReportingAllowed() || !server.CaptureErrors {
		return
	}

	fb, now := b.reportValueHeader(parentID, name, protocol.EventError)
	fb.addInt(protocol.KeyErrorValue, int64(code))
	fb.addString(protocol.KeyErrorReason, reason)
	fb.addString(protocol.KeyErrorTechType, protocol.AgentTechnologyType)
	b.addEvent(now, fb.String())
}

// ReportCrash appends a CRASH event.
func (b *Beacon) ReportCrash(name, reason, stack string) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsCrashReportingAllowed() || !server.CaptureCrashes {
		return
	}

	fb, now := b.reportValueHeader(0, name, protocol.EventCrash)
	fb.addString(protocol.KeyErrorReason, reason)
	fb.addString(protocol.KeyErrorStack, stack)
	fb.addString(protocol.KeyErrorTechType, protocol.AgentTechnologyType)
	b.addEvent(now, fb.String())
}

// AddWebRequest appends a WEB_REQUEST event, summarising a tracer's
// outcome (bs/br/rc are omitted when negative).
func (b *Beacon) AddWebRequest(parentID int32, t WebRequestTracer) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsWebRequestTracingAllowed() || !server.Capture {
		return
	}

	fb := newFragmentBuilder(b.log)
	b.header(fb, protocol.EventWebRequest, "")
	fb.addInt(protocol.KeyParentID, int64(parentID))
	fb.addInt(protocol.KeyStartSeq, int64(t.StartSequence))
	fb.addInt(protocol.KeyStartTime, t.StartTime-b.sessionStartMs)
	fb.addIntOmitNegative(protocol.KeyBytesSent, t.BytesSent)
	fb.addIntOmitNegative(protocol.KeyBytesReceived, t.BytesReceived)
	fb.addIntOmitNegative(protocol.KeyWebRequestCode, t.ResponseCode)

	b.addEvent(t.StartTime, fb.String())
}

// IdentifyUser appends an IDENTIFY_USER event.
func (b *Beacon) IdentifyUser(tag string) {
	server := b.cfg.Server()
	if !b.cfg.Privacy.IsUserIdentificationAllowed() || !server.Capture {
		return
	}

	fb, now := b.reportValueHeader(0, "", protocol.EventIdentifyUser)
	fb.addString(protocol.KeyValue, tag)
	b.addEvent(now, fb.String())
}

// IsEmpty reports whether this beacon currently has no buffered data.
func (b *Beacon) IsEmpty() bool {
	return b.cache.IsEmpty(b.key)
}

// ClearData deletes this beacon's cache entry outright.
func (b *Beacon) ClearData() {
	b.cache.DeleteCacheEntry(b.key)
}

// Send drains this beacon's cached data: while the cache still holds
// data for this key, build a fresh mutable prefix, drain the next
// chunk, POST it, and commit or roll back depending on the response.
// Returns the last StatusResponse seen (possibly nil if the cache was
// already empty).
func (b *Beacon) Send(ctx context.Context, clientFactory ClientFactory, extraParams map[string]string) *StatusResponse {
	var last *StatusResponse

	client := clientFactory()

	server := b.cfg.Server()
	maxSize := server.BeaconSizeBytes - protocol.SendMarginBytes
	if maxSize < 0 {
		maxSize = 0
	}

	for b.cache.HasRemainingData(b.key) {
		prefix := b.buildMutablePrefix()

		chunk, ok := b.cache.GetNextBeaconChunk(b.key, prefix, maxSize, "&")
		if !ok {
			return last
		}
		if chunk == "" {
			return last
		}

		bodyBytes := []byte(chunk)
		if !utf8.ValidString(chunk) {
			b.log.Error("beacon: chunk was not valid UTF-8, resetting chunked data")
			b.cache.ResetChunkedData(b.key)
			return last
		}

		resp := client.SendBeaconRequest(ctx, b.clientIP, bodyBytes, extraParams)
		last = resp

		if resp.IsErroneous() {
			b.cache.ResetChunkedData(b.key)
			break
		}

		b.cache.RemoveChunkedData(b.key)
	}

	return last
}
