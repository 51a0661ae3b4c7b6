package beacon

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkit-go/beacon-agent/internal/config"
)

type stubTiming struct{ now int64 }

func (s *stubTiming) NowMillis() int64 { return s.now }

type stubThreadID struct{ id int64 }

func (s stubThreadID) ThreadID() int64 { return s.id }

type stubPRN struct{ value int64 }

func (s stubPRN) NextPositiveInt63() int64 { return s.value }

type recordingClient struct {
	bodies    [][]byte
	responses []*StatusResponse
}

func (r *recordingClient) SendStatusRequest(ctx context.Context, extra map[string]string) *StatusResponse {
	return &StatusResponse{StatusCode: 200}
}

func (r *recordingClient) SendBeaconRequest(ctx context.Context, clientIP string, body []byte, extra map[string]string) *StatusResponse {
	r.bodies = append(r.bodies, body)
	if len(r.responses) == 0 {
		return &StatusResponse{StatusCode: 200}
	}
	resp := r.responses[0]
	r.responses = r.responses[1:]
	return resp
}

func factoryFor(c HTTPClient) ClientFactory {
	return func() HTTPClient { return c }
}

func userBehaviorConfig(deviceID int64) *config.BeaconConfiguration {
	return config.NewBeaconConfiguration(
		&config.OpenKitConfiguration{ApplicationID: "app-1", DeviceID: deviceID},
		config.NewPrivacyConfiguration(config.DataCollectionUserBehavior, config.CrashReportingOptedIn),
		config.DefaultServerConfiguration(),
	)
}

func newTestBeacon(t *testing.T, cfg *config.BeaconConfiguration, cache *Cache, key Key, timing *stubTiming) *Beacon {
	t.Helper()
	return New(cfg, cache, key, "", timing, stubThreadID{id: 42}, stubPRN{value: 7}, nil)
}

// fragments extracts the event fragments from a sent body by cutting off
// the prefix: everything after the mp= pair.
func fragments(t *testing.T, body string) []string {
	t.Helper()

	idx := strings.Index(body, "&mp=")
	require.GreaterOrEqual(t, idx, 0, "body missing mp= pair: %s", body)

	rest := body[idx+len("&mp="):]
	cut := strings.IndexByte(rest, '&')
	if cut < 0 {
		return nil
	}
	rest = rest[cut+1:]

	parts := strings.Split(rest, "&et=")
	frags := make([]string, 0, len(parts))
	for i, chunk := range parts {
		if i > 0 {
			chunk = "et=" + chunk
		}
		frags = append(frags, chunk)
	}
	return frags
}

func TestBeacon_EmptySession(t *testing.T) {
	cache := NewCache()
	timing := &stubTiming{now: 1000}
	b := newTestBeacon(t, userBehaviorConfig(1), cache, Key{SessionNumber: 42}, timing)

	b.StartSession()
	timing.now = 1005
	b.EndSession()

	client := &recordingClient{}
	resp := b.Send(context.Background(), factoryFor(client), nil)
	require.NotNil(t, resp)
	require.Len(t, client.bodies, 1)

	body := string(client.bodies[0])
	assert.Contains(t, body, "sn=42")

	frags := fragments(t, body)
	require.Len(t, frags, 2)
	assert.True(t, strings.HasPrefix(frags[0], "et=18&"), "first fragment must be session start: %s", frags[0])
	assert.True(t, strings.HasPrefix(frags[1], "et=19&"), "second fragment must be session end: %s", frags[1])
	assert.Contains(t, frags[0], "pa=0")
	assert.Contains(t, frags[1], "pa=0")
	assert.Contains(t, frags[0], "s0=1")
	assert.Contains(t, frags[1], "s0=2")
	assert.Contains(t, frags[0], "t0=0")
	assert.Contains(t, frags[1], "t0=5")
}

func TestBeacon_ActionWithValue(t *testing.T) {
	cache := NewCache()
	timing := &stubTiming{now: 1000}
	b := newTestBeacon(t, userBehaviorConfig(1), cache, Key{SessionNumber: 1}, timing)

	// the API layer draws ids and sequence numbers from the beacon; do
	// the same so the action's numbers line up with the shared counters
	for i := 0; i < 2; i++ {
		b.CreateID()
	}
	for i := 0; i < 3; i++ {
		b.CreateSequenceNumber()
	}
	actionID := b.CreateID()
	startSeq := b.CreateSequenceNumber()
	endSeq := b.CreateSequenceNumber()
	require.Equal(t, int32(3), actionID)
	require.Equal(t, int32(4), startSeq)
	require.Equal(t, int32(5), endSeq)

	timing.now = 1150
	b.AddAction(Action{
		ID:            actionID,
		ParentID:      0,
		Name:          "click",
		StartSequence: startSeq,
		EndSequence:   endSeq,
		StartTime:     1100,
		EndTime:       1150,
	})
	b.ReportValueInt(3, "k", 7)

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)
	require.Len(t, client.bodies, 1)

	frags := fragments(t, string(client.bodies[0]))
	require.Len(t, frags, 2)

	// action fragment precedes the event fragment within the chunk
	action, value := frags[0], frags[1]
	assert.Contains(t, action, "et=1&")
	assert.Contains(t, action, "ca=3")
	assert.Contains(t, action, "pa=0")
	assert.Contains(t, action, "s0=4")
	assert.Contains(t, action, "t0=100")
	assert.Contains(t, action, "s1=5")
	assert.Contains(t, action, "t1=50")

	assert.Contains(t, value, "et=12&")
	assert.Contains(t, value, "na=k")
	assert.Contains(t, value, "pa=3")
	assert.Contains(t, value, "s0=6")
	assert.Contains(t, value, "vl=7")
}

func TestBeacon_ReservedCharEncoding(t *testing.T) {
	cache := NewCache()
	b := newTestBeacon(t, userBehaviorConfig(1), cache, Key{SessionNumber: 1}, &stubTiming{now: 1})

	val := "x_y"
	b.ReportValueString(1, "a_b", &val)

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)
	require.Len(t, client.bodies, 1)

	frags := fragments(t, string(client.bodies[0]))
	require.Len(t, frags, 1)

	assert.Contains(t, frags[0], "na=a%5Fb")
	assert.Contains(t, frags[0], "vl=x%5Fy")
	for _, pair := range strings.Split(frags[0], "&") {
		_, v, _ := strings.Cut(pair, "=")
		assert.NotContains(t, v, "_", "underscore must never appear literally in a value: %s", pair)
	}
}

func TestBeacon_RollbackOnTransportError(t *testing.T) {
	cache := NewCache()
	key := Key{SessionNumber: 1}
	b := newTestBeacon(t, userBehaviorConfig(1), cache, key, &stubTiming{now: 1000})

	b.ReportEvent(0, "first")
	b.ReportEvent(0, "second")

	failing := &recordingClient{responses: []*StatusResponse{{StatusCode: 500}}}
	b.Send(context.Background(), factoryFor(failing), nil)
	require.Len(t, failing.bodies, 1)
	assert.False(t, b.IsEmpty())

	healthy := &recordingClient{}
	resp := b.Send(context.Background(), factoryFor(healthy), nil)
	require.NotNil(t, resp)
	require.Len(t, healthy.bodies, 1)

	// the clock is frozen, so the retried body is byte-identical
	assert.Equal(t, failing.bodies[0], healthy.bodies[0])
	assert.True(t, b.IsEmpty())
}

func TestBeacon_ChunkingRespectsSizeBudget(t *testing.T) {
	cfg := userBehaviorConfig(1)
	server := config.DefaultServerConfiguration()
	server.BeaconSizeBytes = 2048
	cfg.UpdateServer(server)

	cache := NewCache()
	key := Key{SessionNumber: 1}
	b := newTestBeacon(t, cfg, cache, key, &stubTiming{now: 1000})

	// 399 bytes + '&' delimiter = 400 per fragment: two fit in the
	// 1024-byte budget together with the prefix, three never do
	payload := strings.Repeat("x", 397) + "=1"
	for i := 0; i < 5; i++ {
		cache.AddEventData(key, int64(i), payload)
	}

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)

	require.Len(t, client.bodies, 3)
	for _, body := range client.bodies {
		assert.LessOrEqual(t, len(body), 2048-1024)
	}
	assert.Equal(t, 2, strings.Count(string(client.bodies[0]), payload))
	assert.Equal(t, 2, strings.Count(string(client.bodies[1]), payload))
	assert.Equal(t, 1, strings.Count(string(client.bodies[2]), payload))
	assert.True(t, b.IsEmpty())
	assert.Equal(t, int64(0), cache.TotalSize())
}

func TestBeacon_DeviceIDPrivacyGate(t *testing.T) {
	// device-id sending allowed: the configured id is used verbatim
	allowed := userBehaviorConfig(12345)
	b := New(allowed, NewCache(), Key{SessionNumber: 1}, "", &stubTiming{now: 1}, stubThreadID{id: 1}, stubPRN{value: 999}, nil)
	b.StartSession()

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)
	require.Len(t, client.bodies, 1)
	assert.Contains(t, string(client.bodies[0]), "vi=12345")

	// performance level forbids device-id sending: the id comes from
	// the RNG instead, and the session number collapses to 1
	restricted := config.NewBeaconConfiguration(
		&config.OpenKitConfiguration{ApplicationID: "app-1", DeviceID: 12345},
		config.NewPrivacyConfiguration(config.DataCollectionPerformance, config.CrashReportingOptedIn),
		config.DefaultServerConfiguration(),
	)
	b2 := New(restricted, NewCache(), Key{SessionNumber: 42}, "", &stubTiming{now: 1}, stubThreadID{id: 1}, stubPRN{value: 999}, nil)
	b2.StartSession()

	client2 := &recordingClient{}
	b2.Send(context.Background(), factoryFor(client2), nil)
	require.Len(t, client2.bodies, 1)
	body := string(client2.bodies[0])
	assert.Contains(t, body, "vi=999")
	assert.NotContains(t, body, "vi=12345")
	assert.Contains(t, body, "sn=1")
}

func TestBeacon_PrivacyGatesSuppressCacheMutation(t *testing.T) {
	cfg := config.NewBeaconConfiguration(
		&config.OpenKitConfiguration{ApplicationID: "app-1"},
		config.NewPrivacyConfiguration(config.DataCollectionOff, config.CrashReportingOff),
		config.DefaultServerConfiguration(),
	)
	cache := NewCache()
	b := New(cfg, cache, Key{SessionNumber: 1}, "", &stubTiming{now: 1}, stubThreadID{id: 1}, stubPRN{value: 1}, nil)

	val := "v"
	b.EndSession()
	b.AddAction(Action{ID: 1, Name: "a"})
	b.ReportValueInt(0, "n", 1)
	b.ReportValueDouble(0, "n", 1.5)
	b.ReportValueString(0, "n", &val)
	b.ReportEvent(0, "n")
	b.ReportError(0, "n", 1, "r")
	b.ReportCrash("n", "r", "s")
	b.AddWebRequest(0, WebRequestTracer{StartSequence: 1})
	b.IdentifyUser("user")

	assert.Equal(t, int64(0), cache.TotalSize())
	assert.Equal(t, "", b.CreateTag(0, 1))
}

func TestBeacon_CaptureOffSuppressesEverything(t *testing.T) {
	cfg := userBehaviorConfig(1)
	server := config.DefaultServerConfiguration()
	server.Capture = false
	cfg.UpdateServer(server)

	cache := NewCache()
	b := newTestBeacon(t, cfg, cache, Key{SessionNumber: 1}, &stubTiming{now: 1})

	b.StartSession()
	b.ReportEvent(0, "n")

	assert.True(t, b.IsEmpty())
}

func TestBeacon_IDsAndSequencesStartAtOneAndIncrease(t *testing.T) {
	b := newTestBeacon(t, userBehaviorConfig(1), NewCache(), Key{SessionNumber: 1}, &stubTiming{now: 1})

	assert.Equal(t, int32(1), b.CreateID())
	assert.Equal(t, int32(2), b.CreateID())
	assert.Equal(t, int32(1), b.CreateSequenceNumber())
	assert.Equal(t, int32(2), b.CreateSequenceNumber())
}

func TestBeacon_NameTrimmedAndTruncated(t *testing.T) {
	cache := NewCache()
	b := newTestBeacon(t, userBehaviorConfig(1), cache, Key{SessionNumber: 1}, &stubTiming{now: 1})

	long := "  " + strings.Repeat("n", 300) + "  "
	b.ReportEvent(0, long)

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)
	require.Len(t, client.bodies, 1)

	frags := fragments(t, string(client.bodies[0]))
	require.Len(t, frags, 1)
	assert.Contains(t, frags[0], "na="+strings.Repeat("n", 250)+"&")
	assert.NotContains(t, frags[0], strings.Repeat("n", 251))
}

func TestBeacon_CreateTagFormat(t *testing.T) {
	cfg := userBehaviorConfig(555)
	b := New(cfg, NewCache(), Key{SessionNumber: 9}, "", &stubTiming{now: 1}, stubThreadID{id: 42}, stubPRN{value: 1}, nil)

	tag := b.CreateTag(3, 2)
	assert.Equal(t, "MT_3_1_555_9_app-1_3_42_2", tag)
}

func TestBeacon_CreateTagIncludesSessionSequenceForNewVisitStore(t *testing.T) {
	cfg := userBehaviorConfig(555)
	server := config.DefaultServerConfiguration()
	server.VisitStoreVersion = 2
	cfg.UpdateServer(server)

	b := New(cfg, NewCache(), Key{SessionNumber: 9, SessionSequence: 4}, "", &stubTiming{now: 1}, stubThreadID{id: 42}, stubPRN{value: 1}, nil)

	tag := b.CreateTag(3, 2)
	assert.Equal(t, "MT_3_1_555_9-4_app-1_3_42_2", tag)
}

func TestBeacon_MutablePrefixIncludesSessionSequenceOnlyForNewVisitStore(t *testing.T) {
	cfg := userBehaviorConfig(1)
	cache := NewCache()
	b := newTestBeacon(t, cfg, cache, Key{SessionNumber: 1, SessionSequence: 3}, &stubTiming{now: 1000})
	b.StartSession()

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)
	require.Len(t, client.bodies, 1)
	body := string(client.bodies[0])
	assert.Contains(t, body, "vs=1")
	assert.NotContains(t, body, "&ss=")

	server := config.DefaultServerConfiguration()
	server.VisitStoreVersion = 2
	cfg.UpdateServer(server)

	b.StartSession()
	client2 := &recordingClient{}
	b.Send(context.Background(), factoryFor(client2), nil)
	require.Len(t, client2.bodies, 1)
	assert.Contains(t, string(client2.bodies[0]), "vs=2&ss=3")
}

func TestBeacon_InvalidClientIPSubstitutedWithEmpty(t *testing.T) {
	cache := NewCache()
	b := New(userBehaviorConfig(1), cache, Key{SessionNumber: 1}, "not-an-ip", &stubTiming{now: 1}, stubThreadID{id: 1}, stubPRN{value: 1}, nil)
	b.StartSession()

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)
	require.Len(t, client.bodies, 1)
	assert.NotContains(t, string(client.bodies[0]), "ip=")
}

func TestBeacon_WebRequestOmitsNegativeFields(t *testing.T) {
	cache := NewCache()
	b := newTestBeacon(t, userBehaviorConfig(1), cache, Key{SessionNumber: 1}, &stubTiming{now: 1000})

	b.AddWebRequest(0, WebRequestTracer{
		StartSequence: 1,
		StartTime:     1000,
		EndTime:       1050,
		ResponseCode:  200,
		BytesSent:     -1,
		BytesReceived: -1,
	})

	client := &recordingClient{}
	b.Send(context.Background(), factoryFor(client), nil)
	require.Len(t, client.bodies, 1)

	frags := fragments(t, string(client.bodies[0]))
	require.Len(t, frags, 1)
	assert.Contains(t, frags[0], "et=30&")
	assert.Contains(t, frags[0], "rc=200")
	assert.NotContains(t, frags[0], "bs=")
	assert.NotContains(t, frags[0], "br=")
}
