package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkit-go/beacon-agent/internal/beacon"
	"github.com/openkit-go/beacon-agent/internal/config"
	"github.com/openkit-go/beacon-agent/internal/providers"
)

type fixedTiming struct{ now int64 }

func (f *fixedTiming) NowMillis() int64 { return f.now }

type fixedPRN struct{}

func (fixedPRN) NextPositiveInt63() int64 { return 11 }

func newTestRegistry() (*Registry, *beacon.Cache) {
	cfg := config.NewBeaconConfiguration(
		&config.OpenKitConfiguration{ApplicationID: "app-1", DeviceID: 5},
		config.NewPrivacyConfiguration(config.DataCollectionUserBehavior, config.CrashReportingOptedIn),
		config.DefaultServerConfiguration(),
	)
	cache := beacon.NewCache()
	r := NewRegistry(cfg, cache, &fixedTiming{now: 1000}, providers.NewThreadIDAllocator(), fixedPRN{}, providers.NewSessionCounter(), "", nil)
	return r, cache
}

func TestRegistry_StartSessionDrawsIncreasingSessionNumbers(t *testing.T) {
	r, cache := newTestRegistry()

	b1 := r.StartSession()
	b2 := r.StartSession()

	assert.Equal(t, int32(1), b1.Key().SessionNumber)
	assert.Equal(t, int32(2), b2.Key().SessionNumber)
	assert.Len(t, r.OpenSessionBeacons(), 2)
	assert.Empty(t, r.FinishedSessionBeacons())

	// both beacons recorded their session-start event
	assert.False(t, cache.IsEmpty(b1.Key()))
	assert.False(t, cache.IsEmpty(b2.Key()))
}

func TestRegistry_FinishSessionMovesBeaconToFinished(t *testing.T) {
	r, _ := newTestRegistry()

	b := r.StartSession()
	r.FinishSession(b)

	assert.Empty(t, r.OpenSessionBeacons())
	require.Len(t, r.FinishedSessionBeacons(), 1)
	assert.Same(t, b, r.FinishedSessionBeacons()[0])
}

func TestRegistry_FinishSessionIgnoresUnknownBeacon(t *testing.T) {
	r, _ := newTestRegistry()
	other, _ := newTestRegistry()

	b := other.StartSession()
	r.FinishSession(b)

	assert.Empty(t, r.FinishedSessionBeacons())
}

func TestRegistry_RemoveFinishedSessionDropsBookkeepingAndCacheEntry(t *testing.T) {
	r, cache := newTestRegistry()

	b := r.StartSession()
	r.FinishSession(b)
	r.RemoveFinishedSession(b)

	assert.Empty(t, r.FinishedSessionBeacons())
	assert.True(t, cache.IsEmpty(b.Key()))
	assert.Equal(t, int64(0), cache.TotalSize())
}
