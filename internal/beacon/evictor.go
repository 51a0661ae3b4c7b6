package beacon

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openkit-go/beacon-agent/internal/providers"
)

// EvictionConfig holds the two caps the evictor enforces: a maximum
// record age, and a high-water/low-water pair on total cached bytes.
type EvictionConfig struct {
	// MaxRecordAge is the oldest a live fragment may get before the
	// age pass removes it.
	MaxRecordAge time.Duration

	// CacheSizeUpperBytes is the high-water mark: eviction runs only
	// once the aggregate cache size exceeds it.
	CacheSizeUpperBytes int64

	// CacheSizeLowerBytes is the low-water mark: the by-count pass
	// removes records until the aggregate size drops below it.
	CacheSizeLowerBytes int64
}

// DefaultEvictionConfig mirrors the caps a fresh install ships with.
func DefaultEvictionConfig() EvictionConfig {
	return EvictionConfig{
		MaxRecordAge:        105 * time.Minute,
		CacheSizeUpperBytes: 2 * 1024 * 1024,
		CacheSizeLowerBytes: 1600 * 1024,
	}
}

// Evictor bounds the cache's memory footprint. It runs on the sender
// thread between ticks, never on producer threads; only live sequences
// are scanned, so keys mid-drain keep their toBeSent fragments intact.
type Evictor struct {
	cache  *Cache
	cfg    EvictionConfig
	timing providers.TimingProvider
	log    logrus.FieldLogger
}

// NewEvictor builds an evictor over cache with the given caps.
func NewEvictor(cache *Cache, cfg EvictionConfig, timing providers.TimingProvider, log logrus.FieldLogger) *Evictor {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Evictor{
		cache:  cache,
		cfg:    cfg,
		timing: timing,
		log:    log.WithField("component", "evictor"),
	}
}

// Execute runs one eviction pass. When the aggregate size exceeds the
// high-water mark, every key is first purged of age-expired fragments;
// if the cache is not yet below the low-water mark, records are then
// removed by count across all keys round-robin, oldest first, until the
// size drops below the low-water mark.
func (e *Evictor) Execute() {
	if e.cache.TotalSize() <= e.cfg.CacheSizeUpperBytes {
		return
	}

	minTimestamp := e.timing.NowMillis() - e.cfg.MaxRecordAge.Milliseconds()

	agedOut := 0
	for _, key := range e.cache.Keys() {
		agedOut += e.cache.EvictRecordsByAge(key, minTimestamp)
	}

	if agedOut > 0 {
		e.log.WithField("records", agedOut).Debug("evicted age-expired cache records")
	}

	countedOut := 0
	for e.cache.TotalSize() >= e.cfg.CacheSizeLowerBytes {
		removedThisRound := 0

		for _, key := range e.cache.Keys() {
			if e.cache.TotalSize() < e.cfg.CacheSizeLowerBytes {
				break
			}

			n := e.cache.RecordCount(key)
			if n == 0 {
				continue
			}
			removedThisRound += e.cache.EvictRecordsByNumber(key, n-1)
		}

		if removedThisRound == 0 {
			// Everything left is in-flight toBeSent data, which is
			// never evicted.
			break
		}
		countedOut += removedThisRound
	}

	if countedOut > 0 {
		e.log.WithField("records", countedOut).Debug("evicted cache records to respect size bound")
	}
}
