// Package sessions tracks the beacons behind live monitoring sessions:
// which are still open and which have ended but still hold unsent data.
// It is the concrete SessionProvider the sending state machine flushes
// through; the richer public session/action/tracer API sits above it.
package sessions

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openkit-go/beacon-agent/internal/beacon"
	"github.com/openkit-go/beacon-agent/internal/config"
	"github.com/openkit-go/beacon-agent/internal/providers"
)

// Registry creates and tracks session beacons. Safe for concurrent use:
// producer threads start/finish sessions while the sender thread
// enumerates and flushes them.
type Registry struct {
	cfg      *config.BeaconConfiguration
	cache    *beacon.Cache
	timing   providers.TimingProvider
	threads  *providers.ThreadIDAllocator
	prng     providers.PRNProvider
	counter  providers.SessionIDProvider
	clientIP string
	log      logrus.FieldLogger

	mu       sync.Mutex
	open     []*beacon.Beacon
	finished []*beacon.Beacon
}

// NewRegistry wires a registry over the shared cache and providers.
// clientIP may be empty or invalid; beacon construction handles the
// substitution.
func NewRegistry(
	cfg *config.BeaconConfiguration,
	cache *beacon.Cache,
	timing providers.TimingProvider,
	threads *providers.ThreadIDAllocator,
	prng providers.PRNProvider,
	counter providers.SessionIDProvider,
	clientIP string,
	log logrus.FieldLogger,
) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Registry{
		cfg:      cfg,
		cache:    cache,
		timing:   timing,
		threads:  threads,
		prng:     prng,
		counter:  counter,
		clientIP: clientIP,
		log:      log.WithField("component", "sessions"),
	}
}

// StartSession draws a fresh session number, constructs its beacon,
// records the session-start event, and tracks the beacon as open.
func (r *Registry) StartSession() *beacon.Beacon {
	number := r.counter.NextSessionNumber()
	key := beacon.Key{SessionNumber: number, SessionSequence: 0}

	b := beacon.New(r.cfg, r.cache, key, r.clientIP, r.timing, r.threads.Allocate(), r.prng, r.log)
	b.StartSession()

	r.mu.Lock()
	r.open = append(r.open, b)
	r.mu.Unlock()

	r.log.WithField("session", number).Debug("session started")

	return b
}

// FinishSession records the session-end event and moves b from the open
// set to the finished set, where the sender flushes and eventually
// removes it. Unknown beacons are ignored.
func (r *Registry) FinishSession(b *beacon.Beacon) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, open := range r.open {
		if open == b {
			b.EndSession()
			r.open = append(r.open[:i], r.open[i+1:]...)
			r.finished = append(r.finished, b)
			return
		}
	}
}

// OpenSessionBeacons implements sending.SessionProvider.
func (r *Registry) OpenSessionBeacons() []*beacon.Beacon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*beacon.Beacon{}, r.open...)
}

// FinishedSessionBeacons implements sending.SessionProvider.
func (r *Registry) FinishedSessionBeacons() []*beacon.Beacon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*beacon.Beacon{}, r.finished...)
}

// RemoveFinishedSession implements sending.SessionProvider: drops the
// bookkeeping for a fully flushed beacon and deletes its (now empty)
// cache entry.
func (r *Registry) RemoveFinishedSession(b *beacon.Beacon) {
	r.mu.Lock()
	for i, fin := range r.finished {
		if fin == b {
			r.finished = append(r.finished[:i], r.finished[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	b.ClearData()
}
