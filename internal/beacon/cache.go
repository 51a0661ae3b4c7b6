package beacon

import (
	"sync"
)

// taggedFragment remembers which live sequence a fragment was drained
// from, so a failed send can restore it to the correct place.
type taggedFragment struct {
	EventFragment
	isAction bool
}

// entry is one BeaconKey's cached data. mu guards the three sequences;
// the cache's global lock guards the key set and the aggregate byte
// counter, never this struct's fields directly.
type entry struct {
	mu sync.Mutex

	eventData  []EventFragment
	actionData []EventFragment

	// pending holds fragments already drained from eventData/actionData
	// by GetNextBeaconChunk but not yet included in a returned chunk.
	// inFlight holds fragments included in the most recently returned,
	// not-yet-confirmed chunk. Together they form the "toBeSent" state.
	pending  []taggedFragment
	inFlight []taggedFragment
}

func (e *entry) isEmpty() bool {
	return len(e.eventData) == 0 && len(e.actionData) == 0
}

// Cache is a thread-safe, bounded store of serialised event fragments
// keyed by Key.
type Cache struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	totalSize int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*entry)}
}

func (c *Cache) getOrCreate(key Key) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) get(key Key) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) adjustSize(delta int64) {
	c.mu.Lock()
	c.totalSize += delta
	c.mu.Unlock()
}

// TotalSize returns the current aggregate cached byte count across every
// entry's three sequences.
func (c *Cache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

// Keys returns a snapshot of the currently cached keys, used by the
// background evictor to walk every entry.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// AddActionData appends an action fragment, creating the entry if absent.
func (c *Cache) AddActionData(key Key, ts int64, payload string) {
	e := c.getOrCreate(key)
	e.mu.Lock()
	e.actionData = append(e.actionData, EventFragment{TimestampMs: ts, Payload: payload})
	e.mu.Unlock()
	c.adjustSize(int64(len(payload)))
}

// AddEventData appends an event fragment, creating the entry if absent.
func (c *Cache) AddEventData(key Key, ts int64, payload string) {
	e := c.getOrCreate(key)
	e.mu.Lock()
	e.eventData = append(e.eventData, EventFragment{TimestampMs: ts, Payload: payload})
	e.mu.Unlock()
	c.adjustSize(int64(len(payload)))
}

// DeleteCacheEntry removes everything associated with key.
func (c *Cache) DeleteCacheEntry(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.mu.Unlock()

	e.mu.Lock()
	freed := sumLen(e.eventData) + sumLen(e.actionData) + sumTaggedLen(e.pending) + sumTaggedLen(e.inFlight)
	e.mu.Unlock()

	c.adjustSize(-freed)
}

// IsEmpty reports whether both live sequences for key are empty. toBeSent
// (pending+inFlight) is ignored.
func (c *Cache) IsEmpty(key Key) bool {
	e, ok := c.get(key)
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isEmpty()
}

// GetNextBeaconChunk builds the next chunk of at most maxSize bytes for
// key. If no chunked drain is in progress it first moves every live
// action+event fragment into the pending queue (action fragments first,
// in order, then event fragments, in order, so action data drains
// strictly before event data). It then emits prefix followed by
// delim+payload for as many pending fragments as fit, moving each into
// inFlight as it is emitted.
//
// Returns ("", false) if no entry exists for key; ("", true) if the
// entry exists but no fragment was drained this call (nothing buffered,
// or the next fragment alone would overflow maxSize); otherwise the
// built chunk and true.
func (c *Cache) GetNextBeaconChunk(key Key, prefix string, maxSize int, delim string) (string, bool) {
	e, ok := c.get(key)
	if !ok {
		return "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 && len(e.inFlight) == 0 {
		for _, f := range e.actionData {
			e.pending = append(e.pending, taggedFragment{EventFragment: f, isAction: true})
		}
		for _, f := range e.eventData {
			e.pending = append(e.pending, taggedFragment{EventFragment: f, isAction: false})
		}
		e.actionData = nil
		e.eventData = nil
	}

	chunk := prefix
	runningLen := len(prefix)
	drained := false

	for len(e.pending) > 0 {
		next := e.pending[0]
		add := len(delim) + len(next.Payload)
		if runningLen+add > maxSize {
			break
		}
		chunk += delim + next.Payload
		runningLen += add
		e.pending = e.pending[1:]
		e.inFlight = append(e.inFlight, next)
		drained = true
	}

	if !drained {
		return "", true
	}

	return chunk, true
}

// ResetChunkedData restores every pending and in-flight fragment for key
// back onto its original live sequence, preserving order, and clears the
// drain state. No-op if key is absent. Size is unaffected: the bytes
// were never removed from the aggregate counter during a drain.
func (c *Cache) ResetChunkedData(key Key) {
	e, ok := c.get(key)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	restore := append(append([]taggedFragment{}, e.inFlight...), e.pending...)
	e.inFlight = nil
	e.pending = nil

	var restoredActions, restoredEvents []EventFragment
	for _, f := range restore {
		if f.isAction {
			restoredActions = append(restoredActions, f.EventFragment)
		} else {
			restoredEvents = append(restoredEvents, f.EventFragment)
		}
	}

	e.actionData = append(restoredActions, e.actionData...)
	e.eventData = append(restoredEvents, e.eventData...)
}

// RemoveChunkedData drops the in-flight fragments for key (they were
// confirmed delivered) and decrements the aggregate size accordingly. If
// pending fragments remain, the entry stays mid-drain for the next
// GetNextBeaconChunk call within the same send() loop.
func (c *Cache) RemoveChunkedData(key Key) {
	e, ok := c.get(key)
	if !ok {
		return
	}

	e.mu.Lock()
	freed := sumTaggedLen(e.inFlight)
	e.inFlight = nil
	e.mu.Unlock()

	c.adjustSize(-freed)
}

// RecordCount returns the number of live fragments (both sequences)
// currently cached for key. toBeSent fragments are not counted.
func (c *Cache) RecordCount(key Key) int {
	e, ok := c.get(key)
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actionData) + len(e.eventData)
}

// EvictRecordsByAge removes leading (oldest-first) fragments from key's
// live sequences whose timestamp is below minTimestamp. Returns the
// number of fragments removed.
func (c *Cache) EvictRecordsByAge(key Key, minTimestamp int64) int {
	e, ok := c.get(key)
	if !ok {
		return 0
	}

	e.mu.Lock()

	var actionRemoved, eventRemoved int
	var freedAction, freedEvent int64

	e.actionData, actionRemoved, freedAction = evictByAge(e.actionData, minTimestamp)
	e.eventData, eventRemoved, freedEvent = evictByAge(e.eventData, minTimestamp)
	e.mu.Unlock()

	c.adjustSize(-(freedAction + freedEvent))
	return actionRemoved + eventRemoved
}

// EvictRecordsByNumber removes leading fragments from key's live
// sequences, oldest overall first, until the combined fragment count is
// at most maxKeep. Returns the number of fragments removed.
func (c *Cache) EvictRecordsByNumber(key Key, maxKeep int) int {
	e, ok := c.get(key)
	if !ok {
		return 0
	}

	e.mu.Lock()

	removed := 0
	var freed int64

	for len(e.actionData)+len(e.eventData) > maxKeep {
		// Evict from whichever live sequence currently has the older
		// front fragment so eviction order tracks real time, not
		// sequence identity.
		evictFromAction := len(e.eventData) == 0 ||
			(len(e.actionData) > 0 && e.actionData[0].TimestampMs <= e.eventData[0].TimestampMs)

		if evictFromAction {
			freed += int64(len(e.actionData[0].Payload))
			e.actionData = e.actionData[1:]
		} else {
			freed += int64(len(e.eventData[0].Payload))
			e.eventData = e.eventData[1:]
		}
		removed++
	}
	e.mu.Unlock()

	c.adjustSize(-freed)
	return removed
}

func evictByAge(fragments []EventFragment, minTimestamp int64) ([]EventFragment, int, int64) {
	removed := 0
	var freed int64

	for len(fragments) > 0 && fragments[0].TimestampMs < minTimestamp {
		freed += int64(len(fragments[0].Payload))
		fragments = fragments[1:]
		removed++
	}

	return fragments, removed, freed
}

func sumLen(fragments []EventFragment) int64 {
	var total int64
	for _, f := range fragments {
		total += int64(len(f.Payload))
	}
	return total
}

func sumTaggedLen(fragments []taggedFragment) int64 {
	var total int64
	for _, f := range fragments {
		total += int64(len(f.Payload))
	}
	return total
}
