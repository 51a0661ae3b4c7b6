package providers

import (
	"crypto/rand"
	"math/big"
	"sync/atomic"
)

// maxInt63 is 2^63, the exclusive upper bound fed to crypto/rand so that
// NextPositiveInt63 covers exactly [0, 2^63) and never goes negative.
var maxInt63 = new(big.Int).Lsh(big.NewInt(1), 63)

// ThreadIDAllocator hands out process-local, monotonically increasing
// thread ids. Each Allocate call yields a ThreadIDProvider whose id is
// fixed for its lifetime, so every event serialised through it carries
// the same correlation id; there is no requirement that it correspond
// to an OS thread.
type ThreadIDAllocator struct {
	next atomic.Int64
}

// NewThreadIDAllocator returns an allocator whose first id is 1.
func NewThreadIDAllocator() *ThreadIDAllocator {
	return &ThreadIDAllocator{}
}

// Allocate returns a provider pinned to the next free id.
func (a *ThreadIDAllocator) Allocate() FixedThreadID {
	return FixedThreadID{id: a.next.Add(1)}
}

// FixedThreadID is a ThreadIDProvider that always reports the id it was
// allocated with.
type FixedThreadID struct {
	id int64
}

// ThreadID implements ThreadIDProvider.
func (f FixedThreadID) ThreadID() int64 {
	return f.id
}

// SessionCounter is the default SessionIDProvider: an atomic int32
// counter starting at 1, shared across every beacon created by one agent
// instance.
type SessionCounter struct {
	next atomic.Int32
}

// NewSessionCounter returns a counter whose first value is 1.
func NewSessionCounter() *SessionCounter {
	c := &SessionCounter{}
	c.next.Store(0)
	return c
}

// NextSessionNumber implements SessionIDProvider.
func (c *SessionCounter) NextSessionNumber() int32 {
	return c.next.Add(1)
}

// CryptoRandomProvider is the default PRNProvider, backed by crypto/rand.
type CryptoRandomProvider struct{}

// NextPositiveInt63 implements PRNProvider.
func (CryptoRandomProvider) NextPositiveInt63() int64 {
	n, err := rand.Int(rand.Reader, maxInt63)
	if err != nil {
		// crypto/rand failure means the host environment has no
		// usable entropy source; there is no safe fallback for a
		// value that must be unguessable, so this can only degrade
		// to zero rather than silently use a weaker source.
		return 0
	}
	return n.Int64()
}
