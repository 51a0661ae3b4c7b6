// Package sending implements the sending-state machine: the scheduler
// that drives initial handshake, steady-state flushing, capture on/off,
// and graceful shutdown described for "the sending-state machine"
// subsystem. States share one Context and transition exclusively through
// their own Execute method.
package sending

import (
	"sync/atomic"
	"time"

	"github.com/openkit-go/beacon-agent/internal/beacon"
	"github.com/openkit-go/beacon-agent/internal/config"
)

// State identifies one of the five sending states. Dispatch is a plain
// switch over this tag rather than virtual methods on a class hierarchy.
type State int

const (
	StateInit State = iota
	StateCaptureOn
	StateCaptureOff
	StateFlushSessions
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateCaptureOn:
		return "CaptureOn"
	case StateCaptureOff:
		return "CaptureOff"
	case StateFlushSessions:
		return "FlushSessions"
	case StateTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s ends the worker loop once reached.
func (s State) IsTerminal() bool {
	return s == StateTerminal
}

// ShutdownState returns the state a requested shutdown transitions s
// into, per the per-state shutdown-state table.
func (s State) ShutdownState() State {
	switch s {
	case StateInit:
		return StateTerminal
	case StateCaptureOn:
		return StateFlushSessions
	case StateCaptureOff:
		return StateTerminal
	case StateFlushSessions:
		return StateTerminal
	default:
		return StateTerminal
	}
}

// SessionProvider abstracts the public API layer's collection of live
// beacons — the core state machine only needs to enumerate and flush
// them, never to construct or own them directly.
type SessionProvider interface {
	// OpenSessionBeacons returns beacons for sessions still being
	// captured (not yet ended).
	OpenSessionBeacons() []*beacon.Beacon
	// FinishedSessionBeacons returns beacons for sessions that have
	// ended but not yet been fully sent and cleared.
	FinishedSessionBeacons() []*beacon.Beacon
	// RemoveFinishedSession drops bookkeeping for a beacon once its
	// data has been fully flushed and cleared.
	RemoveFinishedSession(b *beacon.Beacon)
}

// Context is the mutable state shared by every State's Execute call:
// configuration, the shutdown flag, timing bookkeeping, and the current
// state tag. Only the sender thread touches non-atomic fields; Shutdown
// flag is the one field other goroutines may set concurrently.
type Context struct {
	Config   *config.BeaconConfiguration
	Sessions SessionProvider
	Client   beacon.ClientFactory
	Timing   TimingSource

	// Evictor, when non-nil, has one eviction pass run per CaptureOn
	// tick. The evictor always runs on this sender thread, never on a
	// producer thread.
	Evictor *beacon.Evictor

	// InitialRetryDelay and MaxInitRetries bound Init's status-poll
	// backoff: delay grows linearly (attempt * InitialRetryDelay) up to
	// MaxInitRetries attempts before giving up and going Terminal.
	InitialRetryDelay time.Duration
	MaxInitRetries    int

	// CaptureOffPollInterval is how often CaptureOff re-polls status
	// waiting for the server to re-enable capture.
	CaptureOffPollInterval time.Duration

	// CaptureOnTick is how often CaptureOn re-checks for finished
	// sessions and shutdown between open-session flushes.
	CaptureOnTick time.Duration

	shutdown atomic.Bool
	current  atomic.Int32

	// lastOpenSessionSendMs is atomic because the diagnostics server
	// reads it from its own goroutine.
	lastOpenSessionSendMs atomic.Int64
	initRetryAttempt      int
}

// TimingSource is the narrow timing capability the state machine needs:
// wall-clock milliseconds and a cancellable sleep.
type TimingSource interface {
	NowMillis() int64
	Sleep(d time.Duration)
}

// NewContext creates a Context starting in StateInit with the default
// retry/poll tuning.
func NewContext(cfg *config.BeaconConfiguration, sessions SessionProvider, client beacon.ClientFactory, timing TimingSource) *Context {
	c := &Context{
		Config:                 cfg,
		Sessions:               sessions,
		Client:                 client,
		Timing:                 timing,
		InitialRetryDelay:      1 * time.Second,
		MaxInitRetries:         7,
		CaptureOffPollInterval: 2 * time.Minute,
		CaptureOnTick:          1 * time.Second,
	}
	c.current.Store(int32(StateInit))
	return c
}

// Current returns the current state.
func (c *Context) Current() State {
	return State(c.current.Load())
}

// setCurrent installs the next state. Only called by the worker loop.
func (c *Context) setCurrent(s State) {
	c.current.Store(int32(s))
}

// RequestShutdown sets the cooperative shutdown flag observed by the
// next Execute call. Safe to call from any goroutine.
func (c *Context) RequestShutdown() {
	c.shutdown.Store(true)
}

// ShutdownRequested reports whether RequestShutdown has been called.
func (c *Context) ShutdownRequested() bool {
	return c.shutdown.Load()
}

// LastOpenSessionSendMs returns the wall-clock time of the last
// open-session beacon flush, 0 if none has happened yet.
func (c *Context) LastOpenSessionSendMs() int64 {
	return c.lastOpenSessionSendMs.Load()
}

func (c *Context) markOpenSessionSend() {
	c.lastOpenSessionSendMs.Store(c.Timing.NowMillis())
}
