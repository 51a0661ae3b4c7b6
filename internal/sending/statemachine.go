package sending

import (
	stdcontext "context"
	"time"

	"github.com/openkit-go/beacon-agent/internal/beacon"
)

// Execute runs one tick of state for the given Context and returns the
// next state. The worker loop (Run) calls this repeatedly until the
// returned state IsTerminal.
func Execute(state State, c *Context) State {
	switch state {
	case StateInit:
		return executeInit(c)
	case StateCaptureOn:
		return executeCaptureOn(c)
	case StateCaptureOff:
		return executeCaptureOff(c)
	case StateFlushSessions:
		return executeFlushSessions(c)
	default:
		return executeTerminal(c)
	}
}

// Run drives Execute until it reaches a terminal state, updating
// c.Current() after every tick. Intended to run on the single dedicated
// sender goroutine.
func Run(c *Context) {
	for {
		next := Execute(c.Current(), c)
		c.setCurrent(next)
		if next.IsTerminal() {
			return
		}
	}
}

func pollStatus(c *Context) *beacon.StatusResponse {
	client := c.Client()
	return client.SendStatusRequest(stdcontext.Background(), nil)
}

func executeInit(c *Context) State {
	resp := pollStatus(c)

	if !resp.IsErroneous() {
		c.initRetryAttempt = 0

		if resp.ServerConfig != nil {
			next := applyPatch(c.Config.Server(), resp.ServerConfig)
			c.Config.UpdateServer(next)
		}

		if c.Config.Server().Capture {
			return StateCaptureOn
		}
		return StateCaptureOff
	}

	c.initRetryAttempt++
	if c.initRetryAttempt > c.MaxInitRetries {
		return StateTerminal
	}

	if c.ShutdownRequested() {
		return StateTerminal
	}

	interruptibleSleep(c, time.Duration(c.initRetryAttempt)*c.InitialRetryDelay)
	if c.ShutdownRequested() {
		return StateTerminal
	}

	return StateInit
}

func executeCaptureOn(c *Context) State {
	if c.ShutdownRequested() {
		return StateCaptureOn.ShutdownState()
	}

	if c.Evictor != nil {
		c.Evictor.Execute()
	}

	flushBeacons(c, c.Sessions.FinishedSessionBeacons(), true)

	server := c.Config.Server()
	now := c.Timing.NowMillis()
	interval := int64(server.SendIntervalMs)

	if c.LastOpenSessionSendMs() == 0 || now-c.LastOpenSessionSendMs() >= interval {
		flushBeacons(c, c.Sessions.OpenSessionBeacons(), false)
		c.markOpenSessionSend()
	}

	// re-read the snapshot: a beacon-send response during either flush
	// may have installed a new server configuration
	if !c.Config.Server().Capture {
		return StateCaptureOff
	}

	interruptibleSleep(c, c.CaptureOnTick)

	if c.ShutdownRequested() {
		return StateCaptureOn.ShutdownState()
	}

	return StateCaptureOn
}

func executeCaptureOff(c *Context) State {
	if c.ShutdownRequested() {
		return StateCaptureOff.ShutdownState()
	}

	interruptibleSleep(c, c.CaptureOffPollInterval)

	if c.ShutdownRequested() {
		return StateCaptureOff.ShutdownState()
	}

	resp := pollStatus(c)
	if !resp.IsErroneous() {
		if resp.ServerConfig != nil {
			next := applyPatch(c.Config.Server(), resp.ServerConfig)
			c.Config.UpdateServer(next)
		}
		if c.Config.Server().Capture {
			return StateCaptureOn
		}
	}

	return StateCaptureOff
}

func executeFlushSessions(c *Context) State {
	flushBeacons(c, c.Sessions.FinishedSessionBeacons(), true)
	flushBeacons(c, c.Sessions.OpenSessionBeacons(), false)
	return StateTerminal
}

func executeTerminal(c *Context) State {
	c.shutdown.Store(true)
	return StateTerminal
}

// flushBeacons sends every beacon in list once. Beacon-send responses
// carry the same optional server-configuration patch as status polls;
// any patch received here is installed immediately, since during
// CaptureOn these responses are the only channel for a capture-flag
// change. When removeIfEmpty is true (finished sessions), a beacon left
// with no remaining cached data after Send is reported back to the
// SessionProvider for bookkeeping removal — this is the "flush finished
// sessions" half of CaptureOn; open sessions (removeIfEmpty false) are
// flushed but kept, since the caller is still actively appending to
// them.
func flushBeacons(c *Context, beacons []*beacon.Beacon, removeIfEmpty bool) {
	for _, b := range beacons {
		resp := b.Send(stdcontext.Background(), c.Client, nil)

		if !resp.IsErroneous() && resp.ServerConfig != nil {
			next := applyPatch(c.Config.Server(), resp.ServerConfig)
			c.Config.UpdateServer(next)
		}

		if removeIfEmpty && b.IsEmpty() {
			c.Sessions.RemoveFinishedSession(b)
		}
	}
}

// interruptibleSleep sleeps up to d, checking the shutdown flag every
// poll tick so a pending retry/poll sleep can be cut short, per the
// cooperative-cancellation model: shutdown is observed, not preempted.
func interruptibleSleep(c *Context, d time.Duration) {
	const poll = 200 * time.Millisecond

	remaining := d
	for remaining > 0 {
		if c.ShutdownRequested() {
			return
		}

		step := poll
		if remaining < step {
			step = remaining
		}

		c.Timing.Sleep(step)
		remaining -= step
	}
}
