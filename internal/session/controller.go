// Package session owns the call/stream lifecycle. The Controller is
// the single writer of session state: other components only signal
// events to it, which sidesteps broader locking around shared state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrBusy indicates a call request while a session is already active.
	ErrBusy = errors.New("a session is already active")

	// ErrInvalidState indicates an event arrived in a state that does
	// not accept it.
	ErrInvalidState = errors.New("invalid state for transition")
)

// State is the session lifecycle state.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota
	// StateDialing means the outbound call has been placed.
	StateDialing
	// StateConnectingStream means the media connection is open but the
	// stream has not started.
	StateConnectingStream
	// StateStreaming means media frames are flowing to playback.
	StateStreaming
	// StateClosing means teardown is in progress.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateConnectingStream:
		return "connecting_stream"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// terminal reports whether the state accepts no further events.
func (s State) terminal() bool {
	return s == StateIdle || s == StateClosed
}

// CallPlacer places and tears down outbound calls.
type CallPlacer interface {
	Place(ctx context.Context, to string) (callID, status string, err error)
	Hangup(ctx context.Context, callID string) error
}

// Player is the playback scheduler surface the controller drives.
type Player interface {
	Start(callID string) error
	Stop()
}

// StreamCloser lets the controller force the active media connection
// closed during shutdown.
type StreamCloser interface {
	CloseActive()
}

// Controller enforces the single-active-session invariant and drives
// the playback scheduler from stream lifecycle events.
type Controller struct {
	placer CallPlacer
	player Player

	mu            sync.Mutex
	sessionID     string
	callID        string
	state         State
	startedAt     time.Time
	endedAt       time.Time
	connectedOnce bool
	closedOnce    bool
	shutdown      bool
	stream        StreamCloser
}

// NewController creates a session controller.
func NewController(placer CallPlacer, player Player) *Controller {
	return &Controller{
		placer: placer,
		player: player,
		state:  StateIdle,
	}
}

// SetStream registers the stream handler so shutdown can close the
// active connection. Called once during wiring.
func (c *Controller) SetStream(s StreamCloser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = s
}

// RequestCall places an outbound call to destination. Returns ErrBusy
// if a session is already in a non-terminal state.
func (c *Controller) RequestCall(ctx context.Context, destination string) (string, error) {
	c.mu.Lock()
	if !c.state.terminal() {
		state, callID := c.state, c.callID
		c.mu.Unlock()
		slog.Warn("[Session] Call request rejected, session active",
			"call_id", callID, "state", state.String())
		return "", ErrBusy
	}

	c.sessionID = uuid.New().String()
	c.callID = ""
	c.startedAt = time.Now()
	c.endedAt = time.Time{}
	c.connectedOnce = false
	c.closedOnce = false
	c.setStateLocked(StateDialing)
	sessionID := c.sessionID
	c.mu.Unlock()

	callID, status, err := c.placer.Place(ctx, destination)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateClosed)
		c.endedAt = time.Now()
		c.mu.Unlock()
		return "", fmt.Errorf("call placement failed: %w", err)
	}

	c.mu.Lock()
	c.callID = callID
	c.mu.Unlock()

	slog.Info("[Session] Call placed",
		"call_id", callID, "session_id", sessionID, "status", status)
	return callID, nil
}

// OnStreamOpen is invoked by stream ingestion when the media connection
// is accepted, before the stream's start event has been validated.
func (c *Controller) OnStreamOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDialing:
		c.setStateLocked(StateConnectingStream)
	case StateIdle:
		// Inbound stream without a locally placed call (manual dial
		// against the webhook). Start a session for it.
		c.sessionID = uuid.New().String()
		c.startedAt = time.Now()
		c.endedAt = time.Time{}
		c.connectedOnce = false
		c.closedOnce = false
		c.setStateLocked(StateConnectingStream)
	default:
		return fmt.Errorf("%w: stream open in state %s", ErrInvalidState, c.state)
	}
	return nil
}

// OnStreamConnected is invoked by stream ingestion once the stream's
// start event has been validated. Starts the playback scheduler.
// At most once per session.
func (c *Controller) OnStreamConnected(streamSID string) {
	c.mu.Lock()
	if c.connectedOnce || c.state != StateConnectingStream {
		state := c.state
		c.mu.Unlock()
		slog.Warn("[Session] Ignoring duplicate stream start",
			"call_id", c.callID, "state", state.String())
		return
	}
	c.connectedOnce = true
	c.setStateLocked(StateStreaming)
	callID := c.callID
	c.mu.Unlock()

	slog.Info("[Session] Stream connected", "call_id", callID, "stream_sid", streamSID)

	if err := c.player.Start(callID); err != nil {
		slog.Error("[Session] Failed to start playback, aborting session",
			"call_id", callID, "error", err)
		c.OnStreamClosed("playback start failed")
	}
}

// OnStreamClosed is invoked by stream ingestion exactly once per
// connection, on normal close, error, or protocol violation. Stops the
// playback scheduler with a bounded drain and finalizes the session.
func (c *Controller) OnStreamClosed(reason string) {
	c.mu.Lock()
	if c.closedOnce || c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.closedOnce = true
	c.setStateLocked(StateClosing)
	callID := c.callID
	c.mu.Unlock()

	c.player.Stop()

	c.mu.Lock()
	c.endedAt = time.Now()
	duration := c.endedAt.Sub(c.startedAt)
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	slog.Info("[Session] Stream closed",
		"call_id", callID, "reason", reason, "duration", duration.Round(time.Millisecond))
}

// Shutdown tears the active session down: hangs up the call, closes
// the media connection, stops playback with a bounded drain and
// releases the sink. Idempotent; the second call is a no-op.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	callID := c.callID
	stream := c.stream
	active := !c.state.terminal()
	c.mu.Unlock()

	if active && callID != "" {
		if err := c.placer.Hangup(ctx, callID); err != nil {
			slog.Warn("[Session] Failed to hang up call", "call_id", callID, "error", err)
		} else {
			slog.Info("[Session] Call hung up", "call_id", callID)
		}
	}

	// Closing the connection unblocks the ingestion read loop, which
	// reports OnStreamClosed on its own path.
	if stream != nil {
		stream.CloseActive()
	}

	c.player.Stop()

	c.mu.Lock()
	if !c.state.terminal() {
		c.closedOnce = true
		c.setStateLocked(StateClosing)
		c.endedAt = time.Now()
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()

	slog.Info("[Session] Shutdown complete", "call_id", callID)
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CallID returns the active session's call identifier, if any.
func (c *Controller) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// Times returns the session's start and end timestamps.
func (c *Controller) Times() (startedAt, endedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt, c.endedAt
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	slog.Info("[Session] State transition",
		"call_id", c.callID, "from", c.state.String(), "to", s.String())
	c.state = s
}
