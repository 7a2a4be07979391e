package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calltap/calltap/internal/media"
	"github.com/calltap/calltap/internal/sink"
)

// ErrAlreadyStarted indicates Start was called while a run is active.
var ErrAlreadyStarted = errors.New("playback already started")

// State is the playback scheduler lifecycle state.
type State int32

const (
	// StateIdle means no session; sink not open.
	StateIdle State = iota
	// StatePriming means the sink is open and the scheduler is waiting
	// for a minimum of buffered audio before starting output.
	StatePriming
	// StatePlaying means frames are being decoded and written at the
	// sink's native pacing.
	StatePlaying
	// StateDraining means remaining buffered audio is being flushed
	// before the sink closes.
	StateDraining
	// StateStopped means the sink is closed and resources released.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePriming:
		return "priming"
	case StatePlaying:
		return "playing"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config holds scheduler tuning knobs.
type Config struct {
	Codec media.Codec

	// PrimingFrames is the buffered-frame threshold before playback
	// starts (default 5, ~100ms). Absorbs initial network jitter.
	PrimingFrames int

	// PrimingTimeout bounds the priming wait; playback starts with
	// whatever is buffered once it expires (default 2s).
	PrimingTimeout time.Duration

	// DrainTimeout bounds the flush of remaining audio at stop
	// (default 500ms).
	DrainTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Codec.SampleRate == 0 {
		c.Codec = media.CodecPCMU8K
	}
	if c.PrimingFrames == 0 {
		c.PrimingFrames = 5
	}
	if c.PrimingTimeout == 0 {
		c.PrimingTimeout = 2 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 500 * time.Millisecond
	}
}

// Scheduler consumes frames from the playback buffer, decodes them to
// LPCM and paces writes to the audio sink. The sink's blocking Write is
// the pacing primitive; the scheduler adds no timing of its own beyond
// bounded waits for data.
type Scheduler struct {
	cfg     Config
	buf     *Buffer
	out     sink.Sink
	silence []byte

	mu      sync.Mutex
	state   State
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopReq bool
	callID  string

	played         atomic.Uint64 // frames decoded and written
	substituted    atomic.Uint64 // silence blocks written (underrun + decode failure)
	decodeFailures atomic.Uint64
}

// NewScheduler creates a playback scheduler over the given buffer and sink.
func NewScheduler(cfg Config, buf *Buffer, out sink.Sink) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:     cfg,
		buf:     buf,
		out:     out,
		silence: media.Silence(cfg.Codec),
		state:   StateIdle,
	}
}

// Start opens the sink and launches the playback loop. callID is used
// for log correlation only.
func (p *Scheduler) Start(callID string) error {
	p.mu.Lock()
	if p.state != StateIdle && p.state != StateStopped {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}

	c := p.cfg.Codec
	if err := p.out.Open(c.SampleRate, c.Channels, c.SampleWidth); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to open audio sink: %w", err)
	}

	p.callID = callID
	p.stopReq = false
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.played.Store(0)
	p.substituted.Store(0)
	p.decodeFailures.Store(0)
	p.setStateLocked(StatePriming)
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.run(stopCh, doneCh)
	return nil
}

// Stop requests a bounded drain and waits for the loop to exit.
// Idempotent: the second call returns immediately.
func (p *Scheduler) Stop() {
	p.mu.Lock()
	if p.state == StateIdle || p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	doneCh := p.doneCh
	if !p.stopReq {
		p.stopReq = true
		close(p.stopCh)
	}
	p.mu.Unlock()

	// Bounded: drain timeout plus a write in flight plus margin.
	select {
	case <-doneCh:
	case <-time.After(p.cfg.DrainTimeout + p.cfg.Codec.SampleDur + time.Second):
		slog.Warn("[Playback] Loop did not stop within bound, abandoning",
			"call_id", p.callID)
	}
}

// State returns the current scheduler state.
func (p *Scheduler) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Counters returns frames played, silence blocks substituted and
// decode failures for the current run.
func (p *Scheduler) Counters() (played, substituted, decodeFailures uint64) {
	return p.played.Load(), p.substituted.Load(), p.decodeFailures.Load()
}

func (p *Scheduler) setState(s State) {
	p.mu.Lock()
	p.setStateLocked(s)
	p.mu.Unlock()
}

func (p *Scheduler) setStateLocked(s State) {
	if p.state == s {
		return
	}
	slog.Debug("[Playback] State transition",
		"call_id", p.callID, "from", p.state.String(), "to", s.String())
	p.state = s
}

func (p *Scheduler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	if p.prime(stopCh) {
		p.setState(StatePlaying)
		p.play(stopCh)
	}

	p.setState(StateDraining)
	p.drain()

	// Frames the drain could not flush belong to this session only;
	// discard them so a later session never replays stale audio.
	if n := p.buf.Len(); n > 0 {
		p.buf.Clear()
		slog.Warn("[Playback] Discarded undrained frames",
			"call_id", p.callID, "discarded", n)
	}

	if err := p.out.Close(); err != nil {
		// Best-effort release; shutdown still completes.
		slog.Error("[Playback] Failed to close sink", "call_id", p.callID, "error", err)
	}
	p.setState(StateStopped)

	played, substituted, failures := p.Counters()
	slog.Info("[Playback] Stopped",
		"call_id", p.callID,
		"frames_played", played,
		"silence_substituted", substituted,
		"decode_failures", failures,
		"frames_dropped", p.buf.Dropped())
}

// prime waits for the priming threshold or timeout. Returns false if
// stop was requested while priming.
func (p *Scheduler) prime(stopCh chan struct{}) bool {
	deadline := time.Now().Add(p.cfg.PrimingTimeout)
	for p.buf.Len() < p.cfg.PrimingFrames {
		if time.Now().After(deadline) {
			slog.Warn("[Playback] Priming timeout, starting with partial buffer",
				"call_id", p.callID, "buffered", p.buf.Len(), "wanted", p.cfg.PrimingFrames)
			return true
		}
		select {
		case <-stopCh:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	slog.Info("[Playback] Primed", "call_id", p.callID, "buffered", p.buf.Len())
	return true
}

func (p *Scheduler) play(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		// Wait at most one frame duration for data; an empty buffer at
		// write time becomes silence so the sink's clock stays continuous.
		var pcm []byte
		if f, ok := p.buf.Pop(p.cfg.Codec.SampleDur); ok {
			pcm = p.decode(f)
		} else {
			pcm = p.silence
			p.substituted.Add(1)
		}

		if err := p.out.Write(pcm); err != nil {
			slog.Error("[Playback] Sink write failed", "call_id", p.callID, "error", err)
			return
		}
	}
}

// decode converts one frame to LPCM. A frame that cannot be decoded is
// replaced by silence of equal duration; a single bad frame never
// aborts the session.
func (p *Scheduler) decode(f media.Frame) []byte {
	if len(f.Payload) == 0 {
		p.decodeFailures.Add(1)
		p.substituted.Add(1)
		slog.Warn("[Playback] Undecodable frame, substituting silence",
			"call_id", p.callID, "seq", f.Seq)
		return p.silence
	}
	p.played.Add(1)
	return media.DecodeUlaw(f.Payload)
}

// drain flushes remaining buffered audio, bounded by the drain timeout.
func (p *Scheduler) drain() {
	deadline := time.Now().Add(p.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		f, ok := p.buf.Pop(0)
		if !ok {
			return
		}
		if err := p.out.Write(p.decode(f)); err != nil {
			return
		}
	}
}
