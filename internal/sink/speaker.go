package sink

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// otoBufferSize is the device-side buffer handed to oto.
// At 8kHz mono 16-bit, 1600 bytes is ~100ms: small enough for low
// latency, large enough to ride out scheduling jitter.
const otoBufferSize = 1600

// The oto context is process-global and can only be created once.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// Speaker plays LPCM through the default output device via oto.
// Write is clock-paced: each call blocks one frame duration, so the
// playback loop is naturally rate-limited without its own timer.
type Speaker struct {
	frameDur time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	player *oto.Player
	ticker *time.Ticker
	opened bool
	closed bool
}

// NewSpeaker creates a speaker sink that paces writes at frameDur.
func NewSpeaker(frameDur time.Duration) *Speaker {
	s := &Speaker{frameDur: frameDur}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Open initializes the audio device for the given LPCM format.
// Returns ErrSinkUnavailable if no output device can be opened.
func (s *Speaker) Open(sampleRate, channels, sampleWidth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened && !s.closed {
		return nil
	}
	if sampleWidth != 2 {
		return fmt.Errorf("%w: unsupported sample width %d (16-bit only)", ErrSinkUnavailable, sampleWidth)
	}

	otoOnce.Do(func() {
		opts := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferSize,
		}
		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
	})
	if otoErr != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, otoErr)
	}

	s.buf = s.buf[:0]
	s.closed = false
	s.opened = true
	s.ticker = time.NewTicker(s.frameDur)
	s.player = otoCtx.NewPlayer(s)
	s.player.Play()

	slog.Info("[Sink] Speaker opened", "sample_rate", sampleRate, "channels", channels)
	return nil
}

// Write queues one LPCM block and blocks until the next frame tick.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.buf = append(s.buf, pcm...)
	s.cond.Signal()
	ticker := s.ticker
	s.mu.Unlock()

	// Wait for the frame clock. This is what makes Write the pacing
	// authority for the playback loop.
	<-ticker.C
	return nil
}

// Read implements io.Reader for the oto player, which pulls audio on
// the device's own schedule. Silence is returned once the sink closes
// so the device can drain gracefully.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close stops playback and releases the device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed || !s.opened {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	ticker := s.ticker
	s.player = nil
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if player != nil {
		if err := player.Close(); err != nil {
			return fmt.Errorf("failed to close audio player: %w", err)
		}
	}
	slog.Info("[Sink] Speaker closed")
	return nil
}
