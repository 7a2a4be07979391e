package sink

import (
	"log/slog"
	"sync"
	"time"
)

// Null discards audio while still honoring the real-time pacing
// contract. Used for headless runs and tests.
type Null struct {
	frameDur time.Duration

	mu      sync.Mutex
	ticker  *time.Ticker
	opened  bool
	closed  bool
	writes  uint64
	bytes   uint64
}

// NewNull creates a paced discard sink.
func NewNull(frameDur time.Duration) *Null {
	return &Null{frameDur: frameDur}
}

// Open marks the sink ready. It never fails, and opening an already
// open sink is a no-op so callers may probe the device at startup and
// reuse it.
func (n *Null) Open(sampleRate, channels, sampleWidth int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.opened && !n.closed {
		return nil
	}
	n.opened = true
	n.closed = false
	n.ticker = time.NewTicker(n.frameDur)
	slog.Debug("[Sink] Null sink opened", "sample_rate", sampleRate, "channels", channels)
	return nil
}

// Write discards the block after blocking one frame duration.
func (n *Null) Write(pcm []byte) error {
	n.mu.Lock()
	if !n.opened {
		n.mu.Unlock()
		return ErrNotOpen
	}
	if n.closed {
		n.mu.Unlock()
		return ErrSinkClosed
	}
	n.writes++
	n.bytes += uint64(len(pcm))
	ticker := n.ticker
	n.mu.Unlock()

	<-ticker.C
	return nil
}

// Close stops the pacing clock.
func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.opened {
		return nil
	}
	n.closed = true
	n.ticker.Stop()
	return nil
}

// Stats returns the number of blocks and bytes written so far.
func (n *Null) Stats() (writes, bytes uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writes, n.bytes
}
