package playback

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/calltap/calltap/internal/media"
)

// Buffer is the bounded handoff queue between stream ingestion and the
// playback scheduler. Frames are consumed in strict FIFO order.
//
// When the buffer is full the producer blocks up to the configured
// timeout (backpressure); if the timeout expires the oldest frame is
// dropped so ingestion never stalls the network read loop indefinitely.
// This bounds end-to-end latency at the cost of occasional audio loss.
type Buffer struct {
	ch          chan media.Frame
	pushTimeout time.Duration
	dropped     atomic.Uint64
}

// NewBuffer creates a buffer holding at most capacity frames.
func NewBuffer(capacity int, pushTimeout time.Duration) *Buffer {
	return &Buffer{
		ch:          make(chan media.Frame, capacity),
		pushTimeout: pushTimeout,
	}
}

// Push enqueues a frame. It returns false if the buffer remained full
// past the push timeout and the oldest frame was dropped to make room.
func (b *Buffer) Push(f media.Frame) bool {
	select {
	case b.ch <- f:
		return true
	default:
	}

	timer := time.NewTimer(b.pushTimeout)
	defer timer.Stop()

	select {
	case b.ch <- f:
		return true
	case <-timer.C:
		// Drop the oldest buffered frame to bound latency growth.
		select {
		case old := <-b.ch:
			b.dropped.Add(1)
			slog.Warn("[Playback] Buffer full, dropped oldest frame",
				"dropped_seq", old.Seq, "total_dropped", b.dropped.Load())
		default:
		}
		select {
		case b.ch <- f:
		default:
			// Consumer raced us back to full; drop the new frame instead.
			b.dropped.Add(1)
		}
		return false
	}
}

// Pop dequeues the next frame, waiting up to timeout for one to
// arrive. A non-positive timeout makes Pop non-blocking.
func (b *Buffer) Pop(timeout time.Duration) (media.Frame, bool) {
	if timeout <= 0 {
		select {
		case f := <-b.ch:
			return f, true
		default:
			return media.Frame{}, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-b.ch:
		return f, true
	case <-timer.C:
		return media.Frame{}, false
	}
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	return len(b.ch)
}

// Capacity returns the maximum number of buffered frames.
func (b *Buffer) Capacity() int {
	return cap(b.ch)
}

// Dropped returns the cumulative count of dropped frames.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Clear discards all buffered frames. Called between sessions so a new
// stream never replays stale audio.
func (b *Buffer) Clear() {
	for {
		select {
		case <-b.ch:
		default:
			return
		}
	}
}
