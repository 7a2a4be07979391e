// Package sink provides the audio output abstraction the playback
// scheduler writes decoded PCM into. The sink's Write call is the
// pacing authority for the pipeline: it blocks for roughly the
// real-time duration of the block it is given.
package sink

import "errors"

// Sentinel errors for use with errors.Is.
var (
	// ErrSinkUnavailable indicates the audio device could not be opened.
	ErrSinkUnavailable = errors.New("audio sink unavailable")

	// ErrSinkClosed indicates a write to a closed sink.
	ErrSinkClosed = errors.New("audio sink closed")

	// ErrNotOpen indicates a write before Open.
	ErrNotOpen = errors.New("audio sink not open")
)

// Sink is a real-time audio output.
type Sink interface {
	// Open prepares the device for the given LPCM format.
	Open(sampleRate, channels, sampleWidth int) error

	// Write queues one block of LPCM for playback and blocks for
	// approximately the block's real-time duration.
	Write(pcm []byte) error

	// Close stops playback and releases the device. Idempotent.
	Close() error
}
