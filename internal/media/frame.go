package media

import "time"

// Frame is one inbound unit of compressed audio from the media stream.
// Frames are created on message receipt, consumed by decode+playback,
// and discarded; nothing is persisted.
type Frame struct {
	// Seq is the sender-assigned sequence number, used to detect gaps
	// and reordering, never to reorder.
	Seq uint64

	// Timestamp is the sender-supplied offset since stream start.
	Timestamp time.Duration

	// Payload is the compressed (µ-law) sample block, nominally one
	// 20ms frame.
	Payload []byte
}
