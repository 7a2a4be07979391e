package media

import (
	"time"

	"github.com/zaf/g711"
)

// Codec represents an immutable audio codec specification for the
// inbound media stream.
type Codec struct {
	Name        string        // Codec name (e.g., "PCMU")
	Encoding    string        // Wire encoding label (e.g., "audio/x-mulaw")
	SampleRate  int           // Sample rate in Hz (8000 for telephony)
	SampleDur   time.Duration // Duration per frame (typically 20ms)
	Channels    int           // Number of channels (1 for mono)
	SampleWidth int           // Bytes per decoded LPCM sample (2 for 16-bit)
}

// CodecPCMU8K is G.711 µ-law at 8kHz mono, the Twilio Media Streams format.
var CodecPCMU8K = Codec{
	Name:        "PCMU",
	Encoding:    "audio/x-mulaw",
	SampleRate:  8000,
	SampleDur:   20 * time.Millisecond,
	Channels:    1,
	SampleWidth: 2,
}

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames, this returns 160.
func (c Codec) SamplesPerFrame() int {
	return c.SampleRate * int(c.SampleDur) / int(time.Second)
}

// BytesPerFrame returns the encoded payload bytes per frame.
// G.711 encodes one byte per sample, so this equals SamplesPerFrame.
func (c Codec) BytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels
}

// PCMBytesPerFrame returns the decoded LPCM bytes per frame.
func (c Codec) PCMBytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels * c.SampleWidth
}

// Matches reports whether the advertised stream format is compatible
// with this codec.
func (c Codec) Matches(encoding string, sampleRate, channels int) bool {
	return encoding == c.Encoding && sampleRate == c.SampleRate && channels == c.Channels
}

// DecodeUlaw converts µ-law encoded audio to 16-bit little-endian LPCM.
// The conversion is a pure table lookup: identical input always produces
// identical output.
func DecodeUlaw(payload []byte) []byte {
	return g711.DecodeUlaw(payload)
}

// Silence returns one frame of LPCM silence for the codec.
func Silence(c Codec) []byte {
	return make([]byte, c.PCMBytesPerFrame())
}
