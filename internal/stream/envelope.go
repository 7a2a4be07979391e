package stream

// Media stream wire envelope. One JSON message per WebSocket frame;
// unknown events and extra fields are tolerated for forward
// compatibility.
type envelope struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSID      string      `json:"streamSid,omitempty"`
	Protocol       string      `json:"protocol,omitempty"`
	Version        string      `json:"version,omitempty"`
	Start          *startEvent `json:"start,omitempty"`
	Media          *mediaEvent `json:"media,omitempty"`
	Stop           *stopEvent  `json:"stop,omitempty"`
}

type startEvent struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  mediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaEvent struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // Base64 encoded audio
}

type stopEvent struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}
