package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the bridge configuration
type Config struct {
	HTTPAddr  string // HTTP listen address (webhooks + media stream endpoint)
	PublicURL string // Public base URL for Twilio webhooks (e.g. ngrok URL)

	// Twilio credentials
	AccountSID string
	AuthToken  string
	FromNumber string // Twilio number calls are placed from

	// Audio
	SampleRate    int // Hz, Twilio Media Streams use 8000
	Channels      int // 1 = mono
	BufferFrames  int // playback buffer capacity in frames (~20ms each)
	PrimingFrames int // frames buffered before playback starts
	SinkBackend   string // "speaker" or "null"

	Target   string // destination number to call (optional, E.164)
	LogLevel string
}

// Load loads configuration from command line flags and environment variables.
// A .env file in the working directory is honored when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("[Config] No .env file loaded", "error", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP listen address")
	flag.StringVar(&cfg.PublicURL, "public-url", "", "Public base URL for Twilio webhooks")
	flag.IntVar(&cfg.SampleRate, "sample-rate", 8000, "Audio sample rate in Hz")
	flag.IntVar(&cfg.Channels, "channels", 1, "Audio channel count")
	flag.IntVar(&cfg.BufferFrames, "buffer-frames", 50, "Playback buffer capacity in frames")
	flag.IntVar(&cfg.PrimingFrames, "priming-frames", 5, "Frames buffered before playback starts")
	flag.StringVar(&cfg.SinkBackend, "sink", "speaker", "Audio sink backend (speaker, null)")
	flag.StringVar(&cfg.Target, "target", "", "Destination number to call (E.164 format)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level")

	flag.Parse()

	// Environment overrides
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.PublicURL = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("TWILIO_FROM_NUMBER"); v != "" {
		cfg.FromNumber = v
	}
	if v := os.Getenv("AUDIO_SAMPLE_RATE"); v != "" {
		cfg.SampleRate, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("AUDIO_CHANNELS"); v != "" {
		cfg.Channels, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("BUFFER_FRAMES"); v != "" {
		cfg.BufferFrames, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("SINK_BACKEND"); v != "" {
		cfg.SinkBackend = v
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return cfg
}

// Validate checks that the configuration is usable. Twilio credentials are
// only required when an outbound call will be placed.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", c.Channels)
	}
	if c.BufferFrames <= 0 {
		return fmt.Errorf("invalid buffer capacity: %d frames", c.BufferFrames)
	}
	if c.PrimingFrames < 0 || c.PrimingFrames > c.BufferFrames {
		return fmt.Errorf("priming frames %d out of range (buffer holds %d)", c.PrimingFrames, c.BufferFrames)
	}
	if c.SinkBackend != "speaker" && c.SinkBackend != "null" {
		return fmt.Errorf("unknown sink backend: %q", c.SinkBackend)
	}
	if c.Target != "" {
		if !strings.HasPrefix(c.Target, "+") {
			return fmt.Errorf("target number must be E.164 format (start with +): %q", c.Target)
		}
		if c.AccountSID == "" || c.AuthToken == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required to place a call")
		}
		if c.FromNumber == "" {
			return fmt.Errorf("TWILIO_FROM_NUMBER is required to place a call")
		}
		if c.PublicURL == "" {
			return fmt.Errorf("PUBLIC_URL is required to place a call (Twilio must reach the webhook)")
		}
	}
	return nil
}

// TwiMLURL returns the webhook URL Twilio fetches when the call is answered.
func (c *Config) TwiMLURL() string {
	return c.PublicURL + "/twiml"
}

// StatusCallbackURL returns the URL for call status updates.
func (c *Config) StatusCallbackURL() string {
	return c.PublicURL + "/call/status"
}

// MediaStreamURL returns the WebSocket URL the TwiML response points Twilio at.
func (c *Config) MediaStreamURL() string {
	host := strings.TrimPrefix(strings.TrimPrefix(c.PublicURL, "https://"), "http://")
	scheme := "wss"
	if strings.HasPrefix(c.PublicURL, "http://") {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/media-stream", scheme, host)
}
