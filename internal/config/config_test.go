package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		PublicURL:     "https://example.ngrok.io",
		SampleRate:    8000,
		Channels:      1,
		BufferFrames:  50,
		PrimingFrames: 5,
		SinkBackend:   "null",
		LogLevel:      "info",
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, "sample rate"},
		{"zero channels", func(c *Config) { c.Channels = 0 }, "channel count"},
		{"zero buffer", func(c *Config) { c.BufferFrames = 0 }, "buffer capacity"},
		{"priming exceeds buffer", func(c *Config) { c.PrimingFrames = 100 }, "priming frames"},
		{"unknown sink", func(c *Config) { c.SinkBackend = "tape" }, "sink backend"},
		{"target without plus", func(c *Config) { c.Target = "15551234567" }, "E.164"},
		{"target without creds", func(c *Config) { c.Target = "+15551234567" }, "TWILIO_ACCOUNT_SID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidateTargetWithCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Target = "+15551234567"
	cfg.AccountSID = "ACxxxx"
	cfg.AuthToken = "secret"
	cfg.FromNumber = "+15550001111"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestMediaStreamURL(t *testing.T) {
	tests := []struct {
		public string
		want   string
	}{
		{"https://example.ngrok.io", "wss://example.ngrok.io/media-stream"},
		{"http://localhost:8080", "ws://localhost:8080/media-stream"},
	}

	for _, tt := range tests {
		cfg := validConfig()
		cfg.PublicURL = tt.public
		if got := cfg.MediaStreamURL(); got != tt.want {
			t.Errorf("MediaStreamURL(%q) = %q, want %q", tt.public, got, tt.want)
		}
	}
}

func TestWebhookURLs(t *testing.T) {
	cfg := validConfig()
	if got := cfg.TwiMLURL(); got != "https://example.ngrok.io/twiml" {
		t.Errorf("TwiMLURL() = %q", got)
	}
	if got := cfg.StatusCallbackURL(); got != "https://example.ngrok.io/call/status" {
		t.Errorf("StatusCallbackURL() = %q", got)
	}
}
