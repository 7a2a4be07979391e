// Package dialer places and ends outbound calls through the Twilio
// REST API.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrInvalidNumber is returned when the destination is not an E.164
// phone number.
var ErrInvalidNumber = errors.New("destination is not an E.164 number")

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// DialError wraps a provider failure while placing a call.
type DialError struct {
	Target string
	Cause  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("placing call to %s: %v", e.Target, e.Cause)
}

func (e *DialError) Unwrap() error { return e.Cause }

// Config holds the credentials and webhook URLs the dialer needs.
type Config struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	TwiMLURL       string
	StatusCallback string
}

// Twilio places calls via the Twilio REST API. It satisfies the
// session controller's CallPlacer interface.
type Twilio struct {
	cfg    Config
	client *twilio.RestClient
}

func NewTwilio(cfg Config) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Twilio{cfg: cfg, client: client}
}

// Place creates an outbound call to the given E.164 number. The call
// fetches TwiML from the configured URL, which starts the media
// stream back to this process.
func (t *Twilio) Place(ctx context.Context, to string) (string, string, error) {
	if !e164Pattern.MatchString(to) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidNumber, to)
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.cfg.FromNumber)
	params.SetUrl(t.cfg.TwiMLURL)
	params.SetMethod("POST")
	if t.cfg.StatusCallback != "" {
		params.SetStatusCallback(t.cfg.StatusCallback)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
		params.SetStatusCallbackMethod("POST")
	}

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", "", &DialError{Target: to, Cause: err}
	}

	var sid, status string
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	if resp.Status != nil {
		status = *resp.Status
	}
	slog.Info("[Dialer] Call placed", "call_sid", sid, "to", to, "status", status)
	return sid, status, nil
}

// Hangup completes an in-progress call.
func (t *Twilio) Hangup(ctx context.Context, callSID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := t.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("hanging up call %s: %w", callSID, err)
	}
	slog.Info("[Dialer] Call hangup requested", "call_sid", callSID)
	return nil
}

// Status fetches the provider-side status of a call.
func (t *Twilio) Status(ctx context.Context, callSID string) (string, error) {
	resp, err := t.client.Api.FetchCall(callSID, &twilioApi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("fetching call %s: %w", callSID, err)
	}
	if resp.Status == nil {
		return "", nil
	}
	return *resp.Status, nil
}
