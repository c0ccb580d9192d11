// Package telephony wraps the Twilio API for placing outbound check-in
// calls and rendering the TwiML that drives each turn of the call.
package telephony

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// VoiceCaller places outbound voice calls.
type VoiceCaller interface {
	// PlaceCall dials the number and points the call at answerURL for its
	// TwiML instructions. It returns the provider's call SID.
	PlaceCall(ctx context.Context, to string, answerURL string) (string, error)
}

// nonDigitRegex strips everything but digits during canonicalization.
var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// Opts holds configuration options for the Twilio voice client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio voice client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the caller id number in E.164 format.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps the Twilio REST API for voice calls.
type Client struct {
	client *twilio.RestClient
	from   string
}

// NewClient initializes a Twilio voice client, falling back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables for options not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("telephony.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, from: cfg.FromNumber}, nil
}

// ValidateAndCanonicalizeNumber strips formatting from a phone number and
// returns it in E.164 form. Numbers with fewer than 6 digits are rejected.
func ValidateAndCanonicalizeNumber(number string) (string, error) {
	if number == "" {
		return "", fmt.Errorf("phone number cannot be empty")
	}
	digits := nonDigitRegex.ReplaceAllString(number, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in %q", number)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", digits)
	}
	canonical := "+" + digits
	if canonical != number {
		slog.Debug("telephony.ValidateAndCanonicalizeNumber: canonicalized", "original", number, "canonical", canonical)
	}
	return canonical, nil
}

// PlaceCall dials the number via the Twilio voice API.
func (c *Client) PlaceCall(ctx context.Context, to string, answerURL string) (string, error) {
	canonical, err := ValidateAndCanonicalizeNumber(to)
	if err != nil {
		slog.Error("telephony.PlaceCall: validation error", "error", err, "to", to)
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(canonical)
	params.SetFrom(c.from)
	params.SetUrl(answerURL)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		slog.Error("telephony.PlaceCall: create call failed", "to", canonical, "error", err)
		return "", fmt.Errorf("failed to place call to %s: %w", canonical, err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("telephony.PlaceCall: call placed", "to", canonical, "sid", sid)
	return sid, nil
}

// TwiML rendering. Each conversational turn answers the telephony webhook
// with a document that speaks the reply and gathers the user's next speech.

type twimlGather struct {
	Input         string `xml:"input,attr"`
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr"`
	SpeechTimeout string `xml:"speechTimeout,attr"`
	Say           string `xml:"Say"`
}

type twimlDocument struct {
	XMLName xml.Name     `xml:"Response"`
	Say     string       `xml:"Say,omitempty"`
	Gather  *twimlGather `xml:"Gather,omitempty"`
	Hangup  *struct{}    `xml:"Hangup,omitempty"`
}

// RenderGather returns a TwiML document that speaks text, then records the
// user's spoken reply and posts it to actionURL.
func RenderGather(text, actionURL string) string {
	return renderTwiML(twimlDocument{
		Gather: &twimlGather{
			Input:         "speech",
			Action:        actionURL,
			Method:        "POST",
			SpeechTimeout: "auto",
			Say:           text,
		},
	})
}

// RenderSayAndHangup returns a TwiML document that speaks text and ends the
// call.
func RenderSayAndHangup(text string) string {
	return renderTwiML(twimlDocument{Say: text, Hangup: &struct{}{}})
}

func renderTwiML(doc twimlDocument) string {
	out, err := xml.Marshal(doc)
	if err != nil {
		// Marshalling a static struct cannot realistically fail; keep the
		// call alive with an empty document if it somehow does.
		slog.Error("telephony.renderTwiML: marshal failed", "error", err)
		return xml.Header + "<Response></Response>"
	}
	return xml.Header + string(out)
}

// MockCaller records placed calls for tests.
type MockCaller struct {
	PlacedCalls []PlacedCall
	Err         error
}

// PlacedCall is one recorded outbound call.
type PlacedCall struct {
	To        string
	AnswerURL string
}

// PlaceCall records the call and returns a fixed SID.
func (m *MockCaller) PlaceCall(ctx context.Context, to string, answerURL string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.PlacedCalls = append(m.PlacedCalls, PlacedCall{To: to, AnswerURL: answerURL})
	return fmt.Sprintf("CA-mock-%d", len(m.PlacedCalls)), nil
}
