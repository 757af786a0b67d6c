package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

type Config struct {
	Provider     string
	WebhookURL   string
	WebhookToken string
	TwilioSID    string
	TwilioToken  string
	TwilioFrom   string
}

// New picks a sender by provider name: twilio, webhook or noop.
func New(cfg Config) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "noop":
		return NewNoopSender(), nil
	case "webhook":
		if strings.TrimSpace(cfg.WebhookURL) == "" {
			return nil, errors.New("SMS_WEBHOOK_URL is required for the webhook provider")
		}
		return NewWebhookSender(cfg.WebhookURL, cfg.WebhookToken), nil
	case "twilio":
		if cfg.TwilioSID == "" || cfg.TwilioToken == "" || cfg.TwilioFrom == "" {
			return nil, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio provider")
		}
		return NewTwilioSender(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioSender struct {
	api  messageCreator
	from string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{api: client.Api, from: from}
}

func (s *TwilioSender) ProviderID() string {
	return "twilio"
}

func (s *TwilioSender) Send(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)
	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	if resp != nil && resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return fmt.Errorf("twilio: %s", *resp.ErrorMessage)
	}
	return nil
}

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	raw, err := json.Marshal(map[string]string{
		"to":   to,
		"body": body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}
