package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeTwilio struct {
	got  *twilioApi.CreateMessageParams
	resp *twilioApi.ApiV2010Message
	err  error
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.got = params
	return f.resp, f.err
}

func TestNewSelectsProvider(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "sms-noop", s.ProviderID())

	s, err = New(Config{Provider: "Twilio", TwilioSID: "AC1", TwilioToken: "tok", TwilioFrom: "+440000"})
	require.NoError(t, err)
	assert.Equal(t, "twilio", s.ProviderID())

	_, err = New(Config{Provider: "twilio"})
	assert.Error(t, err)
	_, err = New(Config{Provider: "webhook"})
	assert.Error(t, err)
	_, err = New(Config{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestTwilioSender(t *testing.T) {
	api := &fakeTwilio{resp: &twilioApi.ApiV2010Message{}}
	s := &TwilioSender{api: api, from: "+441111"}

	require.NoError(t, s.Send(context.Background(), "+442222", "Rex is booked"))
	require.NotNil(t, api.got)
	assert.Equal(t, "+442222", *api.got.To)
	assert.Equal(t, "+441111", *api.got.From)
	assert.Equal(t, "Rex is booked", *api.got.Body)

	api.err = errors.New("unreachable")
	assert.Error(t, s.Send(context.Background(), "+442222", "x"))
}

func TestWebhookSender(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["to"] == "fail" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret")
	require.NoError(t, s.Send(context.Background(), "+443333", "hello"))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, map[string]string{"to": "+443333", "body": "hello"}, got)

	assert.Error(t, s.Send(context.Background(), "fail", "hello"))
}
