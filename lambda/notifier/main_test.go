package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snsEvent(t *testing.T, alarm events.CloudWatchAlarmSNSPayload) events.SNSEvent {
	t.Helper()
	message, err := json.Marshal(alarm)
	require.NoError(t, err)
	return events.SNSEvent{
		Records: []events.SNSEventRecord{
			{SNS: events.SNSEntity{Message: string(message)}},
		},
	}
}

func TestHandleSignsAndPostsAlarm(t *testing.T) {
	var gotBody notification
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(signatureHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := &handler{
		webhookURL:    server.URL,
		webhookSecret: "test-secret",
		environment:   "dev",
		client:        &http.Client{Timeout: time.Second},
	}

	event := snsEvent(t, events.CloudWatchAlarmSNSPayload{
		AlarmName:      "testapp-dev-cpu-high",
		NewStateValue:  "ALARM",
		NewStateReason: "Threshold crossed",
	})
	require.NoError(t, h.handle(context.Background(), event))

	assert.Equal(t, "testapp-dev-cpu-high", gotBody.Alarm)
	assert.Equal(t, "ALARM", gotBody.State)
	assert.Equal(t, "Threshold crossed", gotBody.Reason)
	assert.Equal(t, "dev", gotBody.Environment)
	assert.NotEmpty(t, gotSignature)
}

func TestHandleSkipsSignatureWithoutSecret(t *testing.T) {
	var signed bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed = r.Header.Get(signatureHeader) != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := &handler{
		webhookURL:  server.URL,
		environment: "dev",
		client:      &http.Client{Timeout: time.Second},
	}

	event := snsEvent(t, events.CloudWatchAlarmSNSPayload{AlarmName: "a", NewStateValue: "OK"})
	require.NoError(t, h.handle(context.Background(), event))
	assert.False(t, signed)
}

func TestHandleReportsWebhookFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	h := &handler{
		webhookURL:  server.URL,
		environment: "dev",
		client:      &http.Client{Timeout: time.Second},
	}

	event := snsEvent(t, events.CloudWatchAlarmSNSPayload{AlarmName: "broken", NewStateValue: "ALARM"})
	err := h.handle(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestHandleRejectsMalformedMessage(t *testing.T) {
	h := &handler{webhookURL: "http://127.0.0.1:0", client: &http.Client{Timeout: time.Second}}
	event := events.SNSEvent{
		Records: []events.SNSEventRecord{
			{SNS: events.SNSEntity{Message: "not json"}},
		},
	}
	require.Error(t, h.handle(context.Background(), event))
}

func TestSignIsDeterministic(t *testing.T) {
	body := []byte(`{"alarm":"x"}`)
	assert.Equal(t, sign("secret", body), sign("secret", body))
	assert.NotEqual(t, sign("secret", body), sign("other", body))
}
