// Command notifier forwards CloudWatch alarm state changes from SNS to an
// HTTPS webhook, signing each payload so the receiver can verify the sender.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

const signatureHeader = "X-TestApp-Signature"

// notification is the webhook payload body.
type notification struct {
	Alarm       string    `json:"alarm"`
	State       string    `json:"state"`
	Reason      string    `json:"reason"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// handler posts one webhook request per SNS record.
type handler struct {
	webhookURL    string
	webhookSecret string
	environment   string
	client        *http.Client
}

func newHandler() (*handler, error) {
	url := os.Getenv("WEBHOOK_URL")
	if url == "" {
		return nil, fmt.Errorf("WEBHOOK_URL is not set")
	}
	return &handler{
		webhookURL:    url,
		webhookSecret: os.Getenv("WEBHOOK_SECRET"),
		environment:   os.Getenv("ENVIRONMENT"),
		client:        &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (h *handler) handle(ctx context.Context, event events.SNSEvent) error {
	for _, record := range event.Records {
		var alarm events.CloudWatchAlarmSNSPayload
		if err := json.Unmarshal([]byte(record.SNS.Message), &alarm); err != nil {
			return fmt.Errorf("parsing alarm payload: %w", err)
		}
		if err := h.post(ctx, alarm); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) post(ctx context.Context, alarm events.CloudWatchAlarmSNSPayload) error {
	body, err := json.Marshal(notification{
		Alarm:       alarm.AlarmName,
		State:       alarm.NewStateValue,
		Reason:      alarm.NewStateReason,
		Environment: h.environment,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.webhookSecret != "" {
		req.Header.Set(signatureHeader, sign(h.webhookSecret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook for alarm %s: %w", alarm.AlarmName, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s for alarm %s", resp.Status, alarm.AlarmName)
	}
	return nil
}

// sign computes the hex-encoded HMAC-SHA256 of body under secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func main() {
	h, err := newHandler()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	lambda.Start(h.handle)
}
