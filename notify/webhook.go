package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
)

// webhookSink POSTs the event as JSON to a generic HTTP endpoint. The body
// carries the full event; the rendered plain text rides along for sinks
// that just display it.
type webhookSink struct {
	url    string
	client *retryablehttp.Client
}

func newWebhookSink(url string) *webhookSink {
	return &webhookSink{url: url, client: newRetryClient()}
}

func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = deliveryAttempts - 1
	c.RetryWaitMin = deliveryWaitMin
	c.RetryWaitMax = deliveryWaitMax
	c.Logger = nil
	return c
}

type webhookPayload struct {
	Event
	Text string `json:"text"`
}

func (s *webhookSink) Send(ctx context.Context, ev Event) error {
	payload := webhookPayload{Event: ev, Text: plainBody(ev)}
	if err := s.post(ctx, payload); err != nil {
		return fmt.Errorf("webhook %s: %w", s.url, err)
	}
	return nil
}

func (s *webhookSink) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
