package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Delivery retry bounds, applied per attempt independently of
// reconciliation. HTTP sinks delegate these to retryablehttp; the bus
// sinks use withRetry.
const (
	deliveryAttempts = 3
	deliveryWaitMin  = 2 * time.Second
	deliveryWaitMax  = 10 * time.Second
)

// Sink delivers one event to one destination, retrying internally within
// the delivery bounds.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// sinkForURL builds the sink selected by a target URL's scheme.
func sinkForURL(rawURL, mention string) (Sink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return newWebhookSink(rawURL), nil
	case "discord":
		return newDiscordSink(u, mention), nil
	case "nats":
		return newNATSSink(u), nil
	case "amqp", "amqps":
		return newAMQPSink(u), nil
	default:
		return nil, fmt.Errorf("unsupported target scheme %q", u.Scheme)
	}
}

// withRetry runs f up to deliveryAttempts times with exponential backoff
// between attempts.
func withRetry(ctx context.Context, f func() error) error {
	var err error
	wait := deliveryWaitMin
	for attempt := 1; ; attempt++ {
		if err = f(); err == nil {
			return nil
		}
		if attempt == deliveryAttempts {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
		if wait > deliveryWaitMax {
			wait = deliveryWaitMax
		}
	}
}
