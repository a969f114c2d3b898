package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

const defaultNATSSubject = "rentwatch.events"

// natsSink publishes events as JSON to a NATS subject. The subject comes
// from the URL path, e.g. nats://host:4222/rentwatch.events; the connection
// is dialed lazily and reused.
type natsSink struct {
	serverURL string
	subject   string

	mu   sync.Mutex
	conn *nats.Conn
}

func newNATSSink(u *url.URL) *natsSink {
	subject := strings.Trim(u.Path, "/")
	if subject == "" {
		subject = defaultNATSSubject
	}

	server := url.URL{Scheme: "nats", Host: u.Host, User: u.User}
	return &natsSink{serverURL: server.String(), subject: subject}
}

func (s *natsSink) connect() (*nats.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.IsConnected() {
		return s.conn, nil
	}
	if s.conn != nil {
		s.conn.Close()
	}

	conn, err := nats.Connect(s.serverURL, nats.Name("rentwatch"))
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func (s *natsSink) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	err = withRetry(ctx, func() error {
		conn, err := s.connect()
		if err != nil {
			return err
		}
		if err := conn.Publish(s.subject, data); err != nil {
			return err
		}
		return conn.Flush()
	})
	if err != nil {
		return fmt.Errorf("nats %s: %w", s.subject, err)
	}
	return nil
}
