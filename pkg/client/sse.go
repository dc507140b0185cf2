package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

// EventStream follows the service's change events, reconnecting with
// exponential backoff when the connection drops.
type EventStream struct {
	client       *Client
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// Events returns an event stream that shares the client's address and token.
func (c *Client) Events() *EventStream {
	return &EventStream{
		client:       c,
		httpClient:   &http.Client{Timeout: 0}, // No timeout for SSE
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// Subscribe connects to the SSE endpoint and returns a channel of events.
// Both channels are closed once ctx is done.
func (s *EventStream) Subscribe(ctx context.Context) (<-chan protocol.Event, <-chan error) {
	events := make(chan protocol.Event, 100)
	errs := make(chan error, 1)
	go s.subscribeLoop(ctx, events, errs)
	return events, errs
}

func (s *EventStream) subscribeLoop(ctx context.Context, events chan<- protocol.Event, errs chan<- error) {
	defer close(events)
	defer close(errs)

	reconnectDelay := s.reconnectMin

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connected, err := s.connect(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if connected {
			reconnectDelay = s.reconnectMin
		}

		logging.Warn("event stream disconnected",
			logging.Err(err),
			logging.Duration("retry_in", reconnectDelay))
		select {
		case errs <- err:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay = min(reconnectDelay*2, s.reconnectMax)
	}
}

// connect reads one connection until it ends. connected reports whether the
// server accepted the stream.
func (s *EventStream) connect(ctx context.Context, events chan<- protocol.Event) (connected bool, err error) {
	url := s.client.baseURL + "/api/v1/events"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	s.client.applyAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, classify(resp)
	}

	logging.Debug("event stream connected", logging.String("url", url))

	scanner := bufio.NewScanner(resp.Body)
	var eventType, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				var event protocol.Event
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					logging.Warn("malformed event", logging.String("data", data), logging.Err(err))
				} else {
					if event.Type == "" {
						event.Type = eventType
					}
					select {
					case events <- event:
					default:
						logging.Debug("event dropped (channel full)", logging.String("type", event.Type))
					}
				}
			}
			eventType, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}
	return true, fmt.Errorf("connection closed")
}
