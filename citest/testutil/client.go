// Package testutil provides HTTP and SSE helpers for integration tests.
package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a thin JSON client for the gateway API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for a gateway base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// PostJSON sends body as JSON and decodes the response into out when out is
// non-nil. Non-2xx statuses are returned as errors.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", http.MethodPost, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Name string
	Data string
}

// SSEStream reads events from one /event connection.
type SSEStream struct {
	Events       <-chan SSEEvent
	ConnectionID string

	cancel context.CancelFunc
}

// OpenSSE connects to the event stream and consumes the connection
// handshake. query is the raw query string after /event?.
func (c *Client) OpenSSE(query string) (*SSEStream, error) {
	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/event?"+query, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	// No client timeout: the stream stays open.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream: status %d", resp.StatusCode)
	}

	events := make(chan SSEEvent, 100)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		var current SSEEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.Name != "":
				events <- current
				current = SSEEvent{}
			}
		}
	}()

	stream := &SSEStream{Events: events, cancel: cancel}

	hello, err := stream.Wait("connected", 5*time.Second)
	if err != nil {
		stream.Close()
		return nil, err
	}
	var payload struct {
		ConnectionID string `json:"connectionID"`
	}
	if err := json.Unmarshal([]byte(hello.Data), &payload); err != nil {
		stream.Close()
		return nil, err
	}
	stream.ConnectionID = payload.ConnectionID
	return stream, nil
}

// Wait returns the next event with the given name, discarding others.
func (s *SSEStream) Wait(name string, timeout time.Duration) (SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events:
			if !ok {
				return SSEEvent{}, fmt.Errorf("stream closed waiting for %s", name)
			}
			if ev.Name == name {
				return ev, nil
			}
		case <-deadline:
			return SSEEvent{}, fmt.Errorf("timed out waiting for %s", name)
		}
	}
}

// Close tears the stream down.
func (s *SSEStream) Close() {
	s.cancel()
}
