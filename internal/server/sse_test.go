package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewave-dev/codewave/internal/crdt"
	"github.com/codewave-dev/codewave/internal/pubsub"
	"github.com/codewave-dev/codewave/pkg/types"
)

type sseEvent struct {
	Name string
	Data string
}

// sseClient reads events from one /event stream in the background.
type sseClient struct {
	events <-chan sseEvent
	connID string
	cancel context.CancelFunc
}

func dialSSE(t *testing.T, ts *httptest.Server, query string) *sseClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/event?"+query, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t.Cleanup(func() { resp.Body.Close() })

	events := make(chan sseEvent, 100)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.Name != "":
				events <- current
				current = sseEvent{}
			}
		}
	}()

	// The stream opens with the connection handshake.
	first := waitSSE(t, events, "connected")
	var hello struct {
		ConnectionID string `json:"connectionID"`
	}
	require.NoError(t, json.Unmarshal([]byte(first.Data), &hello))
	require.NotEmpty(t, hello.ConnectionID)

	return &sseClient{events: events, connID: hello.ConnectionID, cancel: cancel}
}

func waitSSE(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream closed waiting for %s", name)
			}
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", name)
		}
	}
}

func TestEventsRequiresTarget(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/event?projectID=p1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsRelaysDocumentUpdates(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	client := dialSSE(t, ts, "projectID=p1&file=a.txt")

	doc := crdt.New("editor-b")
	update, err := doc.InsertAt(0, "shared text")
	require.NoError(t, err)
	require.NoError(t, s.docs.ApplyUpdate(context.Background(), "p1", "a.txt", update, "other-conn"))

	ev := waitSSE(t, client.events, "document.update")
	var payload documentUpdateEvent
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
	assert.Equal(t, "a.txt", payload.FilePath)
	assert.JSONEq(t, string(update), string(payload.Update))
}

func TestEventsSuppressSelfEcho(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	client := dialSSE(t, ts, "projectID=p1&file=a.txt&connectionID=conn-self")
	require.Equal(t, "conn-self", client.connID)

	doc := crdt.New("editor-a")
	ownUpdate, err := doc.InsertAt(0, "mine")
	require.NoError(t, err)
	require.NoError(t, s.docs.ApplyUpdate(context.Background(), "p1", "a.txt", ownUpdate, "conn-self"))

	otherUpdate, err := doc.InsertAt(4, " and theirs")
	require.NoError(t, err)
	require.NoError(t, s.docs.ApplyUpdate(context.Background(), "p1", "a.txt", otherUpdate, "conn-other"))

	// Only the foreign update arrives; the client's own never echoes back.
	ev := waitSSE(t, client.events, "document.update")
	var payload documentUpdateEvent
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
	assert.JSONEq(t, string(otherUpdate), string(payload.Update))

	select {
	case extra := <-client.events:
		if extra.Name == "document.update" {
			t.Fatalf("unexpected second update: %s", extra.Data)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEventsRelaysTerminalOutput(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	client := dialSSE(t, ts, "projectID=p1&terminal=t1")

	publish := func(ev types.TerminalEvent) {
		payload, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, s.bus.Publish(pubsub.TerminalOutputTopic("p1", "t1"), payload, ""))
	}

	publish(types.TerminalEvent{Type: types.TerminalReady, ProjectID: "p1", TerminalID: "t1"})
	waitSSE(t, client.events, "session.ready")

	publish(types.TerminalEvent{Type: types.TerminalOutput, ProjectID: "p1", TerminalID: "t1", Data: "hello\n"})
	ev := waitSSE(t, client.events, "terminal.output")
	var out types.TerminalEvent
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &out))
	assert.Equal(t, "hello\n", out.Data)

	publish(types.TerminalEvent{Type: types.TerminalError, ProjectID: "p1", TerminalID: "t1", Data: "boom"})
	waitSSE(t, client.events, "session.error")
}
