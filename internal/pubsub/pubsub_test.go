package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveOne(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed before delivery")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, DocUpdateTopic("p1", "main.go"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(DocUpdateTopic("p1", "main.go"), []byte("delta"), "conn-a"))

	msg := receiveOne(t, ch)
	assert.Equal(t, "delta", string(msg.Payload))
	assert.Equal(t, "conn-a", msg.Origin)
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docCh, err := bus.Subscribe(ctx, DocUpdateTopic("p1", "a.txt"))
	require.NoError(t, err)
	termCh, err := bus.Subscribe(ctx, TerminalOutputTopic("p1", "t1"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(TerminalOutputTopic("p1", "t1"), []byte("hello\n"), ""))

	msg := receiveOne(t, termCh)
	assert.Equal(t, "hello\n", string(msg.Payload))

	select {
	case m := <-docCh:
		t.Fatalf("unexpected message on doc channel: %q", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleSubscribersFanOut(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := DocUpdateTopic("p1", "shared.txt")
	ch1, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)
	ch2, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(topic, []byte("x"), ""))

	assert.Equal(t, "x", string(receiveOne(t, ch1).Payload))
	assert.Equal(t, "x", string(receiveOne(t, ch2).Payload))
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, TerminalOutputTopic("p1", "t1"))
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestTopicNaming(t *testing.T) {
	assert.Equal(t, "doc-update:p1:src/main.go", DocUpdateTopic("p1", "src/main.go"))
	assert.Equal(t, "terminal-output:p1:t1", TerminalOutputTopic("p1", "t1"))
}
