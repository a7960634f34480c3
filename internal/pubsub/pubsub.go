// Package pubsub provides the fan-out message bus for live document deltas
// and terminal output, built on watermill. Delivery is at-most-once with no
// ordering guarantee across publishers.
package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const originMetadataKey = "origin"

// Message is one delivery on a subscribed topic. Origin carries the opaque
// tag of the publishing connection so subscribers can suppress self-echo.
type Message struct {
	Payload []byte
	Origin  string
}

// Bus is a topic-keyed publish/subscribe channel backed by watermill's
// gochannel transport.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New creates a Bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish sends a payload to every current subscriber of the topic. The
// origin tag travels in message metadata, not the payload.
func (b *Bus) Publish(topic string, payload []byte, origin string) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if origin != "" {
		msg.Metadata.Set(originMetadataKey, origin)
	}
	return b.pubsub.Publish(topic, msg)
}

// Subscribe returns a channel of messages for the topic. The channel closes
// when ctx is cancelled or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Message, cap(msgs))
	go func() {
		defer close(out)
		for msg := range msgs {
			// gochannel requires an ack before delivering the next message.
			msg.Ack()
			select {
			case out <- Message{Payload: msg.Payload, Origin: msg.Metadata.Get(originMetadataKey)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
