package messaging

import (
	"context"

	json "github.com/goccy/go-json"
)

// Broker defines the interface for message brokers
type Broker interface {
	// Publish sends message on channel. A []byte message is sent as is,
	// anything else is JSON encoded.
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe delivers raw payloads until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope carried on a broker channel.
type Message struct {
	Type    string          `json:"type"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type MessageBroker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func([]byte) error) error
	Close() error
}
