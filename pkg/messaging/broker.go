package messaging

import (
	"context"
	"encoding/json"
)

// Publisher pushes one already-encoded message onto a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Broker is a Publisher that holds a connection.
type Broker interface {
	Publisher
	Close() error
}

// Message is the envelope published for every outbox event.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
