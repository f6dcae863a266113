// Package event defines the domain event contract shared by the outbox
// capture path and the in-process publisher.
package event

import (
	"context"
)

// Event is a domain event. EventType is the stable discriminator persisted
// alongside the serialized payload.
type Event interface {
	EventType() string
}

// Versioned is implemented by events whose payload schema has evolved.
// Events that do not implement it are version 1.
type Versioned interface {
	SchemaVersion() int
}

// Handler reacts to a published event.
type Handler func(ctx context.Context, evt Event) error

// Publisher delivers an event to in-process handlers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

func versionOf(evt Event) int {
	if v, ok := evt.(Versioned); ok && v.SchemaVersion() > 0 {
		return v.SchemaVersion()
	}
	return 1
}
