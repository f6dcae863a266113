package event

import (
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
)

// envelope is the persisted shape of an event payload.
type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type decoder struct {
	version int
	decode  func(data []byte) (Event, error)
}

// Registry maps event discriminators to concrete decoders so a serialized
// payload can be turned back into its original type.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]decoder)}
}

// Register binds the discriminator of T to a decoder producing T.
// T must be a value type whose zero value reports its EventType.
func Register[T Event](r *Registry) {
	var zero T
	name := strings.TrimSpace(zero.EventType())
	if name == "" {
		panic("event: register with empty event type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[name]; exists {
		panic(fmt.Sprintf("event: %q registered twice", name))
	}
	r.decoders[name] = decoder{
		version: versionOf(zero),
		decode: func(data []byte) (Event, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// Known reports whether a discriminator has a decoder.
func (r *Registry) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[eventType]
	return ok
}

// Encode serializes evt into its discriminator and versioned content.
func (r *Registry) Encode(evt Event) (string, string, error) {
	if evt == nil {
		return "", "", fmt.Errorf("event: encode nil event")
	}
	eventType := evt.EventType()
	if !r.Known(eventType) {
		return "", "", apperrors.NewUnknownEventType(eventType)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", "", fmt.Errorf("event: encode %s: %w", eventType, err)
	}
	content, err := json.Marshal(envelope{Version: versionOf(evt), Data: data})
	if err != nil {
		return "", "", fmt.Errorf("event: encode envelope %s: %w", eventType, err)
	}
	return eventType, string(content), nil
}

// Decode rebuilds the concrete event for eventType from content.
func (r *Registry) Decode(eventType, content string) (Event, error) {
	r.mu.RLock()
	dec, ok := r.decoders[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewUnknownEventType(eventType)
	}

	var env envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return nil, apperrors.NewDecode("malformed envelope for "+eventType, err)
	}
	if env.Version > dec.version {
		return nil, apperrors.NewDecode(
			fmt.Sprintf("%s schema version %d is newer than supported %d", eventType, env.Version, dec.version), nil)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, apperrors.NewDecode("empty payload for "+eventType, nil)
	}

	evt, err := dec.decode(env.Data)
	if err != nil {
		return nil, apperrors.NewDecode("decode "+eventType, err)
	}
	return evt, nil
}
