package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/erp-admin/pkg/event"
)

// Event discriminators persisted in the outbox type column.
const (
	EventLookupUpdated       = "lookup.updated"
	EventNotificationCreated = "notification.created"
	EventCacheInvalidated    = "cache.invalidated"
)

// LookupUpdated is raised when a lookup's status changes.
type LookupUpdated struct {
	LookupID  uuid.UUID `json:"lookupId"`
	Name      string    `json:"name"`
	Status    bool      `json:"status"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (LookupUpdated) EventType() string { return EventLookupUpdated }

// NotificationCreated asks for a notification row to be stored for delivery.
type NotificationCreated struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	SenderID    string  `json:"senderId"`
	ReceiverID  *string `json:"receiverId,omitempty"`
	Group       *string `json:"group,omitempty"`
}

func (NotificationCreated) EventType() string { return EventNotificationCreated }

// CacheInvalidated is published in-process to evict cached entries.
type CacheInvalidated struct {
	Keys []string `json:"keys"`
}

func (CacheInvalidated) EventType() string { return EventCacheInvalidated }

// RegisterEvents binds every persisted event type to its decoder.
func RegisterEvents(r *event.Registry) {
	event.Register[LookupUpdated](r)
	event.Register[NotificationCreated](r)
	event.Register[CacheInvalidated](r)
}
