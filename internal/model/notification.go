package model

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppNotification is a user-facing alert awaiting real-time delivery.
type AppNotification struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Title          string     `db:"title" json:"title" validate:"required,max=200"`
	Description    *string    `db:"description" json:"description,omitempty" validate:"omitempty,max=2000"`
	URL            *string    `db:"url" json:"url,omitempty" validate:"omitempty,max=500"`
	SenderID       string     `db:"sender_id" json:"senderId" validate:"required"`
	ReceiverID     *string    `db:"receiver_id" json:"receiverId,omitempty"`
	Group          *string    `db:"group_name" json:"group,omitempty"`
	IsSeen         bool       `db:"is_seen" json:"isSeen"`
	IsProcessed    bool       `db:"is_processed" json:"isProcessed"`
	RetryCount     int        `db:"retry_count" json:"retryCount"`
	Error          *string    `db:"error" json:"error,omitempty"`
	Created        time.Time  `db:"created" json:"created"`
	CreatedBy      *string    `db:"created_by" json:"createdBy,omitempty"`
	LastModified   *time.Time `db:"last_modified" json:"lastModified,omitempty"`
	LastModifiedBy *string    `db:"last_modified_by" json:"lastModifiedBy,omitempty"`
}

// NotificationBackoff is the wait after the last attempt before a
// notification with retryCount failures may be redelivered: 2^retryCount * unit.
func NotificationBackoff(retryCount int, unit time.Duration) time.Duration {
	return time.Duration(math.Pow(2, float64(retryCount))) * unit
}

// Eligible reports whether the notification may be (re)delivered at now.
func (n *AppNotification) Eligible(now time.Time, maxRetries int, unit time.Duration) bool {
	if n.IsProcessed || n.RetryCount >= maxRetries {
		return false
	}
	if n.LastModified == nil {
		return true
	}
	return now.After(n.LastModified.Add(NotificationBackoff(n.RetryCount, unit)))
}

// TargetKind is how a notification is routed by the delivery sink.
type TargetKind string

const (
	TargetAll   TargetKind = "all"
	TargetGroup TargetKind = "group"
	TargetUser  TargetKind = "user"
)

// DeliveryTarget is the resolved destination of a notification.
type DeliveryTarget struct {
	Kind TargetKind
	// Name is the group name or the user id; empty for TargetAll.
	Name string
}

// Target resolves the destination: a group wins over a receiver, and no
// receiver means broadcast.
func (n *AppNotification) Target() DeliveryTarget {
	if n.Group != nil && strings.TrimSpace(*n.Group) != "" {
		return DeliveryTarget{Kind: TargetGroup, Name: *n.Group}
	}
	if n.ReceiverID == nil || strings.TrimSpace(*n.ReceiverID) == "" {
		return DeliveryTarget{Kind: TargetAll}
	}
	return DeliveryTarget{Kind: TargetUser, Name: *n.ReceiverID}
}

// Payload projects the notification onto the frame pushed to clients.
func (n *AppNotification) Payload() NotificationPayload {
	return NotificationPayload{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		SenderID:    n.SenderID,
		ReceiverID:  n.ReceiverID,
		IsSeen:      n.IsSeen,
		URL:         n.URL,
		Created:     n.Created,
	}
}

// NotificationPayload is the lightweight projection sent to hub clients.
type NotificationPayload struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	SenderID    string    `json:"senderId,omitempty"`
	ReceiverID  *string   `json:"receiverId,omitempty"`
	IsSeen      bool      `json:"isSeen"`
	URL         *string   `json:"url,omitempty"`
	Created     time.Time `json:"created"`
}
