package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/erp-admin/pkg/event"
)

// Lookup is a setup list (for example payment modes) whose details can be
// enabled or disabled together.
type Lookup struct {
	event.Recorder `db:"-" json:"-"`

	ID             uuid.UUID  `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Code           string     `db:"code" json:"code"`
	Status         bool       `db:"status" json:"status"`
	Created        time.Time  `db:"created" json:"created"`
	CreatedBy      *string    `db:"created_by" json:"createdBy,omitempty"`
	LastModified   *time.Time `db:"last_modified" json:"lastModified,omitempty"`
	LastModifiedBy *string    `db:"last_modified_by" json:"lastModifiedBy,omitempty"`
}

// SetStatus changes the status and records LookupUpdated when it changed.
func (l *Lookup) SetStatus(status bool, by string, at time.Time) {
	if l.Status == status {
		return
	}
	l.Status = status
	l.LastModified = &at
	l.LastModifiedBy = &by
	l.Record(LookupUpdated{
		LookupID:  l.ID,
		Name:      l.Name,
		Status:    status,
		UpdatedBy: by,
		UpdatedAt: at,
	})
}

// LookupDetail is one entry of a lookup.
type LookupDetail struct {
	ID       uuid.UUID `db:"id" json:"id"`
	LookupID uuid.UUID `db:"lookup_id" json:"lookupId"`
	Name     string    `db:"name" json:"name"`
	Code     string    `db:"code" json:"code"`
	Status   bool      `db:"status" json:"status"`
}
