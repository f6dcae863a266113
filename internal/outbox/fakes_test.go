package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/alert"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
	"github.com/jwalitptl/erp-admin/pkg/event"
)

// fakeRepo keeps outbox rows in memory and applies the model predicates.
type fakeRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*model.OutboxMessage
	dead    []uuid.UUID
	listErr error
	// loseClaims makes every Claim report contention.
	loseClaims bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]*model.OutboxMessage{}}
}

func (f *fakeRepo) Insert(_ context.Context, _ sqlx.ExtContext, msg *model.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	cp := *msg
	f.rows[msg.ID] = &cp
	return nil
}

func (f *fakeRepo) ListEligible(_ context.Context, limit int, now time.Time, policy repository.OutboxPolicy) ([]*model.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.OutboxMessage
	for _, m := range f.rows {
		if m.Eligible(now, policy.MaxRetryAttempts, policy.LockTimeout) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOn.Before(out[j].CreatedOn) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) Claim(_ context.Context, id, token uuid.UUID, now time.Time, policy repository.OutboxPolicy) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok || f.loseClaims || !m.Eligible(now, policy.MaxRetryAttempts, policy.LockTimeout) {
		return false, nil
	}
	retries := m.Retries() + 1
	m.RetryCount = &retries
	m.ProcessingLock = &token
	m.LastProcessingAttempt = &now
	return true, nil
}

func (f *fakeRepo) MarkProcessed(_ context.Context, id, token uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok || m.ProcessingLock == nil || *m.ProcessingLock != token {
		return repository.ErrClaimLost
	}
	m.ProcessedOn = &now
	m.ProcessingLock = nil
	m.Error = nil
	return nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, id, token uuid.UUID, errMsg string, _ time.Time, policy repository.OutboxPolicy) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok || m.ProcessingLock == nil || *m.ProcessingLock != token {
		return false, repository.ErrClaimLost
	}
	m.Error = &errMsg
	m.ProcessingLock = nil
	if m.Retries() >= policy.MaxRetryAttempts {
		f.dead = append(f.dead, id)
		return true, nil
	}
	return false, nil
}

func (f *fakeRepo) DeadLetterAbandoned(_ context.Context, now time.Time, policy repository.OutboxPolicy) ([]*model.OutboxDeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.OutboxDeadLetter
	for id, m := range f.rows {
		if !m.Abandoned(now, policy.MaxRetryAttempts, policy.LockTimeout) {
			continue
		}
		errMsg := model.ErrAbandonedClaim
		m.Error = &errMsg
		m.ProcessingLock = nil
		f.dead = append(f.dead, id)
		out = append(out, &model.OutboxDeadLetter{
			ID:         uuid.New(),
			MessageID:  id,
			Type:       m.Type,
			Content:    m.Content,
			Error:      &errMsg,
			RetryCount: m.Retries(),
			CreatedOn:  m.CreatedOn,
			FailedAt:   now,
		})
	}
	return out, nil
}

func (f *fakeRepo) Get(_ context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, m := range f.rows {
		if m.ProcessedOn != nil && m.ProcessedOn.Before(before) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []event.Event
	calls     int
	// fail returns the error for the nth call (1-based); nil means success.
	fail func(call int) error
	// onPublish runs after the event is recorded.
	onPublish func()
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	if p.fail != nil {
		if err := p.fail(call); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.published = append(p.published, evt)
	p.mu.Unlock()
	if p.onPublish != nil {
		p.onPublish()
	}
	return nil
}

func alwaysFail(int) error { return errors.New("handler unavailable") }

type recordingAlerter struct {
	alerts []alert.DeadLetter
}

func (a *recordingAlerter) DeadLettered(_ context.Context, dl alert.DeadLetter) error {
	a.alerts = append(a.alerts, dl)
	return nil
}
