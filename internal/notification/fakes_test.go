package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/erp-admin/internal/alert"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/repository"
)

type fakeRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.AppNotification
	dead []uuid.UUID

	beginErr  error
	commitErr error
	commits   int
	rollbacks int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]*model.AppNotification{}}
}

func (f *fakeRepo) Insert(_ context.Context, _ sqlx.ExtContext, n *model.AppNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Created.IsZero() {
		n.Created = time.Now().UTC()
	}
	cp := *n
	f.rows[n.ID] = &cp
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id uuid.UUID) (*model.AppNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (f *fakeRepo) MarkSeen(_ context.Context, id uuid.UUID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.rows[id]
	if !ok || n.ReceiverID == nil || *n.ReceiverID != userID || n.IsSeen {
		return false, nil
	}
	n.IsSeen = true
	return true, nil
}

func (f *fakeRepo) MarkAllSeen(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, n := range f.rows {
		if n.ReceiverID != nil && *n.ReceiverID == userID && !n.IsSeen {
			n.IsSeen = true
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ListByReceiver(_ context.Context, userID string, limit int) ([]*model.AppNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AppNotification
	for _, n := range f.rows {
		if n.ReceiverID != nil && *n.ReceiverID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Begin snapshots the rows; Commit publishes the batch's changes and
// Rollback drops them.
func (f *fakeRepo) Begin(_ context.Context) (repository.NotificationBatch, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	work := make(map[uuid.UUID]*model.AppNotification, len(f.rows))
	for id, n := range f.rows {
		cp := *n
		work[id] = &cp
	}
	return &fakeBatch{repo: f, work: work}, nil
}

type fakeBatch struct {
	repo *fakeRepo
	work map[uuid.UUID]*model.AppNotification
	dead []uuid.UUID
	done bool
}

func (b *fakeBatch) ListEligible(_ context.Context, limit int, now time.Time, policy repository.NotificationPolicy) ([]*model.AppNotification, error) {
	var out []*model.AppNotification
	for _, n := range b.work {
		if n.Eligible(now, policy.MaxRetries, policy.BackoffUnit) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].RetryCount < out[j].RetryCount
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *fakeBatch) MarkProcessed(_ context.Context, id uuid.UUID, now time.Time) error {
	n, ok := b.work[id]
	if !ok {
		return fmt.Errorf("no row %s", id)
	}
	n.IsProcessed = true
	n.Error = nil
	n.LastModified = &now
	return nil
}

func (b *fakeBatch) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, now time.Time, policy repository.NotificationPolicy) (bool, error) {
	n, ok := b.work[id]
	if !ok {
		return false, fmt.Errorf("no row %s", id)
	}
	n.RetryCount++
	n.Error = &errMsg
	n.LastModified = &now
	if n.RetryCount >= policy.MaxRetries {
		b.dead = append(b.dead, id)
		return true, nil
	}
	return false, nil
}

func (b *fakeBatch) Commit() error {
	if b.done {
		return fmt.Errorf("batch already finished")
	}
	b.done = true
	if b.repo.commitErr != nil {
		return b.repo.commitErr
	}
	b.repo.mu.Lock()
	defer b.repo.mu.Unlock()
	b.repo.rows = b.work
	b.repo.dead = append(b.repo.dead, b.dead...)
	b.repo.commits++
	return nil
}

func (b *fakeBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	b.repo.rollbacks++
	return nil
}

type delivery struct {
	kind model.TargetKind
	name string
	id   uuid.UUID
}

type recordingSink struct {
	deliveries []delivery
	// fail decides per delivery whether it errors.
	fail      func(d delivery) error
	onDeliver func()
}

func (s *recordingSink) record(d delivery) error {
	if s.fail != nil {
		if err := s.fail(d); err != nil {
			return err
		}
	}
	s.deliveries = append(s.deliveries, d)
	if s.onDeliver != nil {
		s.onDeliver()
	}
	return nil
}

func (s *recordingSink) DeliverAll(_ context.Context, p model.NotificationPayload) error {
	return s.record(delivery{kind: model.TargetAll, id: p.ID})
}

func (s *recordingSink) DeliverGroup(_ context.Context, group string, p model.NotificationPayload) error {
	return s.record(delivery{kind: model.TargetGroup, name: group, id: p.ID})
}

func (s *recordingSink) DeliverUser(_ context.Context, userID string, p model.NotificationPayload) error {
	return s.record(delivery{kind: model.TargetUser, name: userID, id: p.ID})
}

type recordingAlerter struct {
	alerts []alert.DeadLetter
}

func (a *recordingAlerter) DeadLettered(_ context.Context, dl alert.DeadLetter) error {
	a.alerts = append(a.alerts, dl)
	return nil
}
