package lookup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/erp-admin/internal/cache"
	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/outbox"
	"github.com/jwalitptl/erp-admin/internal/repository"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
	"github.com/jwalitptl/erp-admin/pkg/event"
	"github.com/jwalitptl/erp-admin/pkg/logger"
)

type fakeRepo struct {
	mu       sync.Mutex
	lookups  map[uuid.UUID]*model.Lookup
	details  map[uuid.UUID][]*model.LookupDetail
	gets     int
	lists    int
	updates  int
	cascaded int64
	err      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{lookups: map[uuid.UUID]*model.Lookup{}, details: map[uuid.UUID][]*model.LookupDetail{}}
}

func (f *fakeRepo) Get(_ context.Context, _ sqlx.QueryerContext, id uuid.UUID) (*model.Lookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	l, ok := f.lookups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, _ sqlx.ExecerContext, l *model.Lookup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	cp := *l
	f.lookups[l.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateDetailsStatus(_ context.Context, _ sqlx.ExecerContext, lookupID uuid.UUID, status bool, _ string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, d := range f.details[lookupID] {
		d.Status = status
		n++
	}
	f.cascaded += n
	return n, nil
}

func (f *fakeRepo) ListDetails(_ context.Context, lookupID uuid.UUID) ([]*model.LookupDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.details[lookupID], nil
}

// fakeUnitOfWork runs fn without a transaction and keeps what it would
// have captured.
type fakeUnitOfWork struct {
	captured []event.Event
	runs     int
}

func (u *fakeUnitOfWork) Execute(ctx context.Context, fn outbox.TxFunc) error {
	u.runs++
	events, err := fn(ctx, nil)
	if err != nil {
		return err
	}
	u.captured = append(u.captured, events...)
	return nil
}

type recordingPublisher struct {
	events []event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func seedLookup(repo *fakeRepo, status bool) *model.Lookup {
	l := &model.Lookup{ID: uuid.New(), Name: "Payment Modes", Code: "PM", Status: status, Created: time.Now().UTC()}
	repo.lookups[l.ID] = l
	return l
}

func TestUpdateStatusCapturesLookupUpdated(t *testing.T) {
	repo := newFakeRepo()
	uow := &fakeUnitOfWork{}
	pub := &recordingPublisher{}
	svc := NewService(repo, uow, cache.NewStore(time.Minute, time.Minute), pub, logger.Nop())
	l := seedLookup(repo, true)

	got, err := svc.UpdateStatus(context.Background(), l.ID, false, "u1")
	require.NoError(t, err)

	assert.False(t, got.Status)
	assert.Equal(t, 1, repo.updates)
	require.Len(t, uow.captured, 1)
	evt := uow.captured[0].(model.LookupUpdated)
	assert.Equal(t, l.ID, evt.LookupID)
	assert.Equal(t, "Payment Modes", evt.Name)
	assert.False(t, evt.Status)
	assert.Equal(t, "u1", evt.UpdatedBy)
	assert.Equal(t, []event.Event{model.CacheInvalidated{Keys: []string{cache.KeyLookup}}}, pub.events)
}

func TestUpdateStatusUnchangedWritesNothing(t *testing.T) {
	repo := newFakeRepo()
	uow := &fakeUnitOfWork{}
	svc := NewService(repo, uow, cache.NewStore(time.Minute, time.Minute), &recordingPublisher{}, logger.Nop())
	l := seedLookup(repo, true)

	_, err := svc.UpdateStatus(context.Background(), l.ID, true, "u1")
	require.NoError(t, err)

	assert.Zero(t, repo.updates)
	assert.Empty(t, uow.captured)
}

func TestUpdateStatusErrors(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeUnitOfWork{}, cache.NewStore(time.Minute, time.Minute), &recordingPublisher{}, logger.Nop())

	_, err := svc.UpdateStatus(context.Background(), uuid.New(), true, "u1")
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))

	_, err = svc.UpdateStatus(context.Background(), uuid.New(), true, " ")
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}

func TestGetAndListDetailsAreCached(t *testing.T) {
	repo := newFakeRepo()
	store := cache.NewStore(time.Minute, time.Minute)
	svc := NewService(repo, &fakeUnitOfWork{}, store, &recordingPublisher{}, logger.Nop())
	l := seedLookup(repo, true)
	repo.details[l.ID] = []*model.LookupDetail{{ID: uuid.New(), LookupID: l.ID, Name: "Cash", Status: true}}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := svc.Get(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, "Payment Modes", got.Name)
		details, err := svc.ListDetails(ctx, l.ID)
		require.NoError(t, err)
		assert.Len(t, details, 1)
	}
	assert.Equal(t, 1, repo.gets)
	assert.Equal(t, 1, repo.lists)

	store.RemoveByPrefix(cache.KeyLookupDetail)
	_, err := svc.ListDetails(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.lists)
}

func TestHandlerCascadesAndNotifies(t *testing.T) {
	repo := newFakeRepo()
	uow := &fakeUnitOfWork{}
	pub := &recordingPublisher{}
	h := NewHandler(repo, uow, pub, logger.Nop())
	l := seedLookup(repo, false)
	repo.details[l.ID] = []*model.LookupDetail{{ID: uuid.New(), LookupID: l.ID, Status: true}, {ID: uuid.New(), LookupID: l.ID, Status: true}}

	err := h.HandleLookupUpdated(context.Background(), model.LookupUpdated{LookupID: l.ID, Name: l.Name, Status: false, UpdatedBy: "u1"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), repo.cascaded)
	require.Len(t, uow.captured, 1)
	n, ok := uow.captured[0].(model.NotificationCreated)
	require.True(t, ok)
	assert.Equal(t, "Lookup Updated", n.Title)
	assert.Equal(t, "Lookup 'Payment Modes' has been updated", *n.Description)
	assert.Equal(t, "/lookups/"+l.ID.String(), *n.URL)
	assert.Equal(t, "u1", n.SenderID)
	assert.Equal(t, "u1", *n.ReceiverID)
	assert.Nil(t, n.Group)
	assert.Equal(t, []event.Event{model.CacheInvalidated{Keys: []string{cache.KeyLookupDetail}}}, pub.events)
}

func TestHandlerWithoutDetailsSkipsInvalidation(t *testing.T) {
	repo := newFakeRepo()
	uow := &fakeUnitOfWork{}
	pub := &recordingPublisher{}
	h := NewHandler(repo, uow, pub, logger.Nop())

	require.NoError(t, h.HandleLookupUpdated(context.Background(), model.LookupUpdated{LookupID: uuid.New(), Name: "Empty", UpdatedBy: "u1"}))

	assert.Len(t, uow.captured, 1)
	assert.Empty(t, pub.events)
}

func TestHandlerFailureReturnsError(t *testing.T) {
	repo := newFakeRepo()
	repo.err = errors.New("update failed")
	uow := &fakeUnitOfWork{}
	pub := &recordingPublisher{}
	h := NewHandler(repo, uow, pub, logger.Nop())
	l := seedLookup(repo, false)
	repo.details[l.ID] = []*model.LookupDetail{{ID: uuid.New(), LookupID: l.ID}}

	err := h.HandleLookupUpdated(context.Background(), model.LookupUpdated{LookupID: l.ID, Name: l.Name, UpdatedBy: "u1"})

	assert.ErrorContains(t, err, "update failed")
	assert.Empty(t, uow.captured)
	assert.Empty(t, pub.events)
}

func TestRegisterHandlersSubscribesToBus(t *testing.T) {
	repo := newFakeRepo()
	uow := &fakeUnitOfWork{}
	bus := event.NewBus()
	RegisterHandlers(bus, NewHandler(repo, uow, bus, logger.Nop()))

	require.NoError(t, bus.Publish(context.Background(), model.LookupUpdated{LookupID: uuid.New(), Name: "x", UpdatedBy: "u1"}))
	require.Len(t, uow.captured, 1)
	assert.Equal(t, model.EventNotificationCreated, uow.captured[0].EventType())
}
