package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/erp-admin/internal/model"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
	"github.com/jwalitptl/erp-admin/pkg/logger"
	"github.com/jwalitptl/erp-admin/pkg/metrics"
)

var testConfig = Config{BatchSize: 15, MaxRetries: 3, BackoffUnit: 10 * time.Second}

type harness struct {
	repo     *fakeRepo
	sink     *recordingSink
	alerter  *recordingAlerter
	metrics  *metrics.Metrics
	dispatch *Dispatcher
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    newFakeRepo(),
		sink:    &recordingSink{},
		alerter: &recordingAlerter{},
		metrics: metrics.New("test"),
		clock:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.dispatch = NewDispatcher(h.repo, h.sink, h.alerter, testConfig, logger.Nop(), h.metrics)
	h.dispatch.now = func() time.Time { return h.clock }
	return h
}

func strPtr(s string) *string { return &s }

func (h *harness) add(t *testing.T, n model.AppNotification) uuid.UUID {
	t.Helper()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Title == "" {
		n.Title = "Lookup Updated"
	}
	if n.SenderID == "" {
		n.SenderID = "admin"
	}
	if n.Created.IsZero() {
		n.Created = h.clock.Add(-time.Minute)
	}
	require.NoError(t, h.repo.Insert(context.Background(), nil, &n))
	return n.ID
}

func (h *harness) get(t *testing.T, id uuid.UUID) *model.AppNotification {
	t.Helper()
	n, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestDeliveryTargetPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		receiver *string
		group    *string
		want     delivery
	}{
		{"group wins over receiver", strPtr("u1"), strPtr("finance"), delivery{kind: model.TargetGroup, name: "finance"}},
		{"no receiver broadcasts", nil, nil, delivery{kind: model.TargetAll}},
		{"empty receiver broadcasts", strPtr(""), nil, delivery{kind: model.TargetAll}},
		{"receiver only", strPtr("u1"), nil, delivery{kind: model.TargetUser, name: "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.add(t, model.AppNotification{ReceiverID: tt.receiver, Group: tt.group})

			require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))

			tt.want.id = id
			assert.Equal(t, []delivery{tt.want}, h.sink.deliveries)
			n := h.get(t, id)
			assert.True(t, n.IsProcessed)
			assert.Nil(t, n.Error)
			require.NotNil(t, n.LastModified)
			assert.Equal(t, h.clock, *n.LastModified)
		})
	}
}

func TestBackoffGatesRedelivery(t *testing.T) {
	h := newHarness(t)
	lastAttempt := h.clock
	id := h.add(t, model.AppNotification{RetryCount: 2, LastModified: &lastAttempt})

	h.clock = lastAttempt.Add(40 * time.Second)
	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))
	assert.Empty(t, h.sink.deliveries)

	h.clock = lastAttempt.Add(41 * time.Second)
	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))
	require.Len(t, h.sink.deliveries, 1)
	assert.True(t, h.get(t, id).IsProcessed)
}

func TestFailedDeliveryIsRecordedAndBatchContinues(t *testing.T) {
	h := newHarness(t)
	failing := h.add(t, model.AppNotification{ReceiverID: strPtr("offline"), Created: h.clock.Add(-2 * time.Minute)})
	ok := h.add(t, model.AppNotification{ReceiverID: strPtr("online")})
	h.sink.fail = func(d delivery) error {
		if d.name == "offline" {
			return errors.New("connection reset")
		}
		return nil
	}

	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))

	f := h.get(t, failing)
	assert.False(t, f.IsProcessed)
	assert.Equal(t, 1, f.RetryCount)
	require.NotNil(t, f.Error)
	assert.Contains(t, *f.Error, "connection reset")
	assert.Contains(t, *f.Error, "deliver to user")

	assert.True(t, h.get(t, ok).IsProcessed)
	assert.Equal(t, 1, h.repo.commits)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationsDelivered.WithLabelValues("user")))
}

func TestRetryCeilingDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.sink.fail = func(delivery) error { return errors.New("hub down") }
	id := h.add(t, model.AppNotification{})

	for i := 0; i < 3; i++ {
		require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))
		h.clock = h.clock.Add(10 * time.Minute)
	}

	n := h.get(t, id)
	assert.Equal(t, 3, n.RetryCount)
	assert.False(t, n.IsProcessed)
	assert.Equal(t, []uuid.UUID{id}, h.repo.dead)
	require.Len(t, h.alerter.alerts, 1)
	assert.Equal(t, 3, h.alerter.alerts[0].RetryCount)
	assert.Equal(t, "all", h.alerter.alerts[0].Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationsDeadLettered))

	// excluded from now on
	h.clock = h.clock.Add(24 * time.Hour)
	h.sink.fail = nil
	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))
	assert.Empty(t, h.sink.deliveries)
}

func TestOrderingByCreatedThenRetryCount(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Add(-time.Hour)
	longAgo := h.clock.Add(-time.Hour)
	third := h.add(t, model.AppNotification{Created: t0.Add(time.Second)})
	second := h.add(t, model.AppNotification{Created: t0, RetryCount: 1, LastModified: &longAgo})
	first := h.add(t, model.AppNotification{Created: t0})

	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))

	require.Len(t, h.sink.deliveries, 3)
	assert.Equal(t, first, h.sink.deliveries[0].id)
	assert.Equal(t, second, h.sink.deliveries[1].id)
	assert.Equal(t, third, h.sink.deliveries[2].id)
}

func TestBatchSizeLimitsCycle(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		h.add(t, model.AppNotification{Created: h.clock.Add(-time.Duration(20-i) * time.Second)})
	}

	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))
	assert.Len(t, h.sink.deliveries, 15)
}

func TestCancellationCommitsCompletedWork(t *testing.T) {
	h := newHarness(t)
	first := h.add(t, model.AppNotification{Created: h.clock.Add(-2 * time.Minute)})
	second := h.add(t, model.AppNotification{})

	ctx, cancel := context.WithCancel(context.Background())
	h.sink.onDeliver = cancel

	require.NoError(t, h.dispatch.ProcessNotifications(ctx))

	assert.True(t, h.get(t, first).IsProcessed)
	assert.False(t, h.get(t, second).IsProcessed)
	assert.Equal(t, 0, h.get(t, second).RetryCount)
	assert.Equal(t, 1, h.repo.commits)
}

func TestSinkPanicIsDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	id := h.add(t, model.AppNotification{})
	h.sink.fail = func(delivery) error { panic("nil connection") }

	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))

	n := h.get(t, id)
	assert.Equal(t, 1, n.RetryCount)
	require.NotNil(t, n.Error)
	assert.Contains(t, *n.Error, "nil connection")
}

func TestInfrastructureFailures(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		h := newHarness(t)
		h.repo.beginErr = errors.New("too many connections")
		err := h.dispatch.ProcessNotifications(context.Background())
		assert.True(t, errors.Is(err, apperrors.Infrastructure))
	})

	t.Run("commit", func(t *testing.T) {
		h := newHarness(t)
		h.add(t, model.AppNotification{})
		h.repo.commitErr = errors.New("serialization failure")
		err := h.dispatch.ProcessNotifications(context.Background())
		assert.True(t, errors.Is(err, apperrors.Infrastructure))
		assert.ErrorContains(t, err, "serialization failure")
	})
}

func TestNothingPendingRollsBack(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dispatch.ProcessNotifications(context.Background()))
	assert.Equal(t, 0, h.repo.commits)
	assert.Equal(t, 1, h.repo.rollbacks)
}

func TestNewDispatcherValidatesConfig(t *testing.T) {
	for _, cfg := range []Config{
		{BatchSize: 0, MaxRetries: 3, BackoffUnit: time.Second},
		{BatchSize: 15, MaxRetries: 0, BackoffUnit: time.Second},
		{BatchSize: 15, MaxRetries: 3, BackoffUnit: 0},
	} {
		assert.Panics(t, func() {
			NewDispatcher(newFakeRepo(), &recordingSink{}, nil, cfg, logger.Nop(), metrics.New("test"))
		})
	}
}
