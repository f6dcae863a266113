package realtime

import (
	"context"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/notification"
)

// Fanout delivers to several sinks concurrently. Every sink is attempted;
// the delivery fails if any sink fails.
type Fanout struct {
	sinks []notification.Sink
}

func NewFanout(sinks ...notification.Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) DeliverAll(ctx context.Context, payload model.NotificationPayload) error {
	return f.each(func(s notification.Sink) error { return s.DeliverAll(ctx, payload) })
}

func (f *Fanout) DeliverGroup(ctx context.Context, group string, payload model.NotificationPayload) error {
	return f.each(func(s notification.Sink) error { return s.DeliverGroup(ctx, group, payload) })
}

func (f *Fanout) DeliverUser(ctx context.Context, userID string, payload model.NotificationPayload) error {
	return f.each(func(s notification.Sink) error { return s.DeliverUser(ctx, userID, payload) })
}

func (f *Fanout) each(fn func(notification.Sink) error) error {
	p := pool.New().WithErrors().WithMaxGoroutines(len(f.sinks) + 1)
	for _, s := range f.sinks {
		s := s
		p.Go(func() error { return fn(s) })
	}
	return p.Wait()
}

// RateLimited throttles deliveries to next.
type RateLimited struct {
	next    notification.Sink
	limiter *rate.Limiter
}

// NewRateLimited wraps next; a non-positive rate disables throttling.
func NewRateLimited(next notification.Sink, perSecond float64, burst int) notification.Sink {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) DeliverAll(ctx context.Context, payload model.NotificationPayload) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.DeliverAll(ctx, payload)
}

func (r *RateLimited) DeliverGroup(ctx context.Context, group string, payload model.NotificationPayload) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.DeliverGroup(ctx, group, payload)
}

func (r *RateLimited) DeliverUser(ctx context.Context, userID string, payload model.NotificationPayload) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.DeliverUser(ctx, userID, payload)
}

var (
	_ notification.Sink = (*Hub)(nil)
	_ notification.Sink = (*BrokerSink)(nil)
	_ notification.Sink = (*Fanout)(nil)
	_ notification.Sink = (*RateLimited)(nil)
)
