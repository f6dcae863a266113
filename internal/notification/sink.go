package notification

import (
	"context"
	"fmt"

	"github.com/jwalitptl/erp-admin/internal/model"
	apperrors "github.com/jwalitptl/erp-admin/pkg/errors"
)

// Sink pushes notification payloads to connected clients.
type Sink interface {
	DeliverAll(ctx context.Context, payload model.NotificationPayload) error
	DeliverGroup(ctx context.Context, group string, payload model.NotificationPayload) error
	DeliverUser(ctx context.Context, userID string, payload model.NotificationPayload) error
}

// Deliver routes payload to the sink operation matching target. A panicking
// sink is reported as a delivery error.
func Deliver(ctx context.Context, sink Sink, target model.DeliveryTarget, payload model.NotificationPayload) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperrors.NewDelivery(string(target.Kind), fmt.Errorf("sink panic: %v", p))
		}
	}()

	switch target.Kind {
	case model.TargetGroup:
		err = sink.DeliverGroup(ctx, target.Name, payload)
	case model.TargetUser:
		err = sink.DeliverUser(ctx, target.Name, payload)
	case model.TargetAll:
		err = sink.DeliverAll(ctx, payload)
	default:
		err = fmt.Errorf("unknown target kind %q", target.Kind)
	}
	if err != nil {
		return apperrors.NewDelivery(string(target.Kind), err)
	}
	return nil
}
