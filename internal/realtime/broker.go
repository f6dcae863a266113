package realtime

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/internal/notification"
	"github.com/jwalitptl/erp-admin/pkg/logger"
	"github.com/jwalitptl/erp-admin/pkg/messaging"
)

// BrokerSink publishes notifications on a broker channel for a Relay to pick up.
type BrokerSink struct {
	broker  messaging.MessageBroker
	channel string
}

func NewBrokerSink(broker messaging.MessageBroker, channel string) *BrokerSink {
	return &BrokerSink{broker: broker, channel: channel}
}

func (s *BrokerSink) DeliverAll(ctx context.Context, payload model.NotificationPayload) error {
	return s.publish(ctx, model.DeliveryTarget{Kind: model.TargetAll}, payload)
}

func (s *BrokerSink) DeliverGroup(ctx context.Context, group string, payload model.NotificationPayload) error {
	return s.publish(ctx, model.DeliveryTarget{Kind: model.TargetGroup, Name: group}, payload)
}

func (s *BrokerSink) DeliverUser(ctx context.Context, userID string, payload model.NotificationPayload) error {
	return s.publish(ctx, model.DeliveryTarget{Kind: model.TargetUser, Name: userID}, payload)
}

func (s *BrokerSink) publish(ctx context.Context, target model.DeliveryTarget, payload model.NotificationPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification payload: %w", err)
	}
	msg, err := json.Marshal(messaging.Message{Type: string(target.Kind), Target: target.Name, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode broker message: %w", err)
	}
	return s.broker.Publish(ctx, s.channel, msg)
}

// Relay forwards broker messages published by a BrokerSink to a local sink,
// normally the Hub.
type Relay struct {
	broker  messaging.MessageBroker
	channel string
	sink    notification.Sink
	logger  *logger.Logger
}

func NewRelay(broker messaging.MessageBroker, channel string, sink notification.Sink, logger *logger.Logger) *Relay {
	return &Relay{broker: broker, channel: channel, sink: sink, logger: logger}
}

// Start subscribes and returns; forwarding continues until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.broker.Subscribe(ctx, r.channel, func(raw []byte) error {
		return r.forward(ctx, raw)
	}); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("notification relay started", "channel", r.channel)
	return nil
}

func (r *Relay) forward(ctx context.Context, raw []byte) error {
	var msg messaging.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode broker message: %w", err)
	}
	var payload model.NotificationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	target := model.DeliveryTarget{Kind: model.TargetKind(msg.Type), Name: msg.Target}
	return notification.Deliver(ctx, r.sink, target, payload)
}
