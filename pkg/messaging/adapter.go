package messaging

import (
	"context"

	"github.com/jwalitptl/erp-admin/pkg/logger"
)

type BrokerAdapter struct {
	broker Broker
	log    *logger.Logger
}

func NewBrokerAdapter(broker Broker, log *logger.Logger) MessageBroker {
	if log == nil {
		log = logger.Nop()
	}
	return &BrokerAdapter{broker: broker, log: log}
}

func (a *BrokerAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	return a.broker.Publish(ctx, topic, payload)
}

func (a *BrokerAdapter) Close() error {
	return a.broker.Close()
}

// Subscribe runs handler for every payload on topic in a background
// goroutine until ctx is done. Handler errors are logged and skipped.
func (a *BrokerAdapter) Subscribe(ctx context.Context, topic string, handler func([]byte) error) error {
	msgChan, err := a.broker.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgChan {
			if err := handler(msg); err != nil {
				a.log.Error(err, "broker message handler failed", "topic", topic)
				continue
			}
		}
	}()

	return nil
}
