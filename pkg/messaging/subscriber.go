package messaging

import (
	"context"
	"fmt"

	"github.com/reservalo/booking-api/pkg/logger"
)

// Handler consumes one raw message. A returned error is logged and the
// subscription continues; delivery is at-least-once so handlers must
// tolerate redelivery.
type Handler func(payload []byte) error

// Subscriber bridges channel-based Broker subscriptions to handler
// callbacks, one goroutine per channel.
type Subscriber struct {
	broker Broker
	logger *logger.Logger
}

func NewSubscriber(broker Broker, log *logger.Logger) *Subscriber {
	return &Subscriber{broker: broker, logger: log}
}

// Listen subscribes to every channel and dispatches messages to the handler
// until ctx is cancelled.
func (s *Subscriber) Listen(ctx context.Context, handler Handler, channels ...string) error {
	for _, channel := range channels {
		channel := channel
		msgs, err := s.broker.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					if err := handler(msg); err != nil {
						s.logger.Error(err, "failed to handle message", "channel", channel)
					}
				}
			}
		}()
	}
	return nil
}
