package reconciler

import (
	"context"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/service/event"
	"github.com/reservalo/booking-api/pkg/messaging"
)

// FollowProvider feeds the store from a provider's event channel until ctx
// is cancelled.
func (s *Store) FollowProvider(ctx context.Context, broker messaging.Broker, providerID uuid.UUID) error {
	sub := messaging.NewSubscriber(broker, s.logger)
	return sub.Listen(ctx, s.Apply, event.ProviderChannel(providerID.String()))
}

// FollowClient feeds the store from a client's event channel until ctx is
// cancelled.
func (s *Store) FollowClient(ctx context.Context, broker messaging.Broker, clientID uuid.UUID) error {
	sub := messaging.NewSubscriber(broker, s.logger)
	return sub.Listen(ctx, s.Apply, event.ClientChannel(clientID.String()))
}
