// Package event builds the typed outbox events every successful mutation
// emits. Events carry full snapshots: subscribers reconcile last-writer-wins
// on the whole record, never field-by-field.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
)

// Envelope is the wire format published to subscribed clients.
type Envelope struct {
	Type        string                    `json:"type"`
	Appointment *model.Appointment        `json:"appointment,omitempty"`
	Debt        *model.CashCommissionDebt `json:"debt,omitempty"`
	Outstanding int64                     `json:"outstanding,omitempty"`
	ProviderID  uuid.UUID                 `json:"provider_id"`
	ClientID    uuid.UUID                 `json:"client_id,omitempty"`
	EmittedAt   time.Time                 `json:"emitted_at"`
}

func newEvent(eventType string, env Envelope) (*model.OutboxEvent, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	headers := map[string]string{
		model.HeaderProviderID: env.ProviderID.String(),
	}
	if env.ClientID != uuid.Nil {
		headers[model.HeaderClientID] = env.ClientID.String()
	}
	return &model.OutboxEvent{
		EventType: eventType,
		Payload:   payload,
		Headers:   headers,
		Status:    model.OutboxStatusPending,
	}, nil
}

func AppointmentCreated(apt *model.Appointment, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(model.EventAppointmentCreated, Envelope{
		Type:        model.EventAppointmentCreated,
		Appointment: apt,
		ProviderID:  apt.ProviderID,
		ClientID:    apt.ClientID,
		EmittedAt:   now,
	})
}

func AppointmentUpdated(apt *model.Appointment, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(model.EventAppointmentUpdated, Envelope{
		Type:        model.EventAppointmentUpdated,
		Appointment: apt,
		ProviderID:  apt.ProviderID,
		ClientID:    apt.ClientID,
		EmittedAt:   now,
	})
}

func AppointmentDeleted(apt *model.Appointment, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(model.EventAppointmentDeleted, Envelope{
		Type:        model.EventAppointmentDeleted,
		Appointment: apt,
		ProviderID:  apt.ProviderID,
		ClientID:    apt.ClientID,
		EmittedAt:   now,
	})
}

func PaymentCompleted(apt *model.Appointment, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(model.EventPaymentCompleted, Envelope{
		Type:        model.EventPaymentCompleted,
		Appointment: apt,
		ProviderID:  apt.ProviderID,
		ClientID:    apt.ClientID,
		EmittedAt:   now,
	})
}

func DebtUpdated(debt *model.CashCommissionDebt, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(model.EventDebtUpdated, Envelope{
		Type:       model.EventDebtUpdated,
		Debt:       debt,
		ProviderID: debt.ProviderID,
		EmittedAt:  now,
	})
}

// DebtBalanceChanged signals a change to a provider's aggregate debt
// position, e.g. after a manual cash payment moved debts under review.
func DebtBalanceChanged(providerID uuid.UUID, outstanding int64, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(model.EventDebtUpdated, Envelope{
		Type:        model.EventDebtUpdated,
		Outstanding: outstanding,
		ProviderID:  providerID,
		EmittedAt:   now,
	})
}

// Channels returns the fan-out channels an event is published to, scoped to
// the provider and client involved. Membership is derived from the event
// itself, never from ambient session state.
func Channels(evt *model.OutboxEvent) []string {
	var chans []string
	if id, ok := evt.Headers[model.HeaderProviderID]; ok && id != "" {
		chans = append(chans, ProviderChannel(id))
	}
	if id, ok := evt.Headers[model.HeaderClientID]; ok && id != "" {
		chans = append(chans, ClientChannel(id))
	}
	return chans
}

func ProviderChannel(providerID string) string {
	return "events.provider." + providerID
}

func ClientChannel(clientID string) string {
	return "events.client." + clientID
}
