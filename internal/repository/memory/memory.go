// Package memory provides in-memory repository implementations backing the
// service-level tests. Mutations copy records on the way in and out, so
// callers observe the same isolation the SQL store gives them.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
)

type Store struct {
	mu           sync.RWMutex
	loc          *time.Location
	appointments map[uuid.UUID]*model.Appointment
	payments     map[uuid.UUID]*model.Payment
	debts        map[uuid.UUID]*model.CashCommissionDebt
	events       []*model.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		loc:          time.UTC,
		appointments: make(map[uuid.UUID]*model.Appointment),
		payments:     make(map[uuid.UUID]*model.Payment),
		debts:        make(map[uuid.UUID]*model.CashCommissionDebt),
	}
}

func copyAppointment(a *model.Appointment) *model.Appointment {
	cp := *a
	if a.Verification.Code != nil {
		code := *a.Verification.Code
		cp.Verification.Code = &code
	}
	if a.Closure.DueAt != nil {
		due := *a.Closure.DueAt
		cp.Closure.DueAt = &due
	}
	return &cp
}

func copyDebt(d *model.CashCommissionDebt) *model.CashCommissionDebt {
	cp := *d
	return &cp
}

func copyPayment(p *model.Payment) *model.Payment {
	cp := *p
	if p.ConfirmedAt != nil {
		at := *p.ConfirmedAt
		cp.ConfirmedAt = &at
	}
	return &cp
}

// --- AppointmentRepository ---

func (s *Store) Create(ctx context.Context, apt *model.Appointment, evt *model.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[apt.ID] = copyAppointment(apt)
	s.appendEvent(evt)
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	apt, ok := s.appointments[id]
	if !ok {
		return nil, apperrors.NewNotFound("appointment", nil)
	}
	return copyAppointment(apt), nil
}

func (s *Store) Update(ctx context.Context, apt *model.Appointment, evts ...*model.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[apt.ID]; !ok {
		return apperrors.NewNotFound("appointment", nil)
	}
	s.appointments[apt.ID] = copyAppointment(apt)
	for _, evt := range evts {
		s.appendEvent(evt)
	}
	return nil
}

func (s *Store) UpdateWithDebt(ctx context.Context, apt *model.Appointment, debt *model.CashCommissionDebt, evts ...*model.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[apt.ID]; !ok {
		return apperrors.NewNotFound("appointment", nil)
	}
	s.appointments[apt.ID] = copyAppointment(apt)
	if debt.ID == uuid.Nil {
		debt.ID = uuid.New()
	}
	s.debts[debt.ID] = copyDebt(debt)
	for _, evt := range evts {
		s.appendEvent(evt)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f *model.AppointmentFilters) ([]*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Appointment
	for _, apt := range s.appointments {
		if f.ProviderID != uuid.Nil && apt.ProviderID != f.ProviderID {
			continue
		}
		if f.ClientID != uuid.Nil && apt.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && apt.Status != f.Status {
			continue
		}
		out = append(out, copyAppointment(apt))
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) ListPendingClosures(ctx context.Context) ([]*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Appointment
	for _, apt := range s.appointments {
		if apt.Closure.State == model.ClosureStatePendingClose {
			out = append(out, copyAppointment(apt))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) ListClosureDue(ctx context.Context, before time.Time) ([]*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Appointment
	for _, apt := range s.appointments {
		if apt.Closure.State == model.ClosureStatePendingClose &&
			apt.Closure.DueAt != nil && !apt.Closure.DueAt.After(before) {
			out = append(out, copyAppointment(apt))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) ListClosureCandidates(ctx context.Context, endedBefore time.Time) ([]*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Appointment
	for _, apt := range s.appointments {
		if apt.Status != model.AppointmentStatusConfirmed ||
			!apt.PaymentStatus.Settled() ||
			apt.Closure.State != model.ClosureStateNone {
			continue
		}
		end, err := apt.EndAt(s.loc)
		if err != nil {
			continue
		}
		if !end.After(endedBefore) {
			out = append(out, copyAppointment(apt))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) ListExpiryCandidates(ctx context.Context, startedBefore time.Time) ([]*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Appointment
	for _, apt := range s.appointments {
		if apt.Status != model.AppointmentStatusScheduled && apt.Status != model.AppointmentStatusConfirmed {
			continue
		}
		if apt.PaymentStatus != model.PaymentStatusPending || apt.Closure.State != model.ClosureStateNone {
			continue
		}
		start, err := apt.StartAt(s.loc)
		if err != nil {
			continue
		}
		if !start.After(startedBefore) {
			out = append(out, copyAppointment(apt))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) HasConflict(ctx context.Context, providerID uuid.UUID, date, start, end string, excludeID *uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, apt := range s.appointments {
		if apt.ProviderID != providerID || apt.Date != date {
			continue
		}
		if apt.Status.Terminal() {
			continue
		}
		if excludeID != nil && apt.ID == *excludeID {
			continue
		}
		if apt.StartTime < end && apt.EndTime > start {
			return true, nil
		}
	}
	return false, nil
}

func sortAppointments(apts []*model.Appointment) {
	sort.Slice(apts, func(i, j int) bool {
		if apts[i].Date != apts[j].Date {
			return apts[i].Date < apts[j].Date
		}
		return apts[i].StartTime < apts[j].StartTime
	})
}

// --- PaymentRepository ---

func (s *Store) CreatePayment(ctx context.Context, p *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return apperrors.NewNotFound("payment", nil)
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *Store) GetActivePayment(ctx context.Context, appointmentID uuid.UUID) (*model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Payment
	for _, p := range s.payments {
		if p.AppointmentID != appointmentID || !p.Active() {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyPayment(latest), nil
}

func (s *Store) ListPaymentsByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Payment
	for _, p := range s.payments {
		if p.AppointmentID == appointmentID {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- DebtRepository ---

func (s *Store) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*model.CashCommissionDebt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.CashCommissionDebt
	for _, d := range s.debts {
		if d.ProviderID == providerID {
			out = append(out, copyDebt(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *Store) OutstandingTotal(ctx context.Context, providerID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, d := range s.debts {
		if d.ProviderID == providerID && d.Status.Outstanding() {
			total += d.Amount
		}
	}
	return total, nil
}

func (s *Store) SubmitManualPayment(ctx context.Context, providerID uuid.UUID, reference, receiptRef string, difference int64, evt *model.OutboxEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved int64
	for _, d := range s.debts {
		if d.ProviderID != providerID {
			continue
		}
		switch d.Status {
		case model.DebtStatusPending, model.DebtStatusOverdue, model.DebtStatusRejected:
			d.Status = model.DebtStatusUnderReview
			d.Reference = reference
			d.ReceiptRef = receiptRef
			d.Difference = difference
			moved++
		}
	}
	s.appendEvent(evt)
	return moved, nil
}

func (s *Store) ResolveReview(ctx context.Context, debtID uuid.UUID, status model.DebtStatus, evt *model.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[debtID]
	if !ok || d.Status != model.DebtStatusUnderReview {
		return apperrors.NewNotFound("debt under review", nil)
	}
	d.Status = status
	s.appendEvent(evt)
	return nil
}

func (s *Store) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.debts {
		if d.Status == model.DebtStatusPending && d.DueDate.Before(asOf) {
			d.Status = model.DebtStatusOverdue
			n++
		}
	}
	return n, nil
}

// --- Interface adapters ---

// Payments exposes the store as a repository.PaymentRepository.
func (s *Store) Payments() paymentRepo { return paymentRepo{s} }

type paymentRepo struct{ s *Store }

func (p paymentRepo) Create(ctx context.Context, pay *model.Payment) error {
	return p.s.CreatePayment(ctx, pay)
}

func (p paymentRepo) Update(ctx context.Context, pay *model.Payment) error {
	return p.s.UpdatePayment(ctx, pay)
}

func (p paymentRepo) GetActive(ctx context.Context, appointmentID uuid.UUID) (*model.Payment, error) {
	return p.s.GetActivePayment(ctx, appointmentID)
}

func (p paymentRepo) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Payment, error) {
	return p.s.ListPaymentsByAppointment(ctx, appointmentID)
}

// Outbox exposes the recorded events as a repository.OutboxRepository.
func (s *Store) Outbox() outboxRepo { return outboxRepo{s} }

type outboxRepo struct{ s *Store }

func (o outboxRepo) Create(ctx context.Context, evt *model.OutboxEvent) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.s.appendEvent(evt)
	return nil
}

func (o outboxRepo) GetPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	var out []*model.OutboxEvent
	for _, evt := range o.s.events {
		if evt.Status == model.OutboxStatusPending {
			cp := *evt
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (o outboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, evt := range o.s.events {
		if evt.ID == id {
			now := time.Now()
			evt.Status = model.OutboxStatusProcessed
			evt.ProcessedAt = &now
			return nil
		}
	}
	return apperrors.NewNotFound("outbox event", nil)
}

func (o outboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, evt := range o.s.events {
		if evt.ID == id {
			evt.Status = model.OutboxStatusFailed
			evt.ErrorMessage = &errorMessage
			evt.RetryCount++
			return nil
		}
	}
	return apperrors.NewNotFound("outbox event", nil)
}

func (o outboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	var kept []*model.OutboxEvent
	var n int64
	for _, evt := range o.s.events {
		if evt.Status == model.OutboxStatusProcessed && evt.ProcessedAt != nil && evt.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, evt)
	}
	o.s.events = kept
	return n, nil
}

// --- Event inspection ---

func (s *Store) appendEvent(evt *model.OutboxEvent) {
	if evt == nil {
		return
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	evt.Status = model.OutboxStatusPending
	cp := *evt
	s.events = append(s.events, &cp)
}

// Events returns every outbox event recorded so far.
func (s *Store) Events() []*model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.OutboxEvent, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType filters recorded events by type.
func (s *Store) EventsOfType(eventType string) []*model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.OutboxEvent
	for _, evt := range s.events {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}
