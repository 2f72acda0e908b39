package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func insertOutboxTx(ctx context.Context, tx *sqlx.Tx, evt *model.OutboxEvent) error {
	if evt.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	evt.CreatedAt = time.Now()
	evt.UpdatedAt = evt.CreatedAt
	evt.Status = model.OutboxStatusPending

	headers, err := json.Marshal(evt.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal event headers: %w", err)
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, headers, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, query,
		evt.ID, evt.EventType, evt.Payload, headers, evt.Status,
		evt.CreatedAt, evt.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) Create(ctx context.Context, evt *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insertOutboxTx(ctx, tx, evt)
	})
}

type outboxRow struct {
	ID           uuid.UUID       `db:"id"`
	EventType    string          `db:"event_type"`
	Payload      json.RawMessage `db:"payload"`
	Headers      []byte          `db:"headers"`
	Status       string          `db:"status"`
	ErrorMessage *string         `db:"error_message"`
	RetryCount   int             `db:"retry_count"`
	CreatedAt    time.Time       `db:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r *outboxRepository) GetPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT id, event_type, payload, headers, status, error_message,
			   retry_count, created_at, processed_at, updated_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	var rows []outboxRow
	err := r.db.SelectContext(ctx, &rows, query, string(model.OutboxStatusPending), limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events := make([]*model.OutboxEvent, 0, len(rows))
	for i := range rows {
		evt := &model.OutboxEvent{
			ID:           rows[i].ID,
			EventType:    rows[i].EventType,
			Payload:      rows[i].Payload,
			Status:       model.OutboxStatus(rows[i].Status),
			ErrorMessage: rows[i].ErrorMessage,
			RetryCount:   rows[i].RetryCount,
			CreatedAt:    rows[i].CreatedAt,
			ProcessedAt:  rows[i].ProcessedAt,
			UpdatedAt:    rows[i].UpdatedAt,
		}
		if len(rows[i].Headers) > 0 {
			if err := json.Unmarshal(rows[i].Headers, &evt.Headers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event headers: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET status = $1, processed_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, string(model.OutboxStatusProcessed), id); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE outbox_events
		SET status = $1, error_message = $2,
			retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, string(model.OutboxStatusFailed), errorMessage, id); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return result.RowsAffected()
}
