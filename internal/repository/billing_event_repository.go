package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/drumgen/internal/models"
)

type BillingEventRepository struct {
	db *sql.DB
}

func NewBillingEventRepository(db *sql.DB) *BillingEventRepository {
	return &BillingEventRepository{db: db}
}

// Seen reports whether an event with this id was already applied.
func (r *BillingEventRepository) Seen(ctx context.Context, id string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT 1 FROM billing_events WHERE id = ?`, id)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check billing event: %w", err)
	}
	return true, nil
}

// Record stores the event; a duplicate id is ignored.
func (r *BillingEventRepository) Record(ctx context.Context, ev *models.BillingEvent) error {
	const query = `
INSERT IGNORE INTO billing_events (id, kind, customer_ref, raw_payload, received_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, ev.ID, ev.Kind, ev.CustomerRef, ev.RawPayload, ev.ReceivedAt); err != nil {
		return fmt.Errorf("insert billing event: %w", err)
	}
	return nil
}

func (r *BillingEventRepository) ListRecent(ctx context.Context, limit int) ([]models.BillingEvent, error) {
	const query = `
SELECT id, kind, COALESCE(customer_ref, ''), received_at
FROM billing_events
ORDER BY received_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list billing events: %w", err)
	}
	defer rows.Close()

	events := make([]models.BillingEvent, 0)
	for rows.Next() {
		var ev models.BillingEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.CustomerRef, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan billing event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
