package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/tier"
)

const subscriptionColumns = `user_id, tier, billing_customer_ref, billing_subscription_ref, current_period_start, current_period_end,
generations_this_month, last_generation_reset, created_at, updated_at`

// SubscriptionRepository persists one metering row per user. Every mutation
// runs as a single read-modify-write under a row lock.
type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		s            models.Subscription
		tierID       string
		customerRef  sql.NullString
		subscription sql.NullString
		periodStart  sql.NullTime
		periodEnd    sql.NullTime
	)
	if err := row.Scan(&s.UserID, &tierID, &customerRef, &subscription, &periodStart, &periodEnd,
		&s.GenerationsThisMonth, &s.LastGenerationReset, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	// Stored ids are kept verbatim; the catalog lookup handles unknown ones.
	s.Tier = tier.ID(tierID)
	if customerRef.Valid {
		s.BillingCustomerRef = &customerRef.String
	}
	if subscription.Valid {
		s.BillingSubscriptionRef = &subscription.String
	}
	if periodStart.Valid {
		t := periodStart.Time
		s.CurrentPeriodStart = &t
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		s.CurrentPeriodEnd = &t
	}
	return &s, nil
}

// FindByUserID returns nil when the user has no row yet.
func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = ?`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDefault(ctx context.Context, db execer, userID string, now time.Time) error {
	const query = `
INSERT IGNORE INTO subscriptions (user_id, tier, generations_this_month, last_generation_reset, created_at, updated_at)
VALUES (?, ?, 0, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, query, userID, string(tier.Free), now, now, now); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Ensure materializes a free row for userID if none exists and returns the stored row.
func (r *SubscriptionRepository) Ensure(ctx context.Context, userID string, now time.Time) (*models.Subscription, error) {
	if err := insertDefault(ctx, r.db, userID, now); err != nil {
		return nil, err
	}
	sub, err := r.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %s missing after insert", userID)
	}
	return sub, nil
}

func update(ctx context.Context, db execer, s *models.Subscription) error {
	const query = `
UPDATE subscriptions
SET tier = ?, billing_customer_ref = ?, billing_subscription_ref = ?, current_period_start = ?, current_period_end = ?,
    generations_this_month = ?, last_generation_reset = ?, updated_at = ?
WHERE user_id = ?`
	if _, err := db.ExecContext(ctx, query, string(s.Tier), s.BillingCustomerRef, s.BillingSubscriptionRef,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.GenerationsThisMonth, s.LastGenerationReset, s.UpdatedAt, s.UserID); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// lockDefault creates the free row for userID or, when it already exists,
// takes its exclusive lock. INSERT IGNORE would take a shared lock on the
// duplicate and deadlock two callers upgrading it.
func lockDefault(ctx context.Context, db execer, userID string, now time.Time) error {
	const query = `
INSERT INTO subscriptions (user_id, tier, generations_this_month, last_generation_reset, created_at, updated_at)
VALUES (?, ?, 0, ?, ?, ?)
ON DUPLICATE KEY UPDATE user_id = user_id`
	if _, err := db.ExecContext(ctx, query, userID, string(tier.Free), now, now, now); err != nil {
		return fmt.Errorf("lock subscription row: %w", err)
	}
	return nil
}

// Mutate locks the row for userID, creating a free row first if needed, and
// applies fn. An error from fn rolls the transaction back untouched.
func (r *SubscriptionRepository) Mutate(ctx context.Context, userID string, now time.Time, fn func(*models.Subscription) error) (*models.Subscription, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockDefault(ctx, tx, userID, now); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = ? FOR UPDATE`
	sub, err := scanSubscription(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("lock subscription: %w", err)
	}

	if err := fn(sub); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now

	if err := update(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subscription tx: %w", err)
	}
	return sub, nil
}

// MutateByCustomer applies fn to every row carrying the billing customer ref
// and returns how many rows were changed.
func (r *SubscriptionRepository) MutateByCustomer(ctx context.Context, customerRef string, now time.Time, fn func(*models.Subscription) error) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE billing_customer_ref = ? FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, customerRef)
	if err != nil {
		return 0, fmt.Errorf("lock subscriptions by customer: %w", err)
	}
	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate subscriptions: %w", err)
	}
	rows.Close()

	for _, sub := range subs {
		if err := fn(sub); err != nil {
			return 0, err
		}
		sub.UpdatedAt = now
		if err := update(ctx, tx, sub); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit subscription tx: %w", err)
	}
	return len(subs), nil
}
