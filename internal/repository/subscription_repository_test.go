package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/tier"
)

var (
	fixedNow  = time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	lastReset = time.Date(2026, time.March, 28, 8, 0, 0, 0, time.UTC)
)

func subscriptionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "tier", "billing_customer_ref", "billing_subscription_ref", "current_period_start", "current_period_end",
		"generations_this_month", "last_generation_reset", "created_at", "updated_at",
	})
}

func newMock(t *testing.T) (*SubscriptionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSubscriptionRepository(db), mock
}

func TestSubscriptionFindByUserID(t *testing.T) {
	repo, mock := newMock(t)
	periodEnd := fixedNow.Add(30 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT .+ FROM subscriptions WHERE user_id = \?`).
		WithArgs("user-1").
		WillReturnRows(subscriptionRows().AddRow("user-1", "pro", "cus_1", "sub_1", fixedNow, periodEnd, 3, lastReset, lastReset, fixedNow))

	sub, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, tier.Pro, sub.Tier)
	assert.Equal(t, "cus_1", *sub.BillingCustomerRef)
	assert.Equal(t, "sub_1", *sub.BillingSubscriptionRef)
	assert.Equal(t, periodEnd, *sub.CurrentPeriodEnd)
	assert.Equal(t, 3, sub.GenerationsThisMonth)
	assert.Equal(t, lastReset, sub.LastGenerationReset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionFindByUserIDMissing(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM subscriptions WHERE user_id = \?`).
		WithArgs("ghost").
		WillReturnRows(subscriptionRows())

	sub, err := repo.FindByUserID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionEnsure(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`INSERT IGNORE INTO subscriptions`).
		WithArgs("user-2", "free", fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM subscriptions WHERE user_id = \?`).
		WithArgs("user-2").
		WillReturnRows(subscriptionRows().AddRow("user-2", "free", nil, nil, nil, nil, 0, fixedNow, fixedNow, fixedNow))

	sub, err := repo.Ensure(context.Background(), "user-2", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, tier.Free, sub.Tier)
	assert.Nil(t, sub.BillingCustomerRef)
	assert.Nil(t, sub.CurrentPeriodStart)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionMutateCommits(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO subscriptions .+ ON DUPLICATE KEY UPDATE user_id = user_id`).
		WithArgs("user-3", "free", fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM subscriptions WHERE user_id = \? FOR UPDATE`).
		WithArgs("user-3").
		WillReturnRows(subscriptionRows().AddRow("user-3", "basic", "cus_3", nil, nil, nil, 4, lastReset, lastReset, lastReset))
	mock.ExpectExec(`UPDATE subscriptions`).
		WithArgs("basic", "cus_3", nil, nil, nil, 5, lastReset, fixedNow, "user-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := repo.Mutate(context.Background(), "user-3", fixedNow, func(s *models.Subscription) error {
		s.GenerationsThisMonth++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, sub.GenerationsThisMonth)
	assert.Equal(t, fixedNow, sub.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionMutateRollsBackOnCallbackError(t *testing.T) {
	repo, mock := newMock(t)
	denied := errors.New("denied")
	mock.ExpectBegin()
	mock.ExpectExec(`ON DUPLICATE KEY UPDATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("user-4").
		WillReturnRows(subscriptionRows().AddRow("user-4", "free", nil, nil, nil, nil, 5, fixedNow, fixedNow, fixedNow))
	mock.ExpectRollback()

	_, err := repo.Mutate(context.Background(), "user-4", fixedNow, func(*models.Subscription) error {
		return denied
	})
	assert.ErrorIs(t, err, denied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionMutateCreatesRowUnderExclusiveLock(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO subscriptions .+ ON DUPLICATE KEY UPDATE user_id = user_id`).
		WithArgs("user-5", "free", fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM subscriptions WHERE user_id = \? FOR UPDATE`).
		WithArgs("user-5").
		WillReturnRows(subscriptionRows().AddRow("user-5", "free", nil, nil, nil, nil, 0, fixedNow, fixedNow, fixedNow))
	mock.ExpectExec(`UPDATE subscriptions`).
		WithArgs("free", nil, nil, nil, nil, 1, fixedNow, fixedNow, "user-5").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := repo.Mutate(context.Background(), "user-5", fixedNow, func(s *models.Subscription) error {
		s.GenerationsThisMonth++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.GenerationsThisMonth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionMutateByCustomer(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM subscriptions WHERE billing_customer_ref = \? FOR UPDATE`).
		WithArgs("cus_9").
		WillReturnRows(subscriptionRows().AddRow("user-9", "pro", "cus_9", "sub_9", fixedNow, fixedNow, 12, lastReset, lastReset, lastReset))
	mock.ExpectExec(`UPDATE subscriptions`).
		WithArgs("free", "cus_9", nil, nil, nil, 12, lastReset, fixedNow, "user-9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.MutateByCustomer(context.Background(), "cus_9", fixedNow, func(s *models.Subscription) error {
		s.Tier = tier.Free
		s.BillingSubscriptionRef = nil
		s.CurrentPeriodStart = nil
		s.CurrentPeriodEnd = nil
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionMutateByCustomerNoRows(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).WithArgs("cus_none").WillReturnRows(subscriptionRows())
	mock.ExpectCommit()

	n, err := repo.MutateByCustomer(context.Background(), "cus_none", fixedNow, func(*models.Subscription) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
