package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/drumgen/internal/models"
)

func TestBillingEventSeenAndRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewBillingEventRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT 1 FROM billing_events WHERE id = \?`).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	seen, err := repo.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectExec(`INSERT IGNORE INTO billing_events`).
		WithArgs("evt_1", "checkout.session.completed", "cus_1", `{"id":"evt_1"}`, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Record(ctx, &models.BillingEvent{
		ID:          "evt_1",
		Kind:        "checkout.session.completed",
		CustomerRef: "cus_1",
		RawPayload:  `{"id":"evt_1"}`,
		ReceivedAt:  fixedNow,
	}))

	mock.ExpectQuery(`SELECT 1 FROM billing_events WHERE id = \?`).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	seen, err = repo.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingEventListRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewBillingEventRepository(db)

	mock.ExpectQuery(`FROM billing_events\s+ORDER BY received_at DESC`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "customer_ref", "received_at"}).
			AddRow("evt_2", "customer.subscription.deleted", "cus_2", fixedNow))

	events, err := repo.ListRecent(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_2", events[0].ID)
	assert.Equal(t, "cus_2", events[0].CustomerRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}
