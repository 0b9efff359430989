package metering

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/tier"
)

var now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func sub(id tier.ID, used int, reset time.Time) *models.Subscription {
	return &models.Subscription{UserID: "u1", Tier: id, GenerationsThisMonth: used, LastGenerationReset: reset}
}

func TestMonthsSinceReset(t *testing.T) {
	cases := []struct {
		name string
		last time.Time
		now  time.Time
		want int
	}{
		{"same instant", now, now, 0},
		{"same month", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), now, 0},
		{"one day across boundary", time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC), time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC), 1},
		{"thirty days inside month", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), 0},
		{"across year", time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 1},
		{"many months", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), now, 24},
		{"zero time", time.Time{}, now, (2026-1)*12 + 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MonthsSinceReset(tc.last, tc.now))
		})
	}
}

func TestMonthsSinceResetUsesUTC(t *testing.T) {
	tz := time.FixedZone("UTC+3", 3*3600)
	// 2026-02-01 01:00 in UTC+3 is still January in UTC.
	last := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	at := time.Date(2026, 2, 1, 1, 0, 0, 0, tz)
	assert.Equal(t, 0, MonthsSinceReset(last, at))
}

func TestEvaluateRollover(t *testing.T) {
	s := sub(tier.Free, 5, time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC))

	d := Evaluate(s, now)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
	assert.Equal(t, 5, s.GenerationsThisMonth, "evaluate must not mutate")

	ApplyGeneration(s, now)
	assert.Equal(t, 1, s.GenerationsThisMonth)
	assert.Equal(t, now, s.LastGenerationReset)
}

func TestEvaluateUnlimited(t *testing.T) {
	for _, used := range []int{0, 5, 1_000_000, math.MaxInt32} {
		d := Evaluate(sub(tier.Premium, used, now), now)
		assert.True(t, d.Allowed)
		assert.Equal(t, UnlimitedRemaining, d.Remaining)
		assert.Empty(t, d.Reason)
	}
}

func TestEvaluateQuotaBoundary(t *testing.T) {
	d := Evaluate(sub(tier.Free, 5, now), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Contains(t, d.Reason, "monthly limit of 5")

	d = Evaluate(sub(tier.Free, 4, now), now)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d = Evaluate(sub(tier.Basic, 30, now), now)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestEvaluateUnknownTier(t *testing.T) {
	s := sub(tier.ID("unknown_future_tier"), 2, now)
	d := Evaluate(s, now)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
	assert.Equal(t, 5, d.Limit)
}

func TestEvaluateMissingSubscription(t *testing.T) {
	d := Evaluate(nil, now)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
	assert.Equal(t, Usage{GenerationsUsed: 0, GenerationsRemaining: 5}, CurrentUsage(nil, now))
}

func TestApplyGenerationSameWindow(t *testing.T) {
	reset := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s := sub(tier.Pro, 7, reset)
	ApplyGeneration(s, now)
	assert.Equal(t, 8, s.GenerationsThisMonth)
	assert.Equal(t, reset, s.LastGenerationReset)
}

func TestApplyGenerationUnlimitedStillCounts(t *testing.T) {
	s := sub(tier.Premium, 41, now)
	ApplyGeneration(s, now)
	assert.Equal(t, 42, s.GenerationsThisMonth)
}

func TestResetWindow(t *testing.T) {
	s := sub(tier.Basic, 9, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ResetWindow(s, now)
	assert.Equal(t, 0, s.GenerationsThisMonth)
	assert.Equal(t, now, s.LastGenerationReset)
}

func TestCurrentUsage(t *testing.T) {
	assert.Equal(t, Usage{GenerationsUsed: 1, GenerationsRemaining: 4}, CurrentUsage(sub(tier.Free, 1, now), now))
	assert.Equal(t, Usage{GenerationsUsed: 3, GenerationsRemaining: -1}, CurrentUsage(sub(tier.Premium, 3, now), now))
}
