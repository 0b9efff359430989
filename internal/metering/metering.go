// Package metering implements the monthly usage rules shared by the
// admission check and the usage counter.
package metering

import (
	"fmt"
	"time"

	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/tier"
)

// UnlimitedRemaining is reported as the remaining count for uncapped tiers.
const UnlimitedRemaining = -1

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	Reason    string
}

// Usage summarises the current window for display.
type Usage struct {
	GenerationsUsed      int `json:"generationsUsed"`
	GenerationsRemaining int `json:"generationsRemaining"`
}

// MonthsSinceReset counts calendar-month boundaries between lastReset and now,
// both taken in UTC. It is not a 30-day window: Jan 31 -> Feb 1 is one month.
func MonthsSinceReset(lastReset, now time.Time) int {
	lastReset = lastReset.UTC()
	now = now.UTC()
	return (now.Year()-lastReset.Year())*12 + int(now.Month()) - int(lastReset.Month())
}

// RolledOver reports whether the counter window of sub has expired at now.
func RolledOver(sub *models.Subscription, now time.Time) bool {
	return MonthsSinceReset(sub.LastGenerationReset, now) >= 1
}

// EffectiveUsed is the counter value as of now, treating an expired window as zero.
// A nil subscription is an implicit free row with nothing used.
func EffectiveUsed(sub *models.Subscription, now time.Time) int {
	if sub == nil || RolledOver(sub, now) {
		return 0
	}
	if sub.GenerationsThisMonth < 0 {
		return 0
	}
	return sub.GenerationsThisMonth
}

// Evaluate decides whether sub may start another generation at now.
// It never mutates sub; the rollover it observes is persisted by ApplyGeneration.
func Evaluate(sub *models.Subscription, now time.Time) Decision {
	var desc tier.Descriptor
	if sub == nil {
		desc = tier.Lookup(tier.Free)
	} else {
		desc = tier.Lookup(sub.Tier)
	}

	if desc.Unlimited() {
		return Decision{Allowed: true, Remaining: UnlimitedRemaining, Limit: tier.Unlimited}
	}

	remaining := desc.GenerationsPerMonth - EffectiveUsed(sub, now)
	if remaining <= 0 {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     desc.GenerationsPerMonth,
			Reason:    fmt.Sprintf("You've reached your monthly limit of %d generations. Upgrade to get more!", desc.GenerationsPerMonth),
		}
	}
	return Decision{Allowed: true, Remaining: remaining, Limit: desc.GenerationsPerMonth}
}

// CurrentUsage reports used and remaining generations for display.
func CurrentUsage(sub *models.Subscription, now time.Time) Usage {
	return Usage{
		GenerationsUsed:      EffectiveUsed(sub, now),
		GenerationsRemaining: Evaluate(sub, now).Remaining,
	}
}

// ApplyGeneration counts one generation against sub, starting a new window
// when the previous one has rolled over.
func ApplyGeneration(sub *models.Subscription, now time.Time) {
	if RolledOver(sub, now) {
		sub.GenerationsThisMonth = 1
		sub.LastGenerationReset = now
		return
	}
	sub.GenerationsThisMonth++
}

// ResetWindow clears the counter and starts a new window at now.
func ResetWindow(sub *models.Subscription, now time.Time) {
	sub.GenerationsThisMonth = 0
	sub.LastGenerationReset = now
}
