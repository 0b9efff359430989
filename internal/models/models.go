package models

import (
	"time"

	"github.com/digkill/drumgen/internal/tier"
)

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationGenerating GenerationStatus = "generating"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Subscription is the per-user metering row. UserID comes from the identity provider.
type Subscription struct {
	UserID                 string     `json:"userId"`
	Tier                   tier.ID    `json:"tier"`
	BillingCustomerRef     *string    `json:"billingCustomerRef"`
	BillingSubscriptionRef *string    `json:"billingSubscriptionRef"`
	CurrentPeriodStart     *time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd       *time.Time `json:"currentPeriodEnd"`
	GenerationsThisMonth   int        `json:"generationsThisMonth"`
	LastGenerationReset    time.Time  `json:"lastGenerationReset"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// NewFreeSubscription returns the row materialized for a user seen for the first time.
func NewFreeSubscription(userID string, now time.Time) *Subscription {
	return &Subscription{
		UserID:              userID,
		Tier:                tier.Free,
		LastGenerationReset: now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

type DrumGeneration struct {
	ID        string           `json:"id"`
	UserID    *string          `json:"userId"`
	Prompt    string           `json:"prompt"`
	BPM       *int             `json:"bpm"`
	AudioURL  *string          `json:"audioUrl"`
	Status    GenerationStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// BillingEvent is the audit record of a verified webhook delivery.
type BillingEvent struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	CustomerRef string    `json:"customerRef"`
	RawPayload  string    `json:"-"`
	ReceivedAt  time.Time `json:"receivedAt"`
}
