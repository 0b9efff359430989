package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/drumgen/internal/metering"
	"github.com/digkill/drumgen/internal/metrics"
	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/tier"
)

// SubscriptionStore is the row-level persistence the metering paths need.
type SubscriptionStore interface {
	FindByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	Ensure(ctx context.Context, userID string, now time.Time) (*models.Subscription, error)
	Mutate(ctx context.Context, userID string, now time.Time, fn func(*models.Subscription) error) (*models.Subscription, error)
	MutateByCustomer(ctx context.Context, customerRef string, now time.Time, fn func(*models.Subscription) error) (int, error)
}

type SubscriptionService struct {
	subs    SubscriptionStore
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Overview is what a user sees about their own plan.
type Overview struct {
	Subscription *models.Subscription `json:"subscription"`
	Limits       tier.Descriptor      `json:"limits"`
	Usage        metering.Usage       `json:"usage"`
}

func NewSubscriptionService(subs SubscriptionStore, m *metrics.Metrics, log *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		subs:    subs,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CanGenerate evaluates the user's entitlement without persisting anything.
func (s *SubscriptionService) CanGenerate(ctx context.Context, userID string) (metering.Decision, error) {
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return metering.Decision{}, fmt.Errorf("load subscription: %w", err)
	}
	return metering.Evaluate(sub, s.now()), nil
}

// RecordGeneration counts one generation, creating a free row on first use.
func (s *SubscriptionService) RecordGeneration(ctx context.Context, userID string) error {
	now := s.now()
	_, err := s.subs.Mutate(ctx, userID, now, func(sub *models.Subscription) error {
		metering.ApplyGeneration(sub, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record generation: %w", err)
	}
	return nil
}

// Admit checks and counts a generation under one row lock. A denial returns
// a *QuotaError and leaves the row unchanged.
func (s *SubscriptionService) Admit(ctx context.Context, userID string) (metering.Decision, error) {
	now := s.now()
	var decision metering.Decision
	_, err := s.subs.Mutate(ctx, userID, now, func(sub *models.Subscription) error {
		decision = metering.Evaluate(sub, now)
		if !decision.Allowed {
			return &QuotaError{Decision: decision}
		}
		metering.ApplyGeneration(sub, now)
		return nil
	})
	if err != nil {
		var qe *QuotaError
		if errors.As(err, &qe) {
			s.metrics.Admission(false)
			return qe.Decision, qe
		}
		return metering.Decision{}, fmt.Errorf("admit generation: %w", err)
	}
	s.metrics.Admission(true)
	return decision, nil
}

// Overview materializes a free row if needed and reports limits and usage.
func (s *SubscriptionService) Overview(ctx context.Context, userID string) (*Overview, error) {
	now := s.now()
	sub, err := s.subs.Ensure(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("ensure subscription: %w", err)
	}
	return &Overview{
		Subscription: sub,
		Limits:       tier.Lookup(sub.Tier),
		Usage:        metering.CurrentUsage(sub, now),
	}, nil
}

func (s *SubscriptionService) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	return sub, nil
}

// SetTier grants a tier by hand, leaving billing refs and usage alone.
func (s *SubscriptionService) SetTier(ctx context.Context, userID, raw string) (*models.Subscription, error) {
	if !tier.Valid(raw) {
		return nil, fieldError("tier", "must be one of free basic pro premium")
	}
	sub, err := s.subs.Mutate(ctx, userID, s.now(), func(sub *models.Subscription) error {
		sub.Tier = tier.ID(raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set tier: %w", err)
	}
	s.log.Info("tier set by admin", "user_id", userID, "tier", raw)
	return sub, nil
}

func (s *SubscriptionService) ResetUsage(ctx context.Context, userID string) (*models.Subscription, error) {
	now := s.now()
	sub, err := s.subs.Mutate(ctx, userID, now, func(sub *models.Subscription) error {
		metering.ResetWindow(sub, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset usage: %w", err)
	}
	s.log.Info("usage reset by admin", "user_id", userID)
	return sub, nil
}
