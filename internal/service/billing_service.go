package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/drumgen/internal/billing"
	"github.com/digkill/drumgen/internal/metering"
	"github.com/digkill/drumgen/internal/metrics"
	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/notify"
	"github.com/digkill/drumgen/internal/tier"
)

// Gateway is the billing processor as seen by the subscription lifecycle.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
	ParseWebhook(payload []byte, signature string) (billing.Event, error)
}

// EventLog records processed webhook deliveries.
type EventLog interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, ev *models.BillingEvent) error
	ListRecent(ctx context.Context, limit int) ([]models.BillingEvent, error)
}

type CheckoutInput struct {
	Tier string `json:"tier" validate:"required,oneof=basic pro premium"`
}

type BillingService struct {
	gateway  Gateway
	prices   billing.PriceTable
	subs     SubscriptionStore
	events   EventLog
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	baseURL  string
	now      func() time.Time
}

// NewBillingService wires the lifecycle. A nil gateway means billing is not configured.
func NewBillingService(gateway Gateway, prices billing.PriceTable, subs SubscriptionStore, events EventLog,
	notifier notify.Notifier, m *metrics.Metrics, log *slog.Logger, baseURL string) *BillingService {
	return &BillingService{
		gateway:  gateway,
		prices:   prices,
		subs:     subs,
		events:   events,
		notifier: notifier,
		metrics:  m,
		log:      log,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *BillingService) Enabled() bool {
	return s.gateway != nil
}

// Checkout opens a hosted checkout for a paid tier, creating the billing
// customer on first purchase.
func (s *BillingService) Checkout(ctx context.Context, userID, email string, in CheckoutInput) (string, error) {
	if err := validateStruct(in); err != nil {
		return "", err
	}
	if s.gateway == nil {
		return "", ErrBillingNotConfigured
	}
	id := tier.ID(in.Tier)
	price, ok := s.prices.PriceForTier(id)
	if !ok {
		return "", ErrTierUnavailable
	}

	customerRef, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CustomerRef: customerRef,
		PriceRef:    price,
		UserID:      userID,
		Tier:        id,
		SuccessURL:  s.baseURL + "/pricing?success=true",
		CancelURL:   s.baseURL + "/pricing?canceled=true",
	})
	if err != nil {
		return "", err
	}
	s.log.Info("checkout session created", "user_id", userID, "tier", id)
	return url, nil
}

func (s *BillingService) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	now := s.now()
	sub, err := s.subs.Ensure(ctx, userID, now)
	if err != nil {
		return "", fmt.Errorf("ensure subscription: %w", err)
	}
	if sub.BillingCustomerRef != nil && *sub.BillingCustomerRef != "" {
		return *sub.BillingCustomerRef, nil
	}

	created, err := s.gateway.CreateCustomer(ctx, email, userID)
	if err != nil {
		return "", err
	}
	var stored string
	_, err = s.subs.Mutate(ctx, userID, now, func(sub *models.Subscription) error {
		// A concurrent checkout may have stored a customer first; keep it.
		if sub.BillingCustomerRef != nil && *sub.BillingCustomerRef != "" {
			stored = *sub.BillingCustomerRef
			return nil
		}
		sub.BillingCustomerRef = &created
		stored = created
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store billing customer: %w", err)
	}
	return stored, nil
}

// Portal opens the processor's self-service page for an existing customer.
func (s *BillingService) Portal(ctx context.Context, userID string) (string, error) {
	if s.gateway == nil {
		return "", ErrBillingNotConfigured
	}
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil || sub.BillingCustomerRef == nil || *sub.BillingCustomerRef == "" {
		return "", ErrNoBillingCustomer
	}
	return s.gateway.CreatePortalSession(ctx, *sub.BillingCustomerRef, s.baseURL+"/pricing")
}

// HandleWebhook verifies payload, applies the event once and logs it.
// Deliveries whose id was already processed are acknowledged untouched.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return ErrBillingNotConfigured
	}
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.metrics.BillingEvent("", "rejected")
		return err
	}

	seen, err := s.events.Seen(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("check billing event: %w", err)
	}
	if seen {
		s.log.Info("duplicate billing event", "event_id", ev.ID, "kind", ev.Kind)
		s.metrics.BillingEvent(string(ev.Kind), "duplicate")
		return nil
	}

	outcome, err := s.ApplyEvent(ctx, ev)
	if err != nil {
		s.metrics.BillingEvent(string(ev.Kind), "failed")
		return err
	}

	if err := s.events.Record(ctx, &models.BillingEvent{
		ID:          ev.ID,
		Kind:        string(ev.Kind),
		CustomerRef: ev.CustomerRef,
		RawPayload:  string(payload),
		ReceivedAt:  s.now(),
	}); err != nil {
		return fmt.Errorf("record billing event: %w", err)
	}
	s.metrics.BillingEvent(string(ev.Kind), outcome)
	return nil
}

// ApplyEvent moves the subscription state machine for one verified event and
// reports "applied" or "ignored". Replaying an event yields the same state.
func (s *BillingService) ApplyEvent(ctx context.Context, ev billing.Event) (string, error) {
	switch ev.Kind {
	case billing.KindCheckoutCompleted:
		return s.checkoutCompleted(ctx, ev)
	case billing.KindPlanChanged:
		return s.planChanged(ctx, ev)
	case billing.KindPlanCanceled:
		return s.planCanceled(ctx, ev)
	case billing.KindPaymentFailed:
		s.log.Error("billing payment failed", "customer_ref", ev.CustomerRef, "invoice_ref", ev.InvoiceRef)
		s.alert(ctx, fmt.Sprintf("Payment failed for customer %s (invoice %s)", ev.CustomerRef, ev.InvoiceRef))
		return "applied", nil
	default:
		s.log.Debug("ignoring billing event", "event_id", ev.ID, "kind", ev.Kind)
		return "ignored", nil
	}
}

func (s *BillingService) checkoutCompleted(ctx context.Context, ev billing.Event) (string, error) {
	if ev.UserID == "" {
		s.log.Warn("checkout completed without user id", "event_id", ev.ID)
		return "ignored", nil
	}
	if !tier.Valid(ev.Tier) {
		s.log.Warn("checkout completed without a known tier", "event_id", ev.ID, "user_id", ev.UserID, "tier", ev.Tier)
		return "ignored", nil
	}
	id := tier.ID(ev.Tier)
	now := s.now()

	_, err := s.subs.Mutate(ctx, ev.UserID, now, func(sub *models.Subscription) error {
		if sub.Tier == id && sameRef(sub.BillingSubscriptionRef, ev.SubscriptionRef) &&
			(ev.CustomerRef == "" || sameRef(sub.BillingCustomerRef, ev.CustomerRef)) {
			return nil
		}
		sub.Tier = id
		if ev.CustomerRef != "" {
			sub.BillingCustomerRef = ref(ev.CustomerRef)
		}
		sub.BillingSubscriptionRef = ref(ev.SubscriptionRef)
		metering.ResetWindow(sub, now)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("apply checkout: %w", err)
	}
	s.log.Info("subscription activated", "user_id", ev.UserID, "tier", id)
	return "applied", nil
}

func (s *BillingService) planChanged(ctx context.Context, ev billing.Event) (string, error) {
	if ev.CustomerRef == "" {
		return "ignored", nil
	}
	id := s.prices.TierForPrice(ev.PriceRef)
	n, err := s.subs.MutateByCustomer(ctx, ev.CustomerRef, s.now(), func(sub *models.Subscription) error {
		sub.Tier = id
		if ev.SubscriptionRef != "" {
			sub.BillingSubscriptionRef = ref(ev.SubscriptionRef)
		}
		sub.CurrentPeriodStart = ev.PeriodStart
		sub.CurrentPeriodEnd = ev.PeriodEnd
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("apply plan change: %w", err)
	}
	if n == 0 {
		s.log.Warn("plan change for unknown customer", "customer_ref", ev.CustomerRef)
		return "ignored", nil
	}
	s.log.Info("subscription plan changed", "customer_ref", ev.CustomerRef, "tier", id)
	return "applied", nil
}

func (s *BillingService) planCanceled(ctx context.Context, ev billing.Event) (string, error) {
	if ev.CustomerRef == "" {
		return "ignored", nil
	}
	n, err := s.subs.MutateByCustomer(ctx, ev.CustomerRef, s.now(), func(sub *models.Subscription) error {
		sub.Tier = tier.Free
		sub.BillingSubscriptionRef = nil
		sub.CurrentPeriodStart = nil
		sub.CurrentPeriodEnd = nil
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("apply cancellation: %w", err)
	}
	if n == 0 {
		s.log.Warn("cancellation for unknown customer", "customer_ref", ev.CustomerRef)
		return "ignored", nil
	}
	s.log.Info("subscription canceled", "customer_ref", ev.CustomerRef)
	s.alert(ctx, fmt.Sprintf("Subscription canceled for customer %s", ev.CustomerRef))
	return "applied", nil
}

// alert never fails the webhook; a lost notification is only logged.
func (s *BillingService) alert(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.log.Warn("operator alert failed", "err", err)
	}
}

func (s *BillingService) RecentEvents(ctx context.Context, limit int) ([]models.BillingEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	events, err := s.events.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list billing events: %w", err)
	}
	return events, nil
}

func ref(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func sameRef(stored *string, v string) bool {
	if stored == nil {
		return v == ""
	}
	return *stored == v
}
