package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/digkill/drumgen/internal/audio"
	"github.com/digkill/drumgen/internal/billing"
	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// memSubscriptions mirrors the repository's row-lock semantics with a mutex.
type memSubscriptions struct {
	mu   sync.Mutex
	rows map[string]models.Subscription
}

func newMemSubscriptions() *memSubscriptions {
	return &memSubscriptions{rows: make(map[string]models.Subscription)}
}

func (m *memSubscriptions) put(sub models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sub.UserID] = sub
}

func (m *memSubscriptions) get(userID string) (models.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[userID]
	return sub, ok
}

func (m *memSubscriptions) FindByUserID(_ context.Context, userID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[userID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *memSubscriptions) Ensure(_ context.Context, userID string, now time.Time) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[userID]; !ok {
		m.rows[userID] = *models.NewFreeSubscription(userID, now)
	}
	sub := m.rows[userID]
	return &sub, nil
}

func (m *memSubscriptions) Mutate(_ context.Context, userID string, now time.Time, fn func(*models.Subscription) error) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[userID]
	if !ok {
		sub = *models.NewFreeSubscription(userID, now)
	}
	if err := fn(&sub); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now
	m.rows[userID] = sub
	return &sub, nil
}

func (m *memSubscriptions) MutateByCustomer(_ context.Context, customerRef string, now time.Time, fn func(*models.Subscription) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sub := range m.rows {
		if sub.BillingCustomerRef == nil || *sub.BillingCustomerRef != customerRef {
			continue
		}
		if err := fn(&sub); err != nil {
			return 0, err
		}
		sub.UpdatedAt = now
		m.rows[id] = sub
		n++
	}
	return n, nil
}

type memGenerations struct {
	mu        sync.Mutex
	rows      map[string]*models.DrumGeneration
	completes int
}

func newMemGenerations() *memGenerations {
	return &memGenerations{rows: make(map[string]*models.DrumGeneration)}
}

func (m *memGenerations) Create(_ context.Context, g *models.DrumGeneration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.rows[g.ID] = &cp
	return nil
}

func (m *memGenerations) Complete(_ context.Context, id, audioURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[id]
	if !ok {
		return repository.ErrGenerationNotFound
	}
	g.AudioURL = &audioURL
	g.Status = models.GenerationCompleted
	m.completes++
	return nil
}

func (m *memGenerations) GetByID(_ context.Context, id string) (*models.DrumGeneration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memGenerations) ListRecentCompleted(_ context.Context, limit int) ([]models.DrumGeneration, error) {
	return m.list(limit, func(g *models.DrumGeneration) bool { return g.Status == models.GenerationCompleted }), nil
}

func (m *memGenerations) ListByUser(_ context.Context, userID string, limit int) ([]models.DrumGeneration, error) {
	return m.list(limit, func(g *models.DrumGeneration) bool { return g.UserID != nil && *g.UserID == userID }), nil
}

func (m *memGenerations) list(limit int, keep func(*models.DrumGeneration) bool) []models.DrumGeneration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.DrumGeneration{}
	for _, g := range m.rows {
		if keep(g) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memEvents struct {
	mu     sync.Mutex
	events []models.BillingEvent
}

func (m *memEvents) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEvents) Record(_ context.Context, ev *models.BillingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memEvents) ListRecent(_ context.Context, limit int) ([]models.BillingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) < limit {
		limit = len(m.events)
	}
	return append([]models.BillingEvent(nil), m.events[:limit]...), nil
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	args := m.Called(ctx, email, userID)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	args := m.Called(ctx, customerRef, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	args := m.Called(payload, signature)
	return args.Get(0).(billing.Event), args.Error(1)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Generate(ctx context.Context, req audio.Request) audio.Outcome {
	args := m.Called(ctx, req)
	return args.Get(0).(audio.Outcome)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, sourceURL string) (string, error) {
	args := m.Called(ctx, sourceURL)
	return args.String(0), args.Error(1)
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}
