package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/digkill/drumgen/internal/metering"
	"github.com/digkill/drumgen/internal/metrics"
	"github.com/digkill/drumgen/internal/models"
	"github.com/digkill/drumgen/internal/service"
)

type Generations interface {
	Generate(ctx context.Context, userID *string, in service.GenerateInput) (*models.DrumGeneration, error)
	Get(ctx context.Context, id string) (*models.DrumGeneration, error)
	History(ctx context.Context, limit int) ([]models.DrumGeneration, error)
	ForUser(ctx context.Context, userID string, limit int) ([]models.DrumGeneration, error)
}

type Subscriptions interface {
	Overview(ctx context.Context, userID string) (*service.Overview, error)
	CanGenerate(ctx context.Context, userID string) (metering.Decision, error)
	Get(ctx context.Context, userID string) (*models.Subscription, error)
	SetTier(ctx context.Context, userID, raw string) (*models.Subscription, error)
	ResetUsage(ctx context.Context, userID string) (*models.Subscription, error)
}

type Billing interface {
	Checkout(ctx context.Context, userID, email string, in service.CheckoutInput) (string, error)
	Portal(ctx context.Context, userID string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	RecentEvents(ctx context.Context, limit int) ([]models.BillingEvent, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options carries the public listener's tunables.
type Options struct {
	Addr               string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server is the public JSON API.
type Server struct {
	addr          string
	log           *slog.Logger
	generations   Generations
	subscriptions Subscriptions
	billing       Billing
	verifier      *Verifier
	db            Pinger
	limiter       *clientLimiter
	handler       http.Handler
}

func NewServer(opts Options, log *slog.Logger, generations Generations, subscriptions Subscriptions, billing Billing,
	verifier *Verifier, db Pinger, m *metrics.Metrics) *Server {
	s := &Server{
		addr:          opts.Addr,
		log:           log,
		generations:   generations,
		subscriptions: subscriptions,
		billing:       billing,
		verifier:      verifier,
		db:            db,
		limiter:       newClientLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/pricing", s.handlePricing)
	r.Get("/history", s.handleHistory)
	r.Get("/generation/{id}", s.handleGetGeneration)
	r.Post("/webhooks/billing", s.handleBillingWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.identify)
		r.With(s.limiter.middleware).Post("/generate", s.handleGenerate)

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)
			r.Get("/my-generations", s.handleMyGenerations)
			r.Get("/subscription", s.handleSubscription)
			r.Get("/can-generate", s.handleCanGenerate)
			r.Post("/checkout", s.handleCheckout)
			r.Post("/billing-portal", s.handleBillingPortal)
		})
	})

	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}).Handler(r)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Run(ctx context.Context) error {
	return serve(ctx, s.log, "api", s.addr, s.handler)
}

func serve(ctx context.Context, log *slog.Logger, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation waits on the audio provider and then on archival.
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "server", name, "err", err)
		}
	}()

	log.Info("server listening", "server", name, "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s listen: %w", name, err)
	}
	return nil
}
