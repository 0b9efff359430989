package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServer exposes operator endpoints behind basic auth, plus /metrics.
type AdminServer struct {
	addr          string
	username      string
	password      string
	log           *slog.Logger
	subscriptions Subscriptions
	billing       Billing
	router        *chi.Mux
}

func NewAdminServer(addr, username, password string, log *slog.Logger, subscriptions Subscriptions, billing Billing,
	gatherer prometheus.Gatherer) *AdminServer {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &AdminServer{
		addr:          addr,
		username:      username,
		password:      password,
		log:           log,
		subscriptions: subscriptions,
		billing:       billing,
		router:        r,
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.basicAuthMiddleware())
		r.Get("/subscriptions/{userID}", s.handleGetSubscription)
		r.Put("/subscriptions/{userID}/tier", s.handleSetTier)
		r.Post("/subscriptions/{userID}/reset-usage", s.handleResetUsage)
		r.Get("/billing-events", s.handleBillingEvents)
	})
	return s
}

func (s *AdminServer) Handler() http.Handler {
	return s.router
}

func (s *AdminServer) Run(ctx context.Context) error {
	return serve(ctx, s.log, "admin", s.addr, s.router)
}

func (s *AdminServer) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscriptions.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type tierRequest struct {
	Tier string `json:"tier"`
}

func (s *AdminServer) handleSetTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.subscriptions.SetTier(r.Context(), chi.URLParam(r, "userID"), strings.TrimSpace(req.Tier))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *AdminServer) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscriptions.ResetUsage(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *AdminServer) handleBillingEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.billing.RecentEvents(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// basicAuthMiddleware refuses everything when no credentials are configured.
func (s *AdminServer) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || s.password == "" ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="drumgen"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *AdminServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	respondError(s.log, w, r, err)
}
