package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/drumgen/internal/service"
	"github.com/digkill/drumgen/internal/tier"
)

const maxWebhookBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tier.All())
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var in service.GenerateInput
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	var userID *string
	if id, ok := IdentityFrom(r.Context()); ok {
		userID = &id.UserID
	}
	rec, err := s.generations.Generate(r.Context(), userID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.generations.History(r.Context(), queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleMyGenerations(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	list, err := s.generations.ForUser(r.Context(), id.UserID, queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	rec, err := s.generations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	ov, err := s.subscriptions.Overview(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

type canGenerateResponse struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleCanGenerate(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	d, err := s.subscriptions.CanGenerate(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, canGenerateResponse{Allowed: d.Allowed, Remaining: d.Remaining, Reason: d.Reason})
}

type urlResponse struct {
	URL string `json:"url"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var in service.CheckoutInput
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	id, _ := IdentityFrom(r.Context())
	url, err := s.billing.Checkout(r.Context(), id.UserID, id.Email, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: url})
}

func (s *Server) handleBillingPortal(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	url, err := s.billing.Portal(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: url})
}

// handleBillingWebhook hands the unparsed body to verification; the
// signature covers these exact bytes.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body error")
		return
	}
	if err := s.billing.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

var errMalformedBody = errors.New("malformed request body")

// decodeBody accepts an empty body. A value of the wrong JSON type is
// reported against its field; anything else unreadable is errMalformedBody.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &service.ValidationError{Fields: map[string]string{typeErr.Field: "is invalid"}}
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
