package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/digkill/drumgen/internal/billing"
	"github.com/digkill/drumgen/internal/service"
)

type errorBody struct {
	Error           string            `json:"error"`
	Fields          map[string]string `json:"fields,omitempty"`
	UpgradeRequired bool              `json:"upgradeRequired,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	respondError(s.log, w, r, err)
}

// respondError maps a service error onto a status code. Anything unrecognized
// is logged and reported as a generic 500.
func respondError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *service.ValidationError
		quota *service.QuotaError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Fields: verr.Fields})
	case errors.As(err, &quota):
		writeJSON(w, http.StatusForbidden, errorBody{Error: quota.Decision.Reason, UpgradeRequired: true})
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, service.ErrNoBillingCustomer):
		writeError(w, http.StatusBadRequest, "No subscription found")
	case errors.Is(err, service.ErrTierUnavailable):
		writeError(w, http.StatusBadRequest, "Tier is not available for purchase")
	case errors.Is(err, service.ErrBillingNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Billing is not configured")
	case errors.Is(err, errMalformedBody):
		writeError(w, http.StatusBadRequest, "invalid json")
	case errors.Is(err, billing.ErrInvalidSignature):
		log.Warn("billing webhook rejected", "err", err)
		writeError(w, http.StatusBadRequest, "Invalid signature")
	default:
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
