// Package handler exposes the discount engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
)

// Manager is the engine surface the handler needs.
type Manager interface {
	Assign(ctx context.Context, userID, code string, opts discount.AssignOptions) error
	Revoke(ctx context.Context, userID, code string) error
	EligibleFor(ctx context.Context, userID string, ectx discount.EligibilityContext) ([]*discount.Assignment, error)
	Apply(ctx context.Context, userID string, amount decimal.Decimal, actx discount.ApplyContext) (decimal.Decimal, error)
}

// Handler translates HTTP requests into engine calls.
type Handler struct {
	engine Manager
}

// New constructs a Handler around the given engine.
func New(engine Manager) *Handler {
	return &Handler{engine: engine}
}

// Register mounts the discount routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users/{user}/discounts/apply", h.apply)
	mux.HandleFunc("POST /api/users/{user}/discounts/{code}", h.assign)
	mux.HandleFunc("DELETE /api/users/{user}/discounts/{code}", h.revoke)
	mux.HandleFunc("GET /api/users/{user}/discounts", h.eligible)
}

// errorResponse is the JSON body for all error statuses.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without leaking internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, discount.ErrDiscountNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, discount.ErrNotEligible):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, discount.ErrNegativeAmount):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, discount.ErrUsageExceeded):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, discount.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		status, message = http.StatusServiceUnavailable, "temporarily unavailable, retry"
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: http.StatusBadRequest, Message: message})
}
