package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
)

type assignRequest struct {
	AssignedAt *time.Time      `json:"assignedAt,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
}

type applyRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	OrderID string          `json:"orderId,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

type applyResponse struct {
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
}

type eligibleDiscount struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Priority    int             `json:"priority"`
	IsStackable bool            `json:"isStackable"`
	UsageCount  int             `json:"usageCount"`
	AssignedAt  time.Time       `json:"assignedAt"`
}

type eligibleResponse struct {
	Discounts []eligibleDiscount `json:"discounts"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	code := r.PathValue("code")

	var req assignRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
	}
	if len(req.Context) > 0 && !json.Valid(req.Context) {
		badRequest(w, "context must be valid JSON")
		return
	}

	opts := discount.AssignOptions{Context: req.Context}
	if req.AssignedAt != nil {
		opts.AssignedAt = *req.AssignedAt
	}

	if err := h.engine.Assign(r.Context(), userID, code, opts); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	code := r.PathValue("code")

	if err := h.engine.Revoke(r.Context(), userID, code); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) eligible(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	amount := decimal.Zero
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			badRequest(w, "invalid amount")
			return
		}
		amount = parsed
	}

	assignments, err := h.engine.EligibleFor(r.Context(), userID, discount.EligibilityContext{Amount: amount})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := eligibleResponse{Discounts: make([]eligibleDiscount, 0, len(assignments))}
	for _, a := range assignments {
		d := a.Discount
		resp.Discounts = append(resp.Discounts, eligibleDiscount{
			Code:        d.Code,
			Name:        d.Name,
			Type:        string(d.Type),
			Value:       d.Value,
			Priority:    d.Priority,
			IsStackable: d.IsStackable,
			UsageCount:  a.UsageCount,
			AssignedAt:  a.AssignedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(req.Context) > 0 && !json.Valid(req.Context) {
		badRequest(w, "context must be valid JSON")
		return
	}

	final, err := h.engine.Apply(r.Context(), userID, req.Amount, discount.ApplyContext{
		OrderID: req.OrderID,
		Context: req.Context,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, applyResponse{
		OriginalAmount: req.Amount,
		FinalAmount:    final,
	})
}
