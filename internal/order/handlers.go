package order

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lapak-dev/backend-lapak/internal/common"
)

// TxRunner runs fn inside one storage transaction bound to a Store.
type TxRunner interface {
	InTxOrder(ctx context.Context, fn func(Store) error) error
}

// Reader is the read-only order surface for admin endpoints.
type Reader interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	ListAuditForOrder(ctx context.Context, orderID string) ([]TransitionAudit, error)
}

// AdminHandlers exposes operator order endpoints, including the manual
// transition escape hatch for support interventions.
type AdminHandlers struct {
	Reader  Reader
	Runner  TxRunner
	Machine Machine
	// Dispatch receives committed transitions for triggered-action fanout.
	// Nil disables fanout.
	Dispatch func(ctx context.Context, tr Transition, actor Actor, requestID string)
}

// Routes mounts the admin order endpoints.
func (h AdminHandlers) Routes(r chi.Router) {
	r.Get("/admin/orders/{id}", h.GetOrder)
	r.Get("/admin/orders/{id}/audit", h.GetAudit)
	r.Patch("/admin/orders/{id}/status", h.PatchStatus)
}

type orderView struct {
	ID          string  `json:"id"`
	BuyerEmail  string  `json:"buyerEmail"`
	Gateway     string  `json:"gateway"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Status      Status  `json:"status"`
	GatewayRef  string  `json:"gatewayRef,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	PaidAt      *string `json:"paidAt,omitempty"`
	DeliveredAt *string `json:"deliveredAt,omitempty"`
	RefundedAt  *string `json:"refundedAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt"`
}

func toView(o Order) orderView {
	v := orderView{
		ID:         o.ID,
		BuyerEmail: o.BuyerEmail,
		Gateway:    o.Gateway,
		Amount:     int64(o.Amount),
		Currency:   o.Currency,
		Status:     o.Status,
		GatewayRef: o.GatewayRef,
		Notes:      o.Notes,
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  o.UpdatedAt.Format(time.RFC3339),
	}
	if o.PaidAt != nil {
		s := o.PaidAt.Format(time.RFC3339)
		v.PaidAt = &s
	}
	if o.DeliveredAt != nil {
		s := o.DeliveredAt.Format(time.RFC3339)
		v.DeliveredAt = &s
	}
	if o.RefundedAt != nil {
		s := o.RefundedAt.Format(time.RFC3339)
		v.RefundedAt = &s
	}
	return v
}

// GetOrder returns a single order.
func (h AdminHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Reader.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, common.HTTPStatusFor(err, http.StatusInternalServerError),
			common.ErrorCode(err), "unable to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"order": toView(o)})
}

// GetAudit returns the order's transition trail.
func (h AdminHandlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Reader.GetOrder(r.Context(), id); err != nil {
		common.JSONError(w, common.HTTPStatusFor(err, http.StatusInternalServerError),
			common.ErrorCode(err), "unable to load order", nil)
		return
	}
	trail, err := h.Reader.ListAuditForOrder(r.Context(), id)
	if err != nil {
		common.JSONError(w, common.HTTPStatusFor(err, http.StatusInternalServerError),
			common.ErrorCode(err), "unable to load audit trail", nil)
		return
	}
	type auditView struct {
		Actor      Actor  `json:"actor"`
		FromStatus Status `json:"fromStatus"`
		ToStatus   Status `json:"toStatus"`
		Gateway    string `json:"gateway,omitempty"`
		GatewayRef string `json:"gatewayRef,omitempty"`
		RequestID  string `json:"requestId,omitempty"`
	}
	items := make([]auditView, 0, len(trail))
	for _, e := range trail {
		items = append(items, auditView{
			Actor:      e.Actor,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Gateway:    e.Gateway,
			GatewayRef: e.GatewayRef,
			RequestID:  e.RequestID,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"audit": items})
}

type patchStatusRequest struct {
	Status Status `json:"status"`
	Notes  string `json:"notes"`
}

// PatchStatus applies a manual transition. The same state machine gates it,
// so an operator cannot move an order anywhere a gateway could not.
func (h AdminHandlers) PatchStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to decode request", nil)
		return
	}
	req.Status = Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !ValidStatus(req.Status) {
		common.JSONError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown status", nil)
		return
	}

	requestID := middleware.GetReqID(r.Context())
	var tr Transition
	err := h.Runner.InTxOrder(r.Context(), func(store Store) error {
		res, err := h.Machine.Apply(r.Context(), store, TransitionRequest{
			OrderID:   id,
			To:        req.Status,
			Actor:     ActorManual,
			Notes:     req.Notes,
			RequestID: requestID,
		})
		if err != nil {
			return err
		}
		tr = res
		return nil
	})
	if err != nil {
		common.JSONError(w, common.HTTPStatusFor(err, http.StatusInternalServerError),
			common.ErrorCode(err), "unable to apply transition", nil)
		return
	}
	if h.Dispatch != nil {
		h.Dispatch(r.Context(), tr, ActorManual, requestID)
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"order":   toView(tr.Order),
		"actions": tr.Actions,
	})
}
