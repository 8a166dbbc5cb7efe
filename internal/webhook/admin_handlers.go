package webhook

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lapak-dev/backend-lapak/internal/audit"
	"github.com/lapak-dev/backend-lapak/internal/common"
)

// AdminStore is the read surface behind the operator endpoints.
type AdminStore interface {
	ListAttempts(ctx context.Context, f audit.AttemptFilter) ([]audit.Attempt, error)
	AttemptStatsSince(ctx context.Context, since time.Time) ([]audit.AttemptStats, error)
}

// AdminHandler serves callback attempt inspection for operators.
type AdminHandler struct {
	Store      AdminStore
	DefaultPer int
}

// Routes mounts the admin attempt endpoints.
func (h AdminHandler) Routes(r chi.Router) {
	r.Get("/admin/webhooks/attempts", h.ListAttempts)
	r.Get("/admin/webhooks/stats", h.Stats)
}

type attemptItem struct {
	ID             string     `json:"id"`
	Gateway        string     `json:"gateway"`
	GatewayRef     string     `json:"gatewayRef,omitempty"`
	OrderID        string     `json:"orderId,omitempty"`
	PayloadHash    string     `json:"payloadHash"`
	SignatureValid bool       `json:"signatureValid"`
	Result         string     `json:"result"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	ErrorDetail    string     `json:"errorDetail,omitempty"`
	SourceIP       string     `json:"sourceIp,omitempty"`
	ReceivedAt     time.Time  `json:"receivedAt"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
}

// ListAttempts returns recent attempts, filterable by gateway, reference,
// order, result and age.
func (h AdminHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	def := h.DefaultPer
	if def <= 0 {
		def = 50
	}
	page, perPage := common.ParsePagination(r, def, 500)
	filter := audit.AttemptFilter{
		Gateway:    strings.TrimSpace(q.Get("gateway")),
		GatewayRef: strings.TrimSpace(q.Get("gatewayRef")),
		OrderID:    strings.TrimSpace(q.Get("orderId")),
		Result:     audit.Result(strings.TrimSpace(q.Get("result"))),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			filter.Since = time.Now().Add(-d)
		}
	}

	attempts, err := h.Store.ListAttempts(r.Context(), filter)
	if err != nil {
		common.JSONError(w, common.HTTPStatusFor(err, http.StatusInternalServerError),
			common.ErrorCode(err), "unable to list attempts", nil)
		return
	}
	items := make([]attemptItem, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, attemptItem{
			ID:             a.ID,
			Gateway:        a.Gateway,
			GatewayRef:     a.GatewayRef,
			OrderID:        a.OrderID,
			PayloadHash:    a.PayloadHash,
			SignatureValid: a.SignatureValid,
			Result:         string(a.ProcessingResult),
			ErrorCode:      a.ErrorCode,
			ErrorDetail:    a.ErrorDetail,
			SourceIP:       a.SourceIP,
			ReceivedAt:     a.ReceivedAt,
			DecidedAt:      a.DecidedAt,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"attempts":   items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, Count: len(items)},
	})
}

// Stats aggregates per-gateway outcome counts over a window (default 24h).
func (h AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			window = d
		}
	}
	stats, err := h.Store.AttemptStatsSince(r.Context(), time.Now().Add(-window))
	if err != nil {
		common.JSONError(w, common.HTTPStatusFor(err, http.StatusInternalServerError),
			common.ErrorCode(err), "unable to aggregate attempts", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"window": window.String(),
		"stats":  stats,
	})
}
