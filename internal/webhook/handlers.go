package webhook

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lapak-dev/backend-lapak/internal/common"
)

// maxBodyBytes caps callback payload size. Gateways send small notifications;
// anything larger is abuse.
const maxBodyBytes = 1 << 20

// Handler exposes the callback endpoint.
type Handler struct {
	Processor *Processor
}

// Routes mounts the gateway callback route.
func (h Handler) Routes(r chi.Router) {
	r.Post("/webhooks/payment/{gateway}", h.HandleCallback)
}

// HandleCallback ingests one gateway notification. Success and duplicate both
// answer 200 with the gateway's expected acknowledgment body so redelivery
// stops; every rejection maps to the error taxonomy.
func (h Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if len(body) > maxBodyBytes {
		common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload exceeds limit", nil)
		return
	}

	receipt, err := h.Processor.Process(
		r.Context(), gatewayName, r.Header, body,
		common.ClientIP(r), middleware.GetReqID(r.Context()))
	if err != nil {
		status := common.HTTPStatusFor(err, http.StatusInternalServerError)
		common.JSONError(w, status, common.ErrorCode(err), errorMessage(err), nil)
		return
	}

	ack := receipt.AckBody
	if strings.HasPrefix(strings.TrimSpace(ack), "{") {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}

// errorMessage prefers the stable taxonomy message over raw cause text so
// internals never leak to the gateway.
func errorMessage(err error) string {
	if app, ok := common.AsAppError(err); ok && app.Message != "" {
		return app.Message
	}
	return "callback processing failed"
}
