package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/transfer-core/internal/service"
	"go.uber.org/zap"
)

const maxCallbackBody = 64 << 10

// WebhookHandler receives asynchronous notifications from the settlement gateway.
type WebhookHandler struct {
	callbacks *service.SettlementCallbackService
}

func NewWebhookHandler(callbacks *service.SettlementCallbackService) *WebhookHandler {
	return &WebhookHandler{callbacks: callbacks}
}

// HandleSettlementCallback handles POST /v1/webhooks/settlements.
// The body must be signed with X-Signature: sha256=<hex>.
func (h *WebhookHandler) HandleSettlementCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		zap.L().Error("read settlement callback body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := h.callbacks.HandleSettlementCallback(r.Context(), body, r.Header.Get("X-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		case errors.Is(err, service.ErrInvalidCallback):
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
		case errors.Is(err, service.ErrSettlementNotFound):
			RespondError(w, r, http.StatusNotFound, "settlement/not-found", "Settlement not found")
		case errors.Is(err, service.ErrCallbackPayloadMismatch), errors.Is(err, service.ErrInvalidSettlementTransition):
			RespondError(w, r, http.StatusConflict, "webhook/outcome-conflict", err.Error())
		default:
			zap.L().Error("process settlement callback failed", zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "webhook/processing-failed", "Failed to process callback")
		}
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
