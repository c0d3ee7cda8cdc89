package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SettlementHandler exposes the manual-review queue for external settlements.
type SettlementHandler struct {
	settlements *service.SettlementService
}

func NewSettlementHandler(settlements *service.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlements: settlements}
}

// ListManualReview handles GET /v1/settlements/manual-review (admin only).
func (h *SettlementHandler) ListManualReview(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = 50
	}

	settlements, err := h.settlements.ListManualReview(r.Context(), limit, offset)
	if err != nil {
		zap.L().Error("list manual review settlements failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "settlement/manual-review-list-failed", "Failed to list manual review settlements")
		return
	}
	total, err := h.settlements.ManualReviewQueueSize(r.Context())
	if err != nil {
		zap.L().Warn("failed to compute manual review queue size", zap.Error(err))
		total = int64(len(settlements))
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":       settlements,
		"limit":       limit,
		"offset":      offset,
		"count":       len(settlements),
		"total_count": total,
	})
}

type resolveManualReviewRequest struct {
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason"`
	GatewayRef *string `json:"gateway_ref,omitempty"`
}

// Resolve handles POST /v1/settlements/{id}/resolve (admin only).
func (h *SettlementHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	settlementID, ok := pathUUID(w, r, chi.URLParam(r, "id"), "settlement")
	if !ok {
		return
	}

	var req resolveManualReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Decision = strings.TrimSpace(strings.ToLower(req.Decision))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Decision == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-decision", "decision is required")
		return
	}
	if req.Reason == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	result, err := h.settlements.ResolveManualReviewSettlement(r.Context(), service.ResolveManualReviewRequest{
		SettlementID: settlementID,
		Decision:     service.ResolveManualReviewDecision(req.Decision),
		Reason:       req.Reason,
		ActorID:      &principal.ID,
		GatewayRef:   req.GatewayRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSettlementNotFound):
			RespondError(w, r, http.StatusNotFound, "settlement/not-found", "Settlement not found")
		case errors.Is(err, service.ErrSettlementNotInManualReview):
			RespondError(w, r, http.StatusConflict, "settlement/not-in-manual-review", "Settlement is not in manual review")
		case errors.Is(err, service.ErrInvalidManualReviewDecision):
			RespondError(w, r, http.StatusBadRequest, "settlement/invalid-decision", "decision must be confirm_sent or requeue")
		case errors.Is(err, service.ErrInvalidSettlementTransition):
			RespondError(w, r, http.StatusConflict, "settlement/invalid-transition", err.Error())
		default:
			zap.L().Error("resolve manual review settlement failed", zap.Error(err), zap.String("settlement_id", settlementID.String()))
			RespondError(w, r, http.StatusInternalServerError, "settlement/manual-review-resolve-failed", "Failed to resolve manual review settlement")
		}
		return
	}

	RespondJSON(w, http.StatusOK, result)
}
