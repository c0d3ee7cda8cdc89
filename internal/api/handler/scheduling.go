package handler

import (
	"net/http"

	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-chi/chi/v5"
)

type SchedulingHandler struct {
	scheduler *service.SchedulingManager
}

func NewSchedulingHandler(scheduler *service.SchedulingManager) *SchedulingHandler {
	return &SchedulingHandler{scheduler: scheduler}
}

// ListMine handles GET /v1/scheduling/my-schedules.
func (h *SchedulingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	rows, err := h.scheduler.ListMine(r.Context(), principal)
	if err != nil {
		RespondDomainError(w, r, "list_schedules", err)
		return
	}
	if rows == nil {
		rows = []models.ScheduledTransfer{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
}

// Cancel handles PUT /v1/scheduling/{id}/cancelar where id is the transfer id.
func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrRespond(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "transfer")
	if !ok {
		return
	}
	rec, err := h.scheduler.Cancel(r.Context(), principal, id)
	if err != nil {
		RespondDomainError(w, r, "cancel_schedule", err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}
