package api

import (
	"fmt"
	"io"
	"net/http"

	"rifas-backend/internal/logger"
	"rifas-backend/internal/settlement"
	"rifas-backend/internal/utils"
)

// maxPayloadBytes bounds webhook bodies. Gateway payloads are tiny; anything
// larger is not a notification.
const maxPayloadBytes = 1 << 20

type Handler struct {
	Machine *settlement.Machine
	Logger  *logger.Logger
}

func NewHandler(machine *settlement.Machine, log *logger.Logger) *Handler {
	return &Handler{Machine: machine, Logger: log}
}

// Confirmation receives gateway payment notifications.
// POST /api/pagos/confirmacion
//
// The gateway retries on non-200 and eventually flags the confirmation URL
// broken, so this endpoint acknowledges everything it can read, including
// notifications it cannot process. Failed processing is logged and healed by
// the next redelivery, never surfaced as an error status.
func (h *Handler) Confirmation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Confirmation: failed to read body: %v", err))
		utils.WriteJSON(w, http.StatusOK, utils.ErrorResponse("Notification received", "unreadable body"))
		return
	}

	notification, err := settlement.Normalize(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("Confirmation: unrecognized payload, acknowledged: %v", err))
		utils.WriteJSON(w, http.StatusOK, utils.ErrorResponse("Notification received", "unrecognized payload"))
		return
	}

	h.Logger.LogWebhook(notification.Reference, fmt.Sprintf("notification received: status=%s ref_payco=%s", notification.Status, notification.RefPayco))

	result, err := h.Machine.Process(r.Context(), notification)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Confirmation: processing failed for %s: %v", notification.Reference, err))
		utils.WriteJSON(w, http.StatusOK, utils.ErrorResponse("Notification received", "processing failed, will retry on redelivery"))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Notification processed", result))
}
