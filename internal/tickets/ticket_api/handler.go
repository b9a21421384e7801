package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rifas-backend/internal/logger"
	ticketdb "rifas-backend/internal/tickets/db"
	"rifas-backend/internal/utils"
)

type Handler struct {
	Tickets *ticketdb.DB
	Logger  *logger.Logger
}

func NewHandler(tickets *ticketdb.DB, log *logger.Logger) *Handler {
	return &Handler{Tickets: tickets, Logger: log}
}

// GeneratePool creates the full ticket pool for a raffle.
// POST /api/rifas/{rifaID}/numeros/generar
func (h *Handler) GeneratePool(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "rifaID")
	h.Logger.Info("API", fmt.Sprintf("GeneratePool: raffle=%s", raffleID))

	raffle, err := h.Tickets.GetRaffle(r.Context(), raffleID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GeneratePool: raffle not found: %v", err))
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Raffle not found", raffleID))
		return
	}

	// Optional override for the pool size; defaults to the raffle row. An
	// absent body is fine, a malformed one is not.
	var req struct {
		Total int `json:"total_numeros"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.Logger.Error("API", fmt.Sprintf("GeneratePool: malformed body: %v", err))
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
			return
		}
	}
	total := raffle.TotalTickets
	if req.Total > 0 {
		total = req.Total
	}

	if err := h.Tickets.GenerateTickets(r.Context(), raffleID, total); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ticketdb.ErrUnsupportedSize):
			status = http.StatusBadRequest
		case errors.Is(err, ticketdb.ErrPoolExists):
			status = http.StatusConflict
		}
		h.Logger.Error("API", fmt.Sprintf("GeneratePool: %v", err))
		utils.WriteJSON(w, status, utils.ErrorResponse("Could not generate pool", err.Error()))
		return
	}

	h.Logger.LogDatabase("INSERT", "numeros", fmt.Sprintf("generated %d tickets for raffle %s", total, raffleID))
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Pool generated", map[string]interface{}{
		"rifa_id":       raffleID,
		"total_numeros": total,
	}))
}

// AvailableCount reports how many tickets are still unsold. The count is a
// snapshot; concurrent purchases can invalidate it immediately.
// GET /api/rifas/{rifaID}/numeros/disponibles
func (h *Handler) AvailableCount(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "rifaID")

	available, err := h.Tickets.CountAvailable(r.Context(), raffleID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("AvailableCount: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not count tickets", err.Error()))
		return
	}
	total, err := h.Tickets.CountByRaffle(r.Context(), raffleID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("AvailableCount: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not count tickets", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Availability", map[string]interface{}{
		"rifa_id":     raffleID,
		"disponibles": available,
		"total":       total,
	}))
}
