package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rifas-backend/internal/auth"
	"rifas-backend/internal/checkout"
	"rifas-backend/internal/ledger"
	"rifas-backend/internal/logger"
	"rifas-backend/internal/receipt"
	"rifas-backend/internal/utils"
)

type Handler struct {
	Service  *checkout.Service
	Receipts *receipt.Generator
	Logger   *logger.Logger
}

func NewHandler(service *checkout.Service, receipts *receipt.Generator, log *logger.Logger) *Handler {
	return &Handler{
		Service:  service,
		Receipts: receipts,
		Logger:   log,
	}
}

// CreatePayment opens a pending transaction and a gateway checkout session.
// POST /api/pagos
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req checkout.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreatePayment: failed to decode request body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	identity := auth.CallerIdentity(r.Context())
	if identity.UserID == "" {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authentication required", "no identity in context"))
		return
	}
	req.BuyerID = identity.UserID
	req.Document = identity.Document
	req.ClientIP = clientIP(r)

	h.Logger.Info("API", fmt.Sprintf("CreatePayment: raffle=%s quantity=%d buyer=%s", req.RaffleID, req.Quantity, req.BuyerID))

	created, err := h.Service.CreatePayment(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, checkout.ErrRaffleNotFound):
			status = http.StatusNotFound
		case errors.Is(err, checkout.ErrInvalidQuantity):
			status = http.StatusBadRequest
		case errors.Is(err, checkout.ErrPoolNotReady), errors.Is(err, checkout.ErrInsufficientInventory):
			status = http.StatusConflict
		case errors.Is(err, checkout.ErrGateway):
			status = http.StatusBadGateway
		}
		h.Logger.Error("API", fmt.Sprintf("CreatePayment: %v", err))
		utils.WriteJSON(w, status, utils.ErrorResponse("Could not create payment", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Payment created", created))
}

// GetPayment returns the ledger's view of a transaction.
// GET /api/pagos/{referencia}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "referencia")
	h.Logger.Info("API", fmt.Sprintf("GetPayment: referencia=%s", reference))

	tx, err := h.Service.GetPayment(r.Context(), reference)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Payment not found", reference))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetPayment: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not fetch payment", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment found", tx))
}

// GetReceipt renders the QR receipt of a fulfilled transaction.
// GET /api/pagos/{referencia}/recibo
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "referencia")
	h.Logger.Info("API", fmt.Sprintf("GetReceipt: referencia=%s", reference))

	tx, err := h.Service.GetPayment(r.Context(), reference)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Payment not found", reference))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetReceipt: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not fetch payment", err.Error()))
		return
	}

	png, err := h.Receipts.ForTransaction(tx)
	if err != nil {
		if errors.Is(err, receipt.ErrNotFulfilled) {
			utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Payment not fulfilled yet", reference))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetReceipt: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not render receipt", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// MyNumbers lists the numbers the caller owns in a raffle.
// GET /api/rifas/{rifaID}/mis-numeros
func (h *Handler) MyNumbers(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "rifaID")
	identity := auth.CallerIdentity(r.Context())
	if identity.UserID == "" {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authentication required", "no identity in context"))
		return
	}

	numbers, err := h.Service.MyNumbers(r.Context(), raffleID, identity.UserID, identity.Document)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("MyNumbers: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not fetch numbers", err.Error()))
		return
	}
	if numbers == nil {
		numbers = []string{}
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Numbers found", numbers))
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
