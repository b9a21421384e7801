package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"rifas-backend/internal/config"
	"rifas-backend/internal/logger"
	"rifas-backend/internal/models"
	"rifas-backend/internal/payment/epayco"
	"rifas-backend/internal/utils"
)

var (
	// ErrRaffleNotFound is returned when the raffle does not exist.
	ErrRaffleNotFound = errors.New("raffle not found")
	// ErrPoolNotReady is returned when the raffle's ticket pool is missing or
	// only partially generated. Such a raffle must not be sold.
	ErrPoolNotReady = errors.New("ticket pool not ready")
	// ErrInvalidQuantity is returned when the requested quantity is outside
	// the raffle's purchase bounds.
	ErrInvalidQuantity = errors.New("invalid ticket quantity")
	// ErrInsufficientInventory is returned when the advisory availability
	// check finds fewer tickets than requested.
	ErrInsufficientInventory = errors.New("not enough tickets available")
	// ErrGateway is returned when the payment gateway could not open a
	// checkout session. The transaction is left in error state.
	ErrGateway = errors.New("payment gateway unavailable")
)

// Ledger is the slice of the settlement ledger checkout needs.
type Ledger interface {
	CreatePending(ctx context.Context, tx *models.Transaction) error
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	RecordSessionData(ctx context.Context, reference, sessionData string) error
	MarkError(ctx context.Context, reference, detail string) error
}

// TicketStore is the slice of the ticket pool store checkout needs.
type TicketStore interface {
	GetRaffle(ctx context.Context, raffleID string) (*models.Raffle, error)
	PoolReady(ctx context.Context, raffleID string, total int) (bool, error)
	CountAvailable(ctx context.Context, raffleID string) (int, error)
	NumbersByBuyer(ctx context.Context, raffleID, buyerID, buyerDocument string) ([]string, error)
}

// BuyerStore resolves the authenticated buyer for the gateway billing block.
type BuyerStore interface {
	GetByID(ctx context.Context, buyerID string) (*models.Buyer, error)
}

// Gateway opens checkout sessions.
type Gateway interface {
	Login(ctx context.Context) (string, error)
	CreateSession(ctx context.Context, token string, session epayco.SessionRequest) (*models.PaymentSession, []byte, error)
}

// PaymentRequest is a buyer's intent to purchase numbers in a raffle. The
// price is never taken from the client; it is computed from the raffle row.
type PaymentRequest struct {
	RaffleID string `json:"rifa_id"`
	Quantity int    `json:"cantidad"`
	BuyerID  string `json:"-"`
	Document string `json:"-"`
	ClientIP string `json:"-"`
}

// PaymentCreated is what the frontend needs to open the payment widget.
type PaymentCreated struct {
	Reference string                 `json:"referencia"`
	Total     float64                `json:"valor_total"`
	UnitPrice float64                `json:"precio_unitario"`
	Quantity  int                    `json:"cantidad"`
	Session   *models.PaymentSession `json:"sesion"`
}

// Service drives the purchase flow up to the gateway handoff. No numbers are
// touched here: allocation only ever happens when the gateway confirms the
// payment.
type Service struct {
	Ledger  Ledger
	Tickets TicketStore
	Buyers  BuyerStore
	Gateway Gateway
	Logger  *logger.Logger
	Raffle  config.RaffleConfig
	EPayco  config.EPaycoConfig
}

// CreatePayment registers a pending transaction and opens a gateway checkout
// session for it. The reference it returns is the key every later
// notification and poll uses.
func (s *Service) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentCreated, error) {
	raffle, err := s.Tickets.GetRaffle(ctx, req.RaffleID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRaffleNotFound, req.RaffleID)
	}

	minQ, maxQ := s.bounds(raffle)
	if req.Quantity < minQ || req.Quantity > maxQ {
		return nil, fmt.Errorf("%w: %d (allowed %d..%d)", ErrInvalidQuantity, req.Quantity, minQ, maxQ)
	}

	ready, err := s.Tickets.PoolReady(ctx, raffle.ID, raffle.TotalTickets)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, fmt.Errorf("%w: raffle %s", ErrPoolNotReady, raffle.ID)
	}

	// Advisory only. The real check is the conditional claim at allocation
	// time; this one just fails obviously-doomed purchases early.
	available, err := s.Tickets.CountAvailable(ctx, raffle.ID)
	if err != nil {
		return nil, err
	}
	if available < req.Quantity {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientInventory, req.Quantity, available)
	}

	buyer, err := s.Buyers.GetByID(ctx, req.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve buyer %s: %w", req.BuyerID, err)
	}

	unitPrice := raffle.UnitPrice
	if unitPrice <= 0 {
		unitPrice = s.Raffle.UnitPrice
	}
	total := unitPrice * float64(req.Quantity)

	reference := utils.GenerateReference(raffle.ID)
	tx := &models.Transaction{
		Reference:     reference,
		RaffleID:      raffle.ID,
		BuyerID:       buyer.ID,
		BuyerDocument: buyer.DocumentNumber,
		Quantity:      req.Quantity,
		UnitPrice:     unitPrice,
		Total:         total,
	}
	if err := s.Ledger.CreatePending(ctx, tx); err != nil {
		return nil, err
	}
	s.Logger.LogWebhook(reference, fmt.Sprintf("pending transaction created: %d numbers, total %.0f", req.Quantity, total))

	session, raw, err := s.openSession(ctx, raffle, buyer, reference, req, total)
	if err != nil {
		if markErr := s.Ledger.MarkError(ctx, reference, err.Error()); markErr != nil {
			s.Logger.Error("CHECKOUT", fmt.Sprintf("[%s] failed to mark errored: %v", reference, markErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if err := s.Ledger.RecordSessionData(ctx, reference, string(raw)); err != nil {
		s.Logger.Warn("CHECKOUT", fmt.Sprintf("[%s] failed to record session data: %v", reference, err))
	}

	return &PaymentCreated{
		Reference: reference,
		Total:     total,
		UnitPrice: unitPrice,
		Quantity:  req.Quantity,
		Session:   session,
	}, nil
}

func (s *Service) openSession(ctx context.Context, raffle *models.Raffle, buyer *models.Buyer, reference string, req PaymentRequest, total float64) (*models.PaymentSession, []byte, error) {
	token, err := s.Gateway.Login(ctx)
	if err != nil {
		return nil, nil, err
	}

	return s.Gateway.CreateSession(ctx, token, epayco.SessionRequest{
		Name:               raffle.Title,
		Description:        fmt.Sprintf("%d numeros - %s", req.Quantity, raffle.Title),
		Invoice:            reference,
		Currency:           "cop",
		Amount:             strconv.FormatFloat(total, 'f', 0, 64),
		Country:            "CO",
		Test:               s.EPayco.TestMode,
		IP:                 req.ClientIP,
		Response:           s.EPayco.ResponseURL,
		Confirmation:       s.EPayco.ConfirmationURL,
		Extra1:             raffle.ID,
		Extra4:             reference,
		NameBilling:        buyer.FullName(),
		EmailBilling:       buyer.Email,
		NumberDocBilling:   buyer.DocumentNumber,
		MobilePhoneBilling: buyer.Phone,
	})
}

// GetPayment returns the ledger's view of a transaction for status polling.
func (s *Service) GetPayment(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.Ledger.GetByReference(ctx, reference)
}

// MyNumbers lists the numbers the caller owns in a raffle.
func (s *Service) MyNumbers(ctx context.Context, raffleID, buyerID, buyerDocument string) ([]string, error) {
	return s.Tickets.NumbersByBuyer(ctx, raffleID, buyerID, buyerDocument)
}

func (s *Service) bounds(raffle *models.Raffle) (int, int) {
	minQ := raffle.MinQuantity
	if minQ <= 0 {
		minQ = s.Raffle.MinQuantity
	}
	maxQ := raffle.MaxQuantity
	if maxQ <= 0 {
		maxQ = s.Raffle.MaxQuantity
	}
	return minQ, maxQ
}
