package receipt

import (
	"encoding/json"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"rifas-backend/internal/models"
)

// ErrNotFulfilled is returned when a receipt is requested for a transaction
// that has no assigned numbers yet.
var ErrNotFulfilled = errors.New("transaction has no assigned numbers")

// Payload is what the QR encodes: enough to verify a purchase offline at a
// draw event.
type Payload struct {
	Reference string   `json:"referencia"`
	RaffleID  string   `json:"rifa_id"`
	Buyer     string   `json:"usuario_id"`
	Numbers   []string `json:"numeros"`
	Total     float64  `json:"valor_total"`
}

// Generator renders purchase receipts as QR PNGs.
type Generator struct {
	// Size is the PNG edge length in pixels.
	Size int
}

func NewGenerator() *Generator {
	return &Generator{Size: 256}
}

// ForTransaction renders the receipt QR for a fulfilled transaction.
func (g *Generator) ForTransaction(tx *models.Transaction) ([]byte, error) {
	if !tx.Fulfilled() {
		return nil, fmt.Errorf("%w: %s", ErrNotFulfilled, tx.Reference)
	}

	payload, err := json.Marshal(Payload{
		Reference: tx.Reference,
		RaffleID:  tx.RaffleID,
		Buyer:     tx.BuyerID,
		Numbers:   tx.AssignedNumbers,
		Total:     tx.Total,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt payload: %w", err)
	}

	size := g.Size
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render receipt QR: %w", err)
	}
	return png, nil
}
