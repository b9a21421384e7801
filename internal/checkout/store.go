package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"rifas-backend/internal/models"
)

// ErrBuyerNotFound is returned when no buyer matches the id.
var ErrBuyerNotFound = errors.New("buyer not found")

// Buyers reads registered users for the checkout billing block.
type Buyers struct {
	Bun *bun.DB
}

func (b *Buyers) GetByID(ctx context.Context, buyerID string) (*models.Buyer, error) {
	var buyer models.Buyer
	err := b.Bun.NewSelect().
		Model(&buyer).
		Where("id = ?", buyerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBuyerNotFound, buyerID)
		}
		return nil, fmt.Errorf("failed to fetch buyer %s: %w", buyerID, err)
	}
	return &buyer, nil
}
