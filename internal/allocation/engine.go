package allocation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"rifas-backend/internal/logger"
	"rifas-backend/internal/models"
	ticketdb "rifas-backend/internal/tickets/db"
)

var (
	// ErrInvalidQuantity is returned when the requested quantity is outside
	// the configured purchase bounds.
	ErrInvalidQuantity = errors.New("invalid ticket quantity")
	// ErrInsufficientInventory is returned when fewer tickets are available
	// than requested. The pool is left unchanged.
	ErrInsufficientInventory = errors.New("not enough tickets available")
	// ErrConflict is returned when every commit attempt lost the race for at
	// least one selected ticket. The pool is left unchanged; the caller may
	// retry or surface a sold-out error.
	ErrConflict = errors.New("allocation conflict, tickets claimed concurrently")
)

// Pool is the slice of the ticket store the engine needs.
type Pool interface {
	FetchAvailable(ctx context.Context, raffleID string, limit int) ([]models.Ticket, error)
	CommitAllocation(ctx context.Context, selection []models.Ticket, buyerID, buyerDocument, transactionID string) error
}

// Owner identifies who receives the tickets. BuyerDocument is the legacy
// identity and may be empty.
type Owner struct {
	BuyerID       string
	BuyerDocument string
}

// Engine selects a uniform random subset of a raffle's available tickets and
// claims them for one owner. Concurrent engines never overlap: the store's
// conditional commit is the serialization point, the engine only decides
// which tickets to try for and retries with a fresh view when it loses.
type Engine struct {
	Pool        Pool
	Logger      *logger.Logger
	MinQuantity int
	MaxQuantity int
	Retries     int
}

func NewEngine(pool Pool, log *logger.Logger, minQuantity, maxQuantity, retries int) *Engine {
	if retries < 1 {
		retries = 1
	}
	return &Engine{
		Pool:        pool,
		Logger:      log,
		MinQuantity: minQuantity,
		MaxQuantity: maxQuantity,
		Retries:     retries,
	}
}

// Allocate draws quantity distinct tickets at random from the raffle's
// available pool and commits them to the owner. It returns the assigned
// numbers in ascending order. On ErrInsufficientInventory or ErrConflict
// nothing was committed.
func (e *Engine) Allocate(ctx context.Context, raffleID string, quantity int, owner Owner, transactionID string) ([]string, error) {
	if quantity < e.MinQuantity || (e.MaxQuantity > 0 && quantity > e.MaxQuantity) {
		return nil, fmt.Errorf("%w: %d (allowed %d..%d)", ErrInvalidQuantity, quantity, e.MinQuantity, e.MaxQuantity)
	}

	for attempt := 1; attempt <= e.Retries; attempt++ {
		available, err := e.Pool.FetchAvailable(ctx, raffleID, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch available tickets: %w", err)
		}
		if len(available) < quantity {
			return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientInventory, quantity, len(available))
		}

		if err := shuffle(available); err != nil {
			return nil, fmt.Errorf("failed to shuffle tickets: %w", err)
		}

		// The shuffle decides the selection; the sort below is presentation
		// only.
		selection := make([]models.Ticket, quantity)
		copy(selection, available[:quantity])
		sort.Slice(selection, func(i, j int) bool {
			return selection[i].Number < selection[j].Number
		})

		err = e.Pool.CommitAllocation(ctx, selection, owner.BuyerID, owner.BuyerDocument, transactionID)
		if err == nil {
			numbers := make([]string, quantity)
			for i, t := range selection {
				numbers[i] = t.Number
			}
			e.Logger.LogAllocation(transactionID, fmt.Sprintf("assigned %d numbers for raffle %s (attempt %d)", quantity, raffleID, attempt))
			return numbers, nil
		}
		if !errors.Is(err, ticketdb.ErrLostRace) {
			return nil, fmt.Errorf("failed to commit allocation: %w", err)
		}

		e.Logger.Warn("ALLOCATION", fmt.Sprintf("lost race for raffle %s on attempt %d/%d, refetching", raffleID, attempt, e.Retries))
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrConflict, e.Retries)
}

// shuffle performs an unbiased Fisher–Yates shuffle: for i from the last
// index down to 1, swap element i with a uniformly random element at an
// index <= i.
func shuffle(tickets []models.Ticket) error {
	for i := len(tickets) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := int(n.Int64())
		tickets[i], tickets[j] = tickets[j], tickets[i]
	}
	return nil
}
