package allocation_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rifas-backend/internal/allocation"
	"rifas-backend/internal/logger"
	"rifas-backend/internal/models"
	ticketdb "rifas-backend/internal/tickets/db"
)

// fakePool is an in-memory Pool that can lose a configurable number of
// commit races before succeeding.
type fakePool struct {
	available   []models.Ticket
	owned       map[string][]string
	loseRaces   int
	fetchCalls  int
	commitCalls int
}

func newFakePool(total int) *fakePool {
	pool := &fakePool{owned: make(map[string][]string)}
	for n := 0; n < total; n++ {
		pool.available = append(pool.available, models.Ticket{
			ID:       models.FormatTicketNumber(n, total),
			RaffleID: "rifa-1",
			Number:   models.FormatTicketNumber(n, total),
		})
	}
	return pool
}

func (p *fakePool) FetchAvailable(_ context.Context, _ string, limit int) ([]models.Ticket, error) {
	p.fetchCalls++
	out := make([]models.Ticket, len(p.available))
	copy(out, p.available)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (p *fakePool) CommitAllocation(_ context.Context, selection []models.Ticket, buyerID, _, transactionID string) error {
	p.commitCalls++
	if p.loseRaces > 0 {
		p.loseRaces--
		return ticketdb.ErrLostRace
	}

	selected := make(map[string]bool, len(selection))
	for _, t := range selection {
		selected[t.ID] = true
		p.owned[transactionID] = append(p.owned[transactionID], t.Number)
	}
	var remaining []models.Ticket
	for _, t := range p.available {
		if !selected[t.ID] {
			remaining = append(remaining, t)
		}
	}
	p.available = remaining
	return nil
}

func newEngine(pool *fakePool, retries int) *allocation.Engine {
	return allocation.NewEngine(pool, logger.NewLogger(), 1, 100, retries)
}

func TestAllocateRejectsQuantityOutOfBounds(t *testing.T) {
	pool := newFakePool(8)
	engine := allocation.NewEngine(pool, logger.NewLogger(), 5, 100, 3)

	_, err := engine.Allocate(context.Background(), "rifa-1", 4, allocation.Owner{BuyerID: "b1"}, "tx-1")
	assert.ErrorIs(t, err, allocation.ErrInvalidQuantity)

	_, err = engine.Allocate(context.Background(), "rifa-1", 101, allocation.Owner{BuyerID: "b1"}, "tx-1")
	assert.ErrorIs(t, err, allocation.ErrInvalidQuantity)

	assert.Zero(t, pool.commitCalls, "no commit may happen on invalid quantity")
}

func TestAllocateInsufficientInventory(t *testing.T) {
	pool := newFakePool(3)
	engine := newEngine(pool, 3)

	_, err := engine.Allocate(context.Background(), "rifa-1", 5, allocation.Owner{BuyerID: "b1"}, "tx-1")
	assert.ErrorIs(t, err, allocation.ErrInsufficientInventory)
	assert.Len(t, pool.available, 3, "pool must be unchanged")
}

func TestAllocateReturnsDistinctSortedSubset(t *testing.T) {
	pool := newFakePool(8)
	engine := newEngine(pool, 3)

	numbers, err := engine.Allocate(context.Background(), "rifa-1", 5, allocation.Owner{BuyerID: "b1"}, "tx-1")
	require.NoError(t, err)
	require.Len(t, numbers, 5)

	assert.True(t, sort.StringsAreSorted(numbers), "numbers must come back ascending")

	seen := make(map[string]bool)
	for _, n := range numbers {
		assert.False(t, seen[n], "number %s assigned twice", n)
		seen[n] = true
		assert.Regexp(t, `^0[0-7]$`, n)
	}

	assert.Len(t, pool.available, 3)
}

func TestAllocateConservation(t *testing.T) {
	// Pool of 8, two buyers wanting 5 each: exactly one succeeds, the other
	// sees insufficient inventory, and no ticket is handed out twice.
	pool := newFakePool(8)
	engine := newEngine(pool, 3)
	ctx := context.Background()

	first, err := engine.Allocate(ctx, "rifa-1", 5, allocation.Owner{BuyerID: "b1"}, "tx-1")
	require.NoError(t, err)
	require.Len(t, first, 5)

	_, err = engine.Allocate(ctx, "rifa-1", 5, allocation.Owner{BuyerID: "b2"}, "tx-2")
	assert.ErrorIs(t, err, allocation.ErrInsufficientInventory)

	assert.Len(t, pool.owned["tx-1"], 5)
	assert.Empty(t, pool.owned["tx-2"])
	assert.Len(t, pool.available, 3)
}

func TestAllocateRetriesAfterLostRace(t *testing.T) {
	pool := newFakePool(8)
	pool.loseRaces = 1
	engine := newEngine(pool, 3)

	numbers, err := engine.Allocate(context.Background(), "rifa-1", 3, allocation.Owner{BuyerID: "b1"}, "tx-1")
	require.NoError(t, err)
	assert.Len(t, numbers, 3)

	assert.Equal(t, 2, pool.fetchCalls, "a lost race must refetch before retrying")
	assert.Equal(t, 2, pool.commitCalls)
}

func TestAllocateConflictWhenRetriesExhausted(t *testing.T) {
	pool := newFakePool(8)
	pool.loseRaces = 10
	engine := newEngine(pool, 3)

	_, err := engine.Allocate(context.Background(), "rifa-1", 3, allocation.Owner{BuyerID: "b1"}, "tx-1")
	assert.ErrorIs(t, err, allocation.ErrConflict)
	assert.Equal(t, 3, pool.commitCalls)
	assert.Empty(t, pool.owned["tx-1"])
}
