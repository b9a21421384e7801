package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"rifas-backend/internal/models"
)

var (
	// ErrUnsupportedSize is returned when a pool size is not one of the
	// configured allowed sizes.
	ErrUnsupportedSize = errors.New("unsupported ticket pool size")
	// ErrPoolExists is returned when tickets were already generated for the
	// raffle.
	ErrPoolExists = errors.New("ticket pool already generated")
	// ErrLostRace is returned by CommitAllocation when another caller claimed
	// one or more of the selected tickets first. Nothing is committed.
	ErrLostRace = errors.New("ticket ownership race lost")
)

const insertChunkSize = 1000

// DB is the ticket pool store: the durable, queryable partition of tickets
// by raffle and ownership state. All ownership mutation goes through
// conditional updates so races surface as affected-row counts, never as
// double-owned tickets.
type DB struct {
	Bun          *bun.DB
	AllowedSizes []int
	PageSize     int
}

// GenerateTickets creates the full pool 0..count-1 for a raffle, zero-padded
// to the pool's width. The insert runs in one transaction: an interrupted
// generation leaves no partial pool behind.
func (d *DB) GenerateTickets(ctx context.Context, raffleID string, count int) error {
	if !d.sizeAllowed(count) {
		return fmt.Errorf("%w: %d", ErrUnsupportedSize, count)
	}

	existing, err := d.CountByRaffle(ctx, raffleID)
	if err != nil {
		return fmt.Errorf("failed to count existing tickets: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: raffle %s has %d tickets", ErrPoolExists, raffleID, existing)
	}

	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < count; start += insertChunkSize {
			end := start + insertChunkSize
			if end > count {
				end = count
			}
			batch := make([]models.Ticket, 0, end-start)
			for n := start; n < end; n++ {
				batch = append(batch, models.Ticket{
					ID:       uuid.NewString(),
					RaffleID: raffleID,
					Number:   models.FormatTicketNumber(n, count),
				})
			}
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert tickets %d..%d: %w", start, end-1, err)
			}
		}
		return nil
	})
}

// PoolReady reports whether the raffle's pool is fully generated. A count
// short of the expected total means generation was interrupted and the
// raffle must not be sold.
func (d *DB) PoolReady(ctx context.Context, raffleID string, total int) (bool, error) {
	count, err := d.CountByRaffle(ctx, raffleID)
	if err != nil {
		return false, err
	}
	return count == total, nil
}

// CountByRaffle returns the total number of tickets generated for a raffle.
func (d *DB) CountByRaffle(ctx context.Context, raffleID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("rifa_id = ?", raffleID).
		Count(ctx)
}

// CountAvailable returns how many tickets are still unowned. Advisory only:
// concurrent allocations can change the answer before the caller acts on it.
func (d *DB) CountAvailable(ctx context.Context, raffleID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("rifa_id = ?", raffleID).
		Where("comprado_por IS NULL").
		Count(ctx)
}

// FetchAvailable returns available tickets, all of them when limit <= 0.
// Reads are keyset-paginated internally so pools larger than any single-page
// query limit come back complete.
func (d *DB) FetchAvailable(ctx context.Context, raffleID string, limit int) ([]models.Ticket, error) {
	pageSize := d.PageSize
	if pageSize <= 0 {
		pageSize = insertChunkSize
	}

	var all []models.Ticket
	lastNumber := ""
	for {
		page := pageSize
		if limit > 0 && limit-len(all) < page {
			page = limit - len(all)
		}
		if page <= 0 {
			break
		}

		var batch []models.Ticket
		q := d.Bun.NewSelect().
			Model(&batch).
			Where("rifa_id = ?", raffleID).
			Where("comprado_por IS NULL").
			Order("numero ASC").
			Limit(page)
		if lastNumber != "" {
			q = q.Where("numero > ?", lastNumber)
		}
		if err := q.Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to fetch available tickets: %w", err)
		}

		all = append(all, batch...)
		if len(batch) < page {
			break
		}
		lastNumber = batch[len(batch)-1].Number
	}
	return all, nil
}

// MarkOwned conditionally claims the given tickets for a buyer: only rows
// still available are touched. The affected-row count is the race detector,
// fewer rows than ids means another allocation got there first. The buyer's
// document is not stored on the ticket; it lives on the numeros_usuario row
// written by CommitAllocation.
func (d *DB) MarkOwned(ctx context.Context, ticketIDs []string, buyerID, transactionID string) (int64, error) {
	return markOwned(ctx, d.Bun, ticketIDs, buyerID, transactionID)
}

func markOwned(ctx context.Context, idb bun.IDB, ticketIDs []string, buyerID, transactionID string) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	res, err := idb.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("comprado_por = ?", buyerID).
		Set("comprado_en = ?", time.Now()).
		Set("transaccion_id = ?", transactionID).
		Where("id IN (?)", bun.In(ticketIDs)).
		Where("comprado_por IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to mark tickets owned: %w", err)
	}
	return res.RowsAffected()
}

// CommitAllocation claims the selected tickets and writes their ownership
// rows in a single transaction. If any selected ticket was taken in the
// meantime the whole commit rolls back and ErrLostRace is returned, so a
// caller never ends up with a partial claim. The ownership rows reuse the
// numbers already drawn, there is never a second draw.
func (d *DB) CommitAllocation(ctx context.Context, selection []models.Ticket, buyerID, buyerDocument, transactionID string) error {
	ids := make([]string, len(selection))
	for i, t := range selection {
		ids[i] = t.ID
	}

	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		changed, err := markOwned(ctx, tx, ids, buyerID, transactionID)
		if err != nil {
			return err
		}
		if changed != int64(len(ids)) {
			return fmt.Errorf("%w: claimed %d of %d", ErrLostRace, changed, len(ids))
		}

		ownerships := make([]models.TicketOwnership, len(selection))
		for i, t := range selection {
			ownerships[i] = models.TicketOwnership{
				ID:            uuid.NewString(),
				Number:        t.Number,
				RaffleID:      t.RaffleID,
				BuyerID:       buyerID,
				BuyerDocument: buyerDocument,
				TransactionID: transactionID,
				AssignedAt:    time.Now(),
			}
		}
		if _, err := tx.NewInsert().Model(&ownerships).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert ownership records: %w", err)
		}
		return nil
	})
}

// NumbersByTransaction returns the numbers already assigned to a transaction,
// ascending. Used to recover from a fulfillment that allocated but died
// before the ledger write.
func (d *DB) NumbersByTransaction(ctx context.Context, transactionID string) ([]string, error) {
	var numbers []string
	err := d.Bun.NewSelect().
		Model((*models.TicketOwnership)(nil)).
		Column("numero").
		Where("transaccion_id = ?", transactionID).
		Order("numero ASC").
		Scan(ctx, &numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch numbers for transaction %s: %w", transactionID, err)
	}
	return numbers, nil
}

// NumbersByBuyer returns the numbers a buyer owns in a raffle, matching by
// buyer id or by the legacy document number.
func (d *DB) NumbersByBuyer(ctx context.Context, raffleID, buyerID, buyerDocument string) ([]string, error) {
	var numbers []string
	q := d.Bun.NewSelect().
		Model((*models.TicketOwnership)(nil)).
		Column("numero").
		Where("rifa_id = ?", raffleID).
		Order("numero ASC")
	if buyerDocument != "" {
		q = q.Where("(usuario_id = ? OR numero_documento = ?)", buyerID, buyerDocument)
	} else {
		q = q.Where("usuario_id = ?", buyerID)
	}
	if err := q.Scan(ctx, &numbers); err != nil {
		return nil, fmt.Errorf("failed to fetch numbers for buyer: %w", err)
	}
	return numbers, nil
}

// DeleteByRaffle removes a raffle's tickets and ownership rows. Raffle
// deletion is the only path that un-owns a ticket.
func (d *DB) DeleteByRaffle(ctx context.Context, raffleID string) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.TicketOwnership)(nil)).
			Where("rifa_id = ?", raffleID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete ownership records: %w", err)
		}
		if _, err := tx.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("rifa_id = ?", raffleID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete tickets: %w", err)
		}
		return nil
	})
}

// GetRaffle fetches one raffle row.
func (d *DB) GetRaffle(ctx context.Context, raffleID string) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffle).
		Where("id = ?", raffleID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &raffle, nil
}

func (d *DB) sizeAllowed(count int) bool {
	for _, size := range d.AllowedSizes {
		if count == size {
			return true
		}
	}
	return false
}
