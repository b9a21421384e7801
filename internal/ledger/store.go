package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"rifas-backend/internal/models"
)

var (
	// ErrDuplicateReference is returned when a pending transaction with the
	// same reference already exists.
	ErrDuplicateReference = errors.New("transaction reference already exists")
	// ErrNotFound is returned when no transaction matches the reference.
	ErrNotFound = errors.New("transaction not found")
	// ErrAlreadyFulfilled is returned by MarkFulfilled when the transaction
	// already has assigned numbers. The existing numbers stand.
	ErrAlreadyFulfilled = errors.New("transaction already fulfilled")
)

// DB is the settlement ledger: the source of truth for whether a payment has
// been fulfilled, keyed by its unique reference.
type DB struct {
	Bun *bun.DB
}

// CreatePending inserts a new pending transaction. The reference must be
// unique; a collision surfaces as ErrDuplicateReference.
func (d *DB) CreatePending(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.Status = models.StatusPending
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	_, err := d.Bun.NewInsert().Model(tx).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, tx.Reference)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetByReference fetches one transaction by its reference.
func (d *DB) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	err := d.Bun.NewSelect().
		Model(&tx).
		Where("referencia = ?", reference).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
		}
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", reference, err)
	}
	return &tx, nil
}

// RecordGatewayResponse stores the latest raw notification payload and the
// canonical status derived from it. The previous payload is overwritten;
// the latest one is always retained for audit and manual reconciliation.
func (d *DB) RecordGatewayResponse(ctx context.Context, reference, invoice string, rawPayload []byte, status models.Status) error {
	q := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("estado = ?", status).
		Set("datos_respuesta = ?", string(rawPayload)).
		Set("actualizado_en = ?", time.Now()).
		Where("referencia = ?", reference)
	if invoice != "" {
		q = q.Set("invoice = ?", invoice)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record gateway response for %s: %w", reference, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, reference)
	}
	return nil
}

// RecordSessionData stores the gateway checkout session payload created for
// the transaction.
func (d *DB) RecordSessionData(ctx context.Context, reference, sessionData string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("datos_epayco = ?", sessionData).
		Set("actualizado_en = ?", time.Now()).
		Where("referencia = ?", reference).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record session data for %s: %w", reference, err)
	}
	return nil
}

// MarkError flags a transaction whose gateway session could not be created.
func (d *DB) MarkError(ctx context.Context, reference, detail string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("estado = ?", models.StatusError).
		Set("datos_epayco = ?", detail).
		Set("actualizado_en = ?", time.Now()).
		Where("referencia = ?", reference).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark transaction %s errored: %w", reference, err)
	}
	return nil
}

// MarkFulfilled sets status approved and stores the assigned numbers. This is
// the only write path for assigned numbers, and it is conditional: a
// transaction that already has numbers is never overwritten, the call
// returns ErrAlreadyFulfilled instead.
func (d *DB) MarkFulfilled(ctx context.Context, reference string, assignedNumbers []string) error {
	fulfilled := &models.Transaction{
		Status:          models.StatusApproved,
		AssignedNumbers: assignedNumbers,
		UpdatedAt:       time.Now(),
	}
	res, err := d.Bun.NewUpdate().
		Model(fulfilled).
		Column("estado", "numeros_asignados", "actualizado_en").
		Where("referencia = ?", reference).
		Where("numeros_asignados IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark transaction %s fulfilled: %w", reference, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", reference, err)
	}
	if rows == 0 {
		if _, err := d.GetByReference(ctx, reference); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrAlreadyFulfilled, reference)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
