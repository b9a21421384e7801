package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rifas-backend/internal/allocation"
	"rifas-backend/internal/config"
	"rifas-backend/internal/ledger"
	"rifas-backend/internal/logger"
	"rifas-backend/internal/models"
	"rifas-backend/internal/utils"
)

// Ledger is the slice of the settlement ledger the machine needs.
type Ledger interface {
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	RecordGatewayResponse(ctx context.Context, reference, invoice string, rawPayload []byte, status models.Status) error
	MarkFulfilled(ctx context.Context, reference string, assignedNumbers []string) error
}

// Allocator hands out ticket numbers for an approved transaction.
type Allocator interface {
	Allocate(ctx context.Context, raffleID string, quantity int, owner allocation.Owner, transactionID string) ([]string, error)
}

// TicketReader recovers numbers a previous fulfillment attempt may have
// already committed.
type TicketReader interface {
	NumbersByTransaction(ctx context.Context, transactionID string) ([]string, error)
}

// Gateway resolves bare-reference notifications back to their full state.
type Gateway interface {
	TransactionDetail(ctx context.Context, refPayco string) (*models.TransactionDetail, error)
}

// Publisher emits settlement events. May be nil when the broker is disabled.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Result describes what one notification delivery did. The webhook handler
// acknowledges the gateway regardless; Result only feeds the response body
// and the logs.
type Result struct {
	Reference string        `json:"referencia"`
	Status    models.Status `json:"estado"`
	Known     bool          `json:"conocida"`
	Fulfilled bool          `json:"cumplida"`
	Duplicate bool          `json:"duplicada"`
	Numbers   []string      `json:"numeros_asignados,omitempty"`
}

// PaymentEvent is the payload published on settlement topics.
type PaymentEvent struct {
	Reference string    `json:"referencia"`
	RaffleID  string    `json:"rifa_id"`
	BuyerID   string    `json:"usuario_id"`
	Status    string    `json:"estado"`
	Quantity  int       `json:"cantidad"`
	Numbers   []string  `json:"numeros,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Machine drives a transaction through the settlement state machine. It
// tolerates at-least-once webhook delivery: every delivery refreshes the
// ledger's view of the gateway state, but the allocation side effect runs at
// most once per reference. Three layers enforce that, from advisory to
// authoritative: the claim, the re-read of the ledger and ownership rows,
// and the ledger's conditional fulfillment write.
type Machine struct {
	Ledger  Ledger
	Engine  Allocator
	Tickets TicketReader
	Gateway Gateway
	Claims  Claimer
	Events  Publisher
	Logger  *logger.Logger
	Topics  config.TopicConfig
}

// Process handles one normalized notification. Errors it returns mean the
// delivery could not be fully processed and a redelivery should retry; the
// HTTP layer still acknowledges with 200 so the gateway does not mark the
// confirmation URL broken.
func (m *Machine) Process(ctx context.Context, n *Notification) (*Result, error) {
	if n.NeedsFetch {
		if m.Gateway == nil {
			return nil, fmt.Errorf("notification %s requires a gateway fetch and no gateway is configured", n.RefPayco)
		}
		detail, err := m.Gateway.TransactionDetail(ctx, n.RefPayco)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch transaction detail for %s: %w", n.RefPayco, err)
		}
		n.Reference = detail.Reference
		if n.Reference == "" {
			n.Reference = detail.RefPayco
		}
		n.Status = MapGatewayStatus(detail.Response, detail.ResponseCode)
	}
	if n.Reference == "" {
		return nil, ErrNoReference
	}

	result := &Result{Reference: n.Reference, Status: n.Status}

	tx, err := m.Ledger.GetByReference(ctx, n.Reference)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// A notification for a reference this system never issued.
			// Acknowledged and dropped; fabricating a ledger row here would
			// let the gateway drive allocation for unknown payments.
			m.Logger.LogWebhook(n.Reference, "notification for unknown reference, ignored")
			return result, nil
		}
		return nil, err
	}
	result.Known = true

	// Some confirmation shapes omit the gateway's own id; the ledger still
	// needs an invoice, so mint a local one.
	invoice := n.RefPayco
	if invoice == "" {
		invoice = utils.GenerateInvoiceFallback()
	}
	if err := m.Ledger.RecordGatewayResponse(ctx, n.Reference, invoice, n.Raw, n.Status); err != nil {
		return nil, err
	}

	if n.Status != models.StatusApproved {
		m.Logger.LogWebhook(n.Reference, fmt.Sprintf("status recorded: %s", n.Status))
		if n.Status.Terminal() {
			m.publish(ctx, m.Topics.PaymentRejected, tx, n.Status, nil)
		}
		return result, nil
	}

	return m.fulfill(ctx, tx, result)
}

// fulfill runs the approved branch: allocate once, record the numbers, emit
// events. tx is the ledger row as read before the status refresh.
func (m *Machine) fulfill(ctx context.Context, tx *models.Transaction, result *Result) (*Result, error) {
	reference := tx.Reference

	if tx.Fulfilled() {
		result.Duplicate = true
		result.Fulfilled = true
		result.Numbers = tx.AssignedNumbers
		m.Logger.LogWebhook(reference, "already fulfilled, metadata refreshed only")
		return result, nil
	}

	claimed, err := m.Claims.Claim(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !claimed {
		result.Duplicate = true
		m.Logger.LogWebhook(reference, "fulfillment already in flight, delivery dropped")
		return result, nil
	}

	// Re-read under the claim. Another delivery may have fulfilled between
	// our first read and the claim.
	fresh, err := m.Ledger.GetByReference(ctx, reference)
	if err != nil {
		m.release(ctx, reference)
		return nil, err
	}
	if fresh.Fulfilled() {
		result.Duplicate = true
		result.Fulfilled = true
		result.Numbers = fresh.AssignedNumbers
		m.Logger.LogWebhook(reference, "fulfilled concurrently, nothing to do")
		return result, nil
	}

	// Recovery path: a previous attempt may have committed tickets and died
	// before the ledger write. Those numbers stand; never draw again.
	numbers, err := m.Tickets.NumbersByTransaction(ctx, tx.ID)
	if err != nil {
		m.release(ctx, reference)
		return nil, err
	}
	recovered := len(numbers) > 0
	if recovered {
		m.Logger.LogWebhook(reference, fmt.Sprintf("recovered %d numbers from an interrupted fulfillment", len(numbers)))
	} else {
		numbers, err = m.Engine.Allocate(ctx, tx.RaffleID, tx.Quantity, allocation.Owner{
			BuyerID:       tx.BuyerID,
			BuyerDocument: tx.BuyerDocument,
		}, tx.ID)
		if err != nil {
			m.release(ctx, reference)
			return nil, fmt.Errorf("allocation failed for %s: %w", reference, err)
		}
	}

	if err := m.Ledger.MarkFulfilled(ctx, reference, numbers); err != nil {
		if errors.Is(err, ledger.ErrAlreadyFulfilled) {
			// Only reachable when a replica slipped past every advisory
			// check. The ledger kept its first numbers; the ones committed
			// here are orphaned and need manual reconciliation.
			m.Logger.Error("SETTLEMENT", fmt.Sprintf("[%s] fulfillment raced a replica, %d orphaned numbers: %v", reference, len(numbers), numbers))
			result.Duplicate = true
			result.Fulfilled = true
			return result, nil
		}
		m.release(ctx, reference)
		return nil, err
	}

	result.Fulfilled = true
	result.Duplicate = recovered
	result.Numbers = numbers
	m.Logger.LogWebhook(reference, fmt.Sprintf("fulfilled with %d numbers", len(numbers)))

	m.publish(ctx, m.Topics.PaymentApproved, tx, models.StatusApproved, nil)
	m.publish(ctx, m.Topics.NumbersAssigned, tx, models.StatusApproved, numbers)

	// The claim is left to expire. Releasing here would open a window where
	// a redelivery claims before the ledger write is visible to its re-read.
	return result, nil
}

func (m *Machine) release(ctx context.Context, reference string) {
	if err := m.Claims.Release(ctx, reference); err != nil {
		m.Logger.Warn("SETTLEMENT", fmt.Sprintf("[%s] failed to release claim: %v", reference, err))
	}
}

func (m *Machine) publish(ctx context.Context, topic string, tx *models.Transaction, status models.Status, numbers []string) {
	if m.Events == nil || topic == "" {
		return
	}
	event := PaymentEvent{
		Reference: tx.Reference,
		RaffleID:  tx.RaffleID,
		BuyerID:   tx.BuyerID,
		Status:    string(status),
		Quantity:  tx.Quantity,
		Numbers:   numbers,
		Timestamp: time.Now(),
	}
	if err := m.Events.Publish(ctx, topic, tx.Reference, event); err != nil {
		m.Logger.Warn("KAFKA", fmt.Sprintf("[%s] failed to publish to %s: %v", tx.Reference, topic, err))
	}
}
