package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is one numbered unit of a raffle. A ticket is available while
// OwnedBy is empty and owned afterwards; the transition is one-directional,
// the only other terminus is raffle deletion.
type Ticket struct {
	bun.BaseModel `bun:"table:numeros"`

	ID            string    `bun:"id,pk" json:"id"`
	RaffleID      string    `bun:"rifa_id,notnull" json:"rifa_id"`
	Number        string    `bun:"numero,notnull" json:"numero"`
	OwnedBy       string    `bun:"comprado_por,nullzero" json:"comprado_por,omitempty"`
	OwnedAt       time.Time `bun:"comprado_en,nullzero" json:"comprado_en,omitempty"`
	TransactionID string    `bun:"transaccion_id,nullzero" json:"transaccion_id,omitempty"`
}

// Available reports whether the ticket can still be allocated.
func (t *Ticket) Available() bool {
	return t.OwnedBy == ""
}

// TicketOwnership is the buyer↔ticket↔raffle relation written alongside the
// ownership claim on the ticket row. It carries the legacy document number so
// numbers bought before buyer ids existed stay queryable.
type TicketOwnership struct {
	bun.BaseModel `bun:"table:numeros_usuario"`

	ID            string    `bun:"id,pk" json:"id"`
	Number        string    `bun:"numero,notnull" json:"numero"`
	RaffleID      string    `bun:"rifa_id,notnull" json:"rifa_id"`
	BuyerID       string    `bun:"usuario_id,notnull" json:"usuario_id"`
	BuyerDocument string    `bun:"numero_documento,nullzero" json:"numero_documento,omitempty"`
	TransactionID string    `bun:"transaccion_id,notnull" json:"transaccion_id"`
	AssignedAt    time.Time `bun:"asignado_en,notnull,default:current_timestamp" json:"asignado_en"`
}
