package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the canonical settlement status vocabulary. Values are persisted
// verbatim, so they keep the Spanish spelling of the production database.
type Status string

const (
	StatusPending  Status = "pendiente"
	StatusApproved Status = "aprobado"
	StatusRejected Status = "rechazado"
	StatusCanceled Status = "cancelado"
	StatusRefunded Status = "reembolsado"
	StatusExpired  Status = "expirado"
	StatusUnknown  Status = "desconocido"
	StatusError    Status = "error"
)

// Terminal reports whether no further gateway notification can move the
// transaction to a different outcome. Approved transactions can still be
// refunded; pending and unknown wait for the gateway.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCanceled, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// Transaction is one payment attempt tied to a raffle, buyer and requested
// quantity. The reference is the idempotency key: the gateway echoes it back
// on every notification and fulfillment happens at most once per reference.
type Transaction struct {
	bun.BaseModel `bun:"table:transacciones_pagos"`

	ID              string    `bun:"id,pk" json:"id"`
	Reference       string    `bun:"referencia,unique,notnull" json:"referencia"`
	Invoice         string    `bun:"invoice,nullzero" json:"invoice"`
	RaffleID        string    `bun:"rifa_id,notnull" json:"rifa_id"`
	BuyerID         string    `bun:"usuario_id,notnull" json:"usuario_id"`
	BuyerDocument   string    `bun:"usuario_documento,nullzero" json:"usuario_documento"`
	Quantity        int       `bun:"cantidad,notnull" json:"cantidad"`
	UnitPrice       float64   `bun:"precio_unitario,notnull" json:"precio_unitario"`
	Total           float64   `bun:"valor_total,notnull" json:"valor_total"`
	Status          Status    `bun:"estado,notnull" json:"estado"`
	SessionData     string    `bun:"datos_epayco,nullzero" json:"datos_epayco,omitempty"`
	GatewayResponse string    `bun:"datos_respuesta,nullzero" json:"datos_respuesta,omitempty"`
	AssignedNumbers []string  `bun:"numeros_asignados,nullzero" json:"numeros_asignados,omitempty"`
	CreatedAt       time.Time `bun:"creado_en,notnull,default:current_timestamp" json:"creado_en"`
	UpdatedAt       time.Time `bun:"actualizado_en,nullzero" json:"actualizado_en"`
}

// Fulfilled reports whether the allocation side effect already ran for this
// transaction: approved and with its numbers recorded.
func (t *Transaction) Fulfilled() bool {
	return t.Status == StatusApproved && len(t.AssignedNumbers) > 0
}
