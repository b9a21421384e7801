package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Buyer is a registered user who can purchase raffle numbers. The document
// number is the legacy identity used before buyer ids; ownership records may
// reference either, both resolve to the same row.
type Buyer struct {
	bun.BaseModel `bun:"table:usuarios"`

	ID             string    `bun:"id,pk" json:"id"`
	DocumentType   string    `bun:"tipo_documento,nullzero" json:"tipo_documento"`
	DocumentNumber string    `bun:"numero_documento,unique,notnull" json:"numero_documento"`
	FirstNames     string    `bun:"nombres,notnull" json:"nombres"`
	LastNames      string    `bun:"apellidos,notnull" json:"apellidos"`
	Email          string    `bun:"correo_electronico,unique,notnull" json:"correo_electronico"`
	Phone          string    `bun:"telefono,nullzero" json:"telefono"`
	Address        string    `bun:"direccion,nullzero" json:"direccion"`
	City           string    `bun:"ciudad,nullzero" json:"ciudad"`
	Department     string    `bun:"departamento,nullzero" json:"departamento"`
	PasswordHash   string    `bun:"password,notnull" json:"-"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// FullName is used by the gateway billing block and outbound summaries.
func (b *Buyer) FullName() string {
	return b.FirstNames + " " + b.LastNames
}
