package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// Raffle is a sellable pool of uniquely numbered tickets with a fixed size.
// Metadata (title, description, image) is editable; the pool size is fixed
// once tickets have been generated.
type Raffle struct {
	bun.BaseModel `bun:"table:rifas"`

	ID           string    `bun:"id,pk" json:"id"`
	Title        string    `bun:"titulo,notnull" json:"titulo"`
	Description  string    `bun:"descripcion,nullzero" json:"descripcion"`
	ImageURL     string    `bun:"imagen_url,nullzero" json:"imagen_url"`
	TotalTickets int       `bun:"total_numeros,notnull" json:"total_numeros"`
	UnitPrice    float64   `bun:"precio_numero,notnull" json:"precio_numero"`
	MinQuantity  int       `bun:"cantidad_minima,nullzero" json:"cantidad_minima"`
	MaxQuantity  int       `bun:"cantidad_maxima,nullzero" json:"cantidad_maxima"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// NumberWidth returns the zero-padding width for a pool of the given size:
// the number of digits of the highest number (total-1), never less than two.
// A 10,000 ticket raffle uses "0000".."9999", a 100,000 one "00000".."99999".
func NumberWidth(total int) int {
	if total <= 1 {
		return 2
	}
	width := len(strconv.Itoa(total - 1))
	if width < 2 {
		width = 2
	}
	return width
}

// FormatTicketNumber renders n as the padded string persisted and shown to
// buyers. The padded form is the observable contract: numbers are compared
// and sorted as strings.
func FormatTicketNumber(n, total int) string {
	return fmt.Sprintf("%0*d", NumberWidth(total), n)
}

// ParseTicketNumber converts a padded number back to its integer value.
func ParseTicketNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ticket number %q: %w", s, err)
	}
	return n, nil
}
