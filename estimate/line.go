// Package estimate holds the domain model for an estimate aggregate and its
// editable line items.
package estimate

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks line identifiers assigned locally before the remote
// store confirms creation.
const TempIDPrefix = "tmp_"

// NewTempID returns a fresh temporary line identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether an identifier is a temporary placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Line is one editable row of an estimate.
type Line struct {
	ID          string
	EstimateID  string
	Description string
	Quantity    float64
	UnitPrice   float64
	TaxRate     float64
	UpdatedAt   time.Time
}

// Amount is the extended price of the line before tax.
func (l Line) Amount() float64 {
	return l.Quantity * l.UnitPrice
}

// Tax is the tax owed on the line.
func (l Line) Tax() float64 {
	return l.Amount() * l.TaxRate
}

// Fields returns the line as a field map, the form the sync engine and the
// conflict detector operate on.
func (l Line) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":          l.ID,
		"estimate_id": l.EstimateID,
		"description": l.Description,
		"quantity":    l.Quantity,
		"unit_price":  l.UnitPrice,
		"tax_rate":    l.TaxRate,
	}
}
