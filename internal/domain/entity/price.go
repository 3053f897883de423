package entity

// PriceType classifies how a quoted price applies.
type PriceType string

const (
	PriceTypeFixed      PriceType = "fixed"
	PriceTypeHourly     PriceType = "hourly"
	PriceTypePerUnit    PriceType = "per_unit"
	PriceTypeRange      PriceType = "range"
	PriceTypeStartingAt PriceType = "starting_at"
)

// ExtractedPrice is a single priced line item inferred from transcript text.
type ExtractedPrice struct {
	Item       string    `json:"item"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	PriceType  PriceType `json:"price_type"`
	Conditions []string  `json:"conditions,omitempty"`
	Confidence float64   `json:"confidence"`
}

// HasCondition reports whether the price carries the given condition string.
func (p *ExtractedPrice) HasCondition(cond string) bool {
	for _, c := range p.Conditions {
		if c == cond {
			return true
		}
	}
	return false
}

// Fee is an additive charge attached to a session's total. Fees are not
// deduplicated: they stack, unlike alternative price quotes.
type Fee struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}
