package participant

import (
	"github.com/nikolaydubina/fpdecimal"
)

// Security is a tradable symbol with a reference price
type Security struct {
	Symbol string
	Price  fpdecimal.Decimal
}

// MidPrice is the price participants quote around. Prices are fixed for now.
func (s Security) MidPrice() fpdecimal.Decimal {
	return s.Price
}

// DefaultSecurities returns the simulated listing
func DefaultSecurities() []Security {
	return []Security{
		{Symbol: "AAPL", Price: fpdecimal.FromInt(600)},
		{Symbol: "KYE", Price: fpdecimal.FromInt(27)},
		{Symbol: "TIF", Price: fpdecimal.FromInt(73)},
		{Symbol: "SLB", Price: fpdecimal.FromInt(75)},
		{Symbol: "AMZN", Price: fpdecimal.FromInt(192)},
		{Symbol: "HD", Price: fpdecimal.FromInt(49)},
	}
}
