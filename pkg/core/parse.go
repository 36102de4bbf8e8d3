package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nikolaydubina/fpdecimal"
)

// orderPattern accepts side:security:price:quantity:customerId. The side token is
// matched loosely so an unknown side can be told apart from a malformed line.
var orderPattern = regexp.MustCompile(`^([A-Za-z]+):(\w+):([\d.]+):(\d+):(.+)$`)

// Prices are held in thousandths; more precision would be truncated and
// longer integer parts would overflow.
const (
	maxPriceFractionDigits = 3
	maxPriceIntegerDigits  = 15
)

// ParseError describes an order line that was rejected
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

// Error implements error
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s order %q", e.Reason, e.Raw)
}

// Unwrap exposes the sentinel error for errors.Is
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseOrder turns one order line into an Order. Trailing line terminators are ignored.
func ParseOrder(raw string) (Order, error) {
	line := strings.TrimRight(raw, "\r\n")

	m := orderPattern.FindStringSubmatch(line)
	if m == nil {
		return Order{}, malformed(line)
	}

	side, err := ParseSide(m[1])
	if err != nil {
		return Order{}, &ParseError{Reason: ReasonUnknownSide, Raw: line, Err: ErrUnknownSide}
	}

	if !priceRepresentable(m[3]) {
		return Order{}, malformed(line)
	}
	price, err := fpdecimal.FromString(m[3])
	if err != nil {
		return Order{}, malformed(line)
	}

	quantity, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return Order{}, malformed(line)
	}

	order, err := NewOrder(side, m[2], price, quantity, m[5])
	if err != nil {
		return Order{}, malformed(line)
	}
	return order, nil
}

// MustParseOrder is ParseOrder for literals known to be valid
func MustParseOrder(raw string) Order {
	order, err := ParseOrder(raw)
	if err != nil {
		panic(err)
	}
	return order
}

func priceRepresentable(s string) bool {
	whole, frac, _ := strings.Cut(s, ".")
	return whole != "" && len(whole) <= maxPriceIntegerDigits && len(frac) <= maxPriceFractionDigits
}

func malformed(line string) *ParseError {
	return &ParseError{Reason: ReasonMalformed, Raw: line, Err: ErrMalformedOrder}
}
