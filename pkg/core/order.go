package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/nikolaydubina/fpdecimal"
)

// Side represents the bid or ask side of an order
type Side int

// Order sides
const (
	Bid Side = iota
	Ask
)

// String returns side as it appears on the wire
func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side is matched against
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Direction tells how a settlement moves the owner's balance
type Direction int

// Settlement directions
const (
	// Debit decreases the owner's balance (the buyer)
	Debit Direction = iota
	// Credit increases the owner's balance (the seller)
	Credit
)

// String returns direction name
func (d Direction) String() string {
	if d == Credit {
		return "credit"
	}
	return "debit"
}

// Direction returns the settlement direction for the owner of an order on this side.
// Bids buy and are debited, asks sell and are credited.
func (s Side) Direction() Direction {
	if s == Ask {
		return Credit
	}
	return Debit
}

// ParseSide converts a case-insensitive side token into a Side
func ParseSide(token string) (Side, error) {
	switch strings.ToLower(token) {
	case "bid":
		return Bid, nil
	case "ask":
		return Ask, nil
	default:
		return Bid, ErrUnknownSide
	}
}

// Order is an immutable limit order for a whole quantity of one security at one price
type Order struct {
	side       Side
	security   string
	price      fpdecimal.Decimal
	quantity   int64
	customerID string
}

// NewOrder creates a validated Order
func NewOrder(side Side, security string, price fpdecimal.Decimal, quantity int64, customerID string) (Order, error) {
	if side != Bid && side != Ask {
		return Order{}, ErrUnknownSide
	}
	if security == "" || strings.Contains(security, KeySeparator) {
		return Order{}, ErrInvalidSecurity
	}
	if price.LessThan(fpdecimal.Zero) {
		return Order{}, ErrInvalidPrice
	}
	if quantity < 0 {
		return Order{}, ErrInvalidQuantity
	}
	if quantity > 0 && price.Scaled() > (math.MaxInt64-5)/quantity {
		return Order{}, ErrNotionalOverflow
	}
	if customerID == "" {
		return Order{}, ErrEmptyCustomer
	}

	return Order{
		side:       side,
		security:   security,
		price:      price,
		quantity:   quantity,
		customerID: customerID,
	}, nil
}

// Side returns side of the Order
func (o Order) Side() Side {
	return o.side
}

// Security returns the traded symbol
func (o Order) Security() string {
	return o.security
}

// Price returns limit price
func (o Order) Price() fpdecimal.Decimal {
	return o.price
}

// Quantity returns the number of units
func (o Order) Quantity() int64 {
	return o.quantity
}

// CustomerID returns the owner of the order
func (o Order) CustomerID() string {
	return o.customerID
}

// Equal reports whether two orders carry the same values
func (o Order) Equal(other Order) bool {
	return o.side == other.side &&
		o.security == other.security &&
		o.price.Equal(other.price) &&
		o.quantity == other.quantity &&
		o.customerID == other.customerID
}

// BookKey is the queue this order rests on: side:security:price
func (o Order) BookKey() string {
	return bookKey(o.side, o.security, o.price)
}

// OppositeKey is the queue searched for a counter-order
func (o Order) OppositeKey() string {
	return bookKey(o.side.Opposite(), o.security, o.price)
}

// Notional returns price * quantity
func (o Order) Notional() fpdecimal.Decimal {
	return fpdecimal.FromIntScaled(o.price.Scaled() * o.quantity)
}

// NotionalCents returns the notional rounded half up to whole cents.
// NewOrder guarantees the product fits in int64.
func (o Order) NotionalCents() int64 {
	return (o.Notional().Scaled() + 5) / 10
}

// String returns the canonical side:security:price:quantity:customerId form
func (o Order) String() string {
	var sb strings.Builder
	sb.WriteString(o.side.String())
	sb.WriteString(KeySeparator)
	sb.WriteString(o.security)
	sb.WriteString(KeySeparator)
	sb.WriteString(FormatPrice(o.price))
	sb.WriteString(KeySeparator)
	sb.WriteString(strconv.FormatInt(o.quantity, 10))
	sb.WriteString(KeySeparator)
	sb.WriteString(o.customerID)
	return sb.String()
}

// MarshalJSON implements custom JSON marshaling for Order
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		Side:       o.side.String(),
		Security:   o.security,
		Price:      FormatPrice(o.price),
		Quantity:   o.quantity,
		CustomerID: o.customerID,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Order
func (o *Order) UnmarshalJSON(data []byte) error {
	var oj orderJSON
	if err := json.Unmarshal(data, &oj); err != nil {
		return err
	}

	side, err := ParseSide(oj.Side)
	if err != nil {
		return err
	}
	price, err := fpdecimal.FromString(oj.Price)
	if err != nil {
		return ErrInvalidPrice
	}

	parsed, err := NewOrder(side, oj.Security, price, oj.Quantity, oj.CustomerID)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

type orderJSON struct {
	Side       string `json:"side"`
	Security   string `json:"security"`
	Price      string `json:"price"`
	Quantity   int64  `json:"quantity"`
	CustomerID string `json:"customerId"`
}

// FormatPrice renders a price with at least one fractional digit (600.0, 600.25),
// which keeps book keys identical for every spelling of the same value.
func FormatPrice(price fpdecimal.Decimal) string {
	s := price.String()
	if !strings.Contains(s, ".") {
		return s + ".0"
	}
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

func bookKey(side Side, security string, price fpdecimal.Decimal) string {
	return side.String() + KeySeparator + security + KeySeparator + FormatPrice(price)
}
