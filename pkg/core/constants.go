package core

import "errors"

// Errors
var (
	ErrMalformedOrder   = errors.New("malformed order")
	ErrUnknownSide      = errors.New("unknown side")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidSecurity  = errors.New("invalid security")
	ErrNotionalOverflow = errors.New("notional overflows ledger amount")
	ErrEmptyCustomer    = errors.New("empty customer id")
	ErrBookCorruption   = errors.New("book corruption")
	ErrLedgerFailure    = errors.New("ledger failure")
	ErrNoConfirmation   = errors.New("ledger returned no confirmation")
)

// Parse failure reasons, as reported in rejection events.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownSide = "unknown-side"
)

// Key prefixes shared with the participant simulation and tooling.
const (
	BalancePrefix = "balance"
	KeySeparator  = ":"
)

// BalanceKey returns the ledger counter key holding a customer's balance in cents.
func BalanceKey(customerID string) string {
	return BalancePrefix + KeySeparator + customerID
}
