package business

import "github.com/shopspring/decimal"

// Order is the slice of an order a payment needs. The checkout handler
// adapts incoming requests to this; tests fake it directly.
type Order interface {
	ID() string
	Total() decimal.Decimal
	Currency() string
	Description() string
}

// CheckoutOrder is the plain Order used by the HTTP checkout surface.
type CheckoutOrder struct {
	OrderID     string
	Amount      decimal.Decimal
	CurrencyVal string
	Comment     string
}

func (o *CheckoutOrder) ID() string             { return o.OrderID }
func (o *CheckoutOrder) Total() decimal.Decimal { return o.Amount }
func (o *CheckoutOrder) Currency() string       { return o.CurrencyVal }
func (o *CheckoutOrder) Description() string    { return o.Comment }
