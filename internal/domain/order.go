package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TimeInForce of a limit order.
type TimeInForce string

const (
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTC TimeInForce = "GTC"
)

// OrderRequest is a limit order sent to a venue.
type OrderRequest struct {
	Venue         Venue
	Symbol        string
	Side          Side
	TimeInForce   TimeInForce
	Price         decimal.Decimal
	Size          decimal.Decimal
	ClientOrderID string // correlation tag, echoed back in fill events
}

// OrderAck is the venue's synchronous answer to an order submission.
type OrderAck struct {
	Accepted bool
	OrderID  string
	Reason   string
}

// Accepted builds a positive acknowledgment.
func Accepted(orderID string) OrderAck {
	return OrderAck{Accepted: true, OrderID: orderID}
}

// Rejected builds a negative acknowledgment.
func Rejected(reason string) OrderAck {
	return OrderAck{Reason: reason}
}

// Err returns nil for an accepted order and ErrOrderRejected otherwise.
func (a OrderAck) Err() error {
	if a.Accepted {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrOrderRejected, a.Reason)
}
