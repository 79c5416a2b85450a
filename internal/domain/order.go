package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderPurpose distinguishes entry orders from exit orders.
type OrderPurpose string

const (
	PurposeEntry OrderPurpose = "entry"
	PurposeExit  OrderPurpose = "exit"
)

// OrderRequest is a market order handed to an OrderRouter.
type OrderRequest struct {
	ClientID   string // EntryID or ExitID of the record; used for dedup
	EntryID    string
	Instrument string
	Side       OrderSide
	Purpose    OrderPurpose
	Quantity   float64
	CreatedAt  time.Time
}

// EntrySide returns the order side that opens a position in direction d.
func EntrySide(d Direction) OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide returns the order side that closes a position in direction d.
func ExitSide(d Direction) OrderSide {
	if d == DirectionShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Fill is a venue acknowledgement. A Fill with Pending set was accepted but
// has not executed yet; its confirmation arrives later.
type Fill struct {
	OrderID  string
	ClientID string
	Price    float64
	Quantity float64
	FilledAt time.Time
	Pending  bool
}

// Handle converts a confirmed fill into an order handle.
func (f Fill) Handle() OrderHandle {
	return OrderHandle{OrderID: f.OrderID, Price: f.Price, FilledAt: f.FilledAt}
}

// OrderRouter submits orders to an execution venue.
type OrderRouter interface {
	Submit(ctx context.Context, req OrderRequest) (Fill, error)
}
