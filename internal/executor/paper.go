package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// PaperRouter fills every order immediately at the latest quote. It never
// talks to a venue.
type PaperRouter struct {
	quotes domain.QuoteSource
	now    func() time.Time
}

var _ domain.OrderRouter = (*PaperRouter)(nil)

// NewPaperRouter creates a router that prices fills from quotes.
func NewPaperRouter(quotes domain.QuoteSource) *PaperRouter {
	return &PaperRouter{quotes: quotes, now: time.Now}
}

// Submit fills req at the ask for buys and the bid for sells.
func (p *PaperRouter) Submit(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if req.Quantity <= 0 {
		return domain.Fill{}, fmt.Errorf("paper: submit %s: quantity must be > 0", req.ClientID)
	}
	q, ok := p.quotes.Quote(req.Instrument)
	if !ok {
		return domain.Fill{}, fmt.Errorf("paper: submit %s: %s: %w", req.ClientID, req.Instrument, domain.ErrNoQuote)
	}
	price := q.Bid
	if req.Side == domain.OrderSideBuy {
		price = q.Ask
	}
	if price <= 0 {
		return domain.Fill{}, fmt.Errorf("paper: submit %s: %s: %w", req.ClientID, req.Instrument, domain.ErrNoQuote)
	}
	return domain.Fill{
		OrderID:  "paper-" + uuid.NewString(),
		ClientID: req.ClientID,
		Price:    price,
		Quantity: req.Quantity,
		FilledAt: p.now().UTC(),
	}, nil
}
