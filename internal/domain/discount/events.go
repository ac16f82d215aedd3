package discount

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event is the payload emitted after an assignment, revocation, or applied
// stacking step. It carries the same data as the corresponding audit record.
type Event struct {
	Action     Action
	UserID     string
	Discount   Discount
	Assignment Assignment
	OrderID    string
	Context    json.RawMessage
	At         time.Time

	// Amounts are set for ActionApplied only.
	OriginalAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Publisher delivers engine events. Delivery is fire-and-forget: the engine
// publishes after the transaction commits and ignores delivery outcome, so
// implementations must never block for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
