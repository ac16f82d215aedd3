package events

import (
	"context"

	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
)

// LogSubscriber writes every event as a structured log line with the full
// audit payload encoded as JSON.
type LogSubscriber struct {
	lg *zap.Logger
}

// NewLogSubscriber creates a LogSubscriber writing to the given logger.
func NewLogSubscriber(lg *zap.Logger) *LogSubscriber {
	return &LogSubscriber{lg: lg}
}

// Handle implements Subscriber.
func (s *LogSubscriber) Handle(_ context.Context, ev discount.Event) {
	s.lg.Info("discount event",
		zap.String("action", string(ev.Action)),
		zap.String("user_id", ev.UserID),
		zap.String("code", ev.Discount.Code),
		zap.ByteString("payload", encodeEvent(ev)),
	)
}

// encodeEvent renders the event payload as compact JSON.
func encodeEvent(ev discount.Event) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("action", func(e *jx.Encoder) { e.Str(string(ev.Action)) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(ev.UserID) })
		e.Field("discount_code", func(e *jx.Encoder) { e.Str(ev.Discount.Code) })
		e.Field("usage_count", func(e *jx.Encoder) { e.Int(ev.Assignment.UsageCount) })
		e.Field("at", func(e *jx.Encoder) { e.Str(ev.At.Format("2006-01-02T15:04:05.000Z07:00")) })

		if ev.Action == discount.ActionApplied {
			e.Field("original_amount", func(e *jx.Encoder) { e.Str(ev.OriginalAmount.String()) })
			e.Field("final_amount", func(e *jx.Encoder) { e.Str(ev.FinalAmount.String()) })
			e.Field("discount_amount", func(e *jx.Encoder) { e.Str(ev.DiscountAmount.String()) })
		}
		if ev.OrderID != "" {
			e.Field("order_id", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		}
		if len(ev.Context) > 0 && jx.Valid(ev.Context) {
			e.Field("context", func(e *jx.Encoder) { e.Raw(ev.Context) })
		}
	})
	return e.Bytes()
}
