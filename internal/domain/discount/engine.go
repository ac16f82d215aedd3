package discount

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options controls stacking order, caps, and rounding for an Engine.
type Options struct {
	// StackingKey and StackingDirection order eligible assignments in Apply.
	StackingKey       OrderKey
	StackingDirection Direction

	// MaxPercentage is the global ceiling on total discount as a percentage
	// of the original amount. Zero disables the cap.
	MaxPercentage decimal.Decimal

	// Rounder rounds every persisted and returned amount.
	Rounder Rounder
}

// DefaultOptions mirrors the configuration defaults: stack by priority
// descending, no global cap, round half-up at two decimal places.
func DefaultOptions() Options {
	return Options{
		StackingKey:       OrderByPriority,
		StackingDirection: Descending,
		Rounder:           NewRounder(RoundHalfUp, 2),
	}
}

// AssignOptions carries optional attributes for Assign.
type AssignOptions struct {
	// AssignedAt overrides the assignment timestamp; zero means now.
	AssignedAt time.Time
	// Context is free-form JSON recorded on the audit entry.
	Context json.RawMessage
}

// ApplyContext carries optional attributes for Apply.
type ApplyContext struct {
	OrderID string
	Context json.RawMessage
}

// EligibilityContext parameterizes EligibleFor.
type EligibilityContext struct {
	// Amount drives the minimum-order-value check. Zero passes every
	// discount without a minimum.
	Amount decimal.Decimal
}

// Engine assigns, revokes, and applies per-user discounts. It holds no state
// of its own: every operation re-reads current state from the Store, mutating
// operations under an exclusive per-user lock so that concurrent calls for
// one user serialize. Events are published only after the transaction
// commits, so delivery failures can never roll back anything.
type Engine struct {
	store  Store
	events Publisher
	opts   Options
	now    func() time.Time
}

// NewEngine creates an Engine. A nil publisher discards events.
func NewEngine(store Store, events Publisher, opts Options) *Engine {
	if events == nil {
		events = NopPublisher{}
	}
	return &Engine{
		store:  store,
		events: events,
		opts:   opts,
		now:    time.Now,
	}
}

// Assign binds the discount identified by code to the user. Assigning an
// already-active discount is an idempotent no-op: no row change, no audit,
// no event. A previously revoked assignment is reactivated in place,
// preserving its usage count.
//
// Returns ErrDiscountNotFound for unknown codes and ErrNotEligible when the
// discount is administratively disabled or outside its activation window.
func (e *Engine) Assign(ctx context.Context, userID, code string, opts AssignOptions) error {
	d, err := e.store.DiscountByCode(ctx, code)
	if err != nil {
		return errors.Wrapf(err, "resolve discount %q", code)
	}

	now := e.now()
	if !ActiveAt(d, now) {
		return errors.Wrapf(ErrNotEligible, "discount %s is not active", d.Code)
	}

	assignedAt := opts.AssignedAt
	if assignedAt.IsZero() {
		assignedAt = now
	}

	var pending []Event
	err = e.store.WithUserLock(ctx, userID, func(ctx context.Context, tx Tx) error {
		a, err := tx.Assignment(ctx, userID, d.ID)
		switch {
		case errors.Is(err, ErrDiscountNotFound):
			a = &Assignment{
				ID:         uuid.New().String(),
				UserID:     userID,
				DiscountID: d.ID,
			}
		case err != nil:
			return errors.Wrap(err, "load assignment")
		case !a.IsRevoked():
			return nil // already assigned
		}

		a.AssignedAt = assignedAt
		a.RevokedAt = nil
		if err := tx.PutAssignment(ctx, a); err != nil {
			return errors.Wrap(err, "save assignment")
		}

		if err := tx.AppendAudit(ctx, &Audit{
			ID:         uuid.New().String(),
			UserID:     userID,
			DiscountID: d.ID,
			Action:     ActionAssigned,
			Context:    opts.Context,
			CreatedAt:  now,
		}); err != nil {
			return errors.Wrap(err, "record audit")
		}

		pending = append(pending, Event{
			Action:     ActionAssigned,
			UserID:     userID,
			Discount:   *d,
			Assignment: *a,
			Context:    opts.Context,
			At:         now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, pending)
	return nil
}

// Revoke deactivates the user's assignment for the discount identified by
// code. Revoking an already-revoked assignment is an idempotent no-op.
// Returns ErrDiscountNotFound when the code is unknown or when the discount
// was never assigned to the user.
func (e *Engine) Revoke(ctx context.Context, userID, code string) error {
	d, err := e.store.DiscountByCode(ctx, code)
	if err != nil {
		return errors.Wrapf(err, "resolve discount %q", code)
	}

	now := e.now()

	var pending []Event
	err = e.store.WithUserLock(ctx, userID, func(ctx context.Context, tx Tx) error {
		a, err := tx.Assignment(ctx, userID, d.ID)
		if err != nil {
			if errors.Is(err, ErrDiscountNotFound) {
				return errors.Wrapf(ErrDiscountNotFound, "discount %s not assigned to user", d.Code)
			}
			return errors.Wrap(err, "load assignment")
		}
		if a.IsRevoked() {
			return nil // already revoked
		}

		a.RevokedAt = &now
		if err := tx.PutAssignment(ctx, a); err != nil {
			return errors.Wrap(err, "save assignment")
		}

		if err := tx.AppendAudit(ctx, &Audit{
			ID:         uuid.New().String(),
			UserID:     userID,
			DiscountID: d.ID,
			Action:     ActionRevoked,
			CreatedAt:  now,
		}); err != nil {
			return errors.Wrap(err, "record audit")
		}

		pending = append(pending, Event{
			Action:     ActionRevoked,
			UserID:     userID,
			Discount:   *d,
			Assignment: *a,
			At:         now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, pending)
	return nil
}

// EligibleFor returns the user's assignments whose discounts currently
// qualify: active window, minimum order value met by ectx.Amount, usage
// remaining. This is an inspection read: no lock is taken and no stacking
// order is applied.
func (e *Engine) EligibleFor(ctx context.Context, userID string, ectx EligibilityContext) ([]*Assignment, error) {
	assignments, err := e.store.ActiveAssignments(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load assignments")
	}

	now := e.now()
	eligibleSet := make([]*Assignment, 0, len(assignments))
	for _, a := range assignments {
		if eligible(a, ectx.Amount, now) {
			eligibleSet = append(eligibleSet, a)
		}
	}
	return eligibleSet, nil
}

// Apply runs one stacking pass over the user's eligible assignments and
// returns the final amount. Within a single transaction it locks the user's
// working set, filters eligibility against the rounded original amount,
// orders by the configured stacking key, and deducts discount by discount,
// incrementing usage and appending an audit per applied step. Iteration
// stops at a non-stackable discount or once the global percentage cap is
// reached. Steps that contribute nothing are skipped without audit or usage
// increment.
//
// Any error inside the transaction rolls back every mutation of this call.
func (e *Engine) Apply(ctx context.Context, userID string, amount decimal.Decimal, actx ApplyContext) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, errors.Wrapf(ErrNegativeAmount, "amount %s", amount)
	}

	original := e.opts.Rounder.Round(amount)
	now := e.now()

	var (
		final   decimal.Decimal
		pending []Event
	)
	err := e.store.WithUserLock(ctx, userID, func(ctx context.Context, tx Tx) error {
		assignments, err := tx.ActiveAssignments(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "load assignments")
		}

		eligibleSet := make([]*Assignment, 0, len(assignments))
		for _, a := range assignments {
			if eligible(a, original, now) {
				eligibleSet = append(eligibleSet, a)
			}
		}
		ordered := OrderAssignments(eligibleSet, e.opts.StackingKey, e.opts.StackingDirection)

		running := original
		totalApplied := decimal.Zero

		for _, a := range ordered {
			d := a.Discount
			if d == nil {
				continue
			}

			stepAmount, err := Calculate(d, running, original, totalApplied, e.opts.MaxPercentage)
			if err != nil {
				return err
			}
			if d.MaxDiscountAmount.IsPositive() {
				stepAmount = decimal.Min(stepAmount, d.MaxDiscountAmount)
			}
			stepAmount = decimal.Min(stepAmount, running)
			stepAmount = e.opts.Rounder.Round(stepAmount)
			if !stepAmount.IsPositive() {
				continue
			}

			// Re-asserted under the lock: the eligibility filter ran on a
			// snapshot, this guards the mutation itself.
			if d.HasUsageCap() && a.UsageCount >= d.MaxUsesPerUser {
				return errors.Wrapf(ErrUsageExceeded, "discount %s", d.Code)
			}

			running = e.opts.Rounder.Round(running.Sub(stepAmount))
			totalApplied = totalApplied.Add(stepAmount)

			a.UsageCount++
			lastUsed := now
			a.LastUsedAt = &lastUsed
			if err := tx.PutAssignment(ctx, a); err != nil {
				return errors.Wrap(err, "save assignment")
			}

			if err := tx.AppendAudit(ctx, &Audit{
				ID:             uuid.New().String(),
				UserID:         userID,
				DiscountID:     d.ID,
				Action:         ActionApplied,
				OrderID:        actx.OrderID,
				OriginalAmount: original,
				FinalAmount:    running,
				DiscountAmount: stepAmount,
				Context:        actx.Context,
				CreatedAt:      now,
			}); err != nil {
				return errors.Wrap(err, "record audit")
			}

			pending = append(pending, Event{
				Action:         ActionApplied,
				UserID:         userID,
				Discount:       *d,
				Assignment:     *a,
				OrderID:        actx.OrderID,
				Context:        actx.Context,
				At:             now,
				OriginalAmount: original,
				FinalAmount:    running,
				DiscountAmount: stepAmount,
			})

			if !d.IsStackable {
				break
			}
			if e.opts.MaxPercentage.IsPositive() {
				capAmount := original.Mul(e.opts.MaxPercentage).Div(hundred)
				if totalApplied.GreaterThanOrEqual(capAmount) {
					break
				}
			}
		}

		final = e.opts.Rounder.Round(running)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	e.publish(ctx, pending)
	return final, nil
}

func (e *Engine) publish(ctx context.Context, events []Event) {
	for _, ev := range events {
		e.events.Publish(ctx, ev)
	}
}
