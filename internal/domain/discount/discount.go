package discount

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount calculation strategies.
type Type string

const (
	// TypePercentage removes a percentage of the running amount.
	TypePercentage Type = "percentage"
	// TypeFixed removes a fixed monetary amount capped at the running amount.
	TypeFixed Type = "fixed"
)

// Valid reports whether t is one of the closed set of discount types.
// Unknown types are rejected at load time so that corrupt rows fail fast.
func (t Type) Valid() bool {
	return t == TypePercentage || t == TypeFixed
}

// Action enumerates audit record and event kinds.
type Action string

const (
	ActionAssigned Action = "assigned"
	ActionRevoked  Action = "revoked"
	ActionApplied  Action = "applied"
)

var (
	// ErrDiscountNotFound is returned when a discount code resolves to nothing,
	// or when revoking a discount that was never assigned to the user.
	ErrDiscountNotFound = errors.New("discount not found")
	// ErrNotEligible is returned when assigning a discount that is outside its
	// activation window or administratively disabled.
	ErrNotEligible = errors.New("discount not eligible")
	// ErrUsageExceeded is returned when the per-user usage cap is hit at
	// application time. It rolls back the whole apply transaction.
	ErrUsageExceeded = errors.New("discount usage limit exceeded")
	// ErrUnsupportedType is returned when a discount row carries a type outside
	// the closed set. It indicates corrupt data and aborts the transaction.
	ErrUnsupportedType = errors.New("unsupported discount type")
	// ErrLockTimeout is returned when the per-user lock cannot be acquired
	// within the configured bound. Callers may retry.
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrNegativeAmount is returned when Apply is called with a negative amount.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Discount is a price reduction rule. Definitions are owned by an external
// authoring process; the engine treats them as read-mostly and immutable
// during an apply pass.
//
// Optional numeric fields use zero as absent: MinOrderValue and
// MaxDiscountAmount of zero impose no constraint, MaxUsesPerUser of zero
// means unlimited.
type Discount struct {
	ID                string
	Code              string
	Name              string
	Description       string
	Type              Type
	Value             decimal.Decimal
	MinOrderValue     decimal.Decimal
	MaxDiscountAmount decimal.Decimal
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	IsActive          bool
	MaxUsesPerUser    int
	Priority          int
	IsStackable       bool
}

// HasUsageCap reports whether the discount limits per-user applications.
func (d *Discount) HasUsageCap() bool {
	return d.MaxUsesPerUser > 0
}

// Assignment binds one discount to one user. At most one active assignment
// exists per (user, discount) pair; re-assigning after revocation reactivates
// the same row instead of creating a second one.
type Assignment struct {
	ID         string
	UserID     string
	DiscountID string
	AssignedAt time.Time
	RevokedAt  *time.Time
	UsageCount int
	LastUsedAt *time.Time

	// Discount is the joined definition, populated by the store on reads.
	Discount *Discount
}

// IsRevoked reports whether the assignment has been revoked.
func (a *Assignment) IsRevoked() bool {
	return a.RevokedAt != nil
}

// HasUsageRemaining reports whether the assignment can still be applied under
// the linked discount's per-user cap.
func (a *Assignment) HasUsageRemaining() bool {
	if a.Discount == nil || !a.Discount.HasUsageCap() {
		return true
	}
	return a.UsageCount < a.Discount.MaxUsesPerUser
}

// Audit is an append-only record of an assignment, revocation, or application.
// The engine creates audits and never mutates or deletes them.
type Audit struct {
	ID             string
	UserID         string
	DiscountID     string
	Action         Action
	OrderID        string
	OriginalAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	Context        json.RawMessage
	CreatedAt      time.Time
}

// Store provides transactional access to discount records. All mutating
// engine operations run inside WithUserLock; reads outside it see committed
// state only.
type Store interface {
	// DiscountByCode resolves a discount definition, trying an exact match
	// first and a case-insensitive match second.
	// Returns ErrDiscountNotFound when neither matches.
	DiscountByCode(ctx context.Context, code string) (*Discount, error)

	// ActiveAssignments returns all non-revoked assignments for the user,
	// each with its Discount populated. Plain read, no lock.
	ActiveAssignments(ctx context.Context, userID string) ([]*Assignment, error)

	// WithUserLock runs fn inside a transaction holding an exclusive lock
	// scoped to the user. Concurrent calls for the same user serialize; the
	// transaction commits when fn returns nil and rolls back otherwise.
	// Returns ErrLockTimeout when the lock is not acquired in time.
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the per-user transactional view handed to WithUserLock callbacks.
type Tx interface {
	// Assignment returns the assignment row for the pair, revoked or not,
	// or ErrDiscountNotFound when no row exists.
	Assignment(ctx context.Context, userID, discountID string) (*Assignment, error)

	// ActiveAssignments returns all non-revoked assignments for the user
	// with discounts populated, locked for the transaction's duration.
	ActiveAssignments(ctx context.Context, userID string) ([]*Assignment, error)

	// PutAssignment inserts the assignment or updates the existing row for
	// its (user, discount) pair.
	PutAssignment(ctx context.Context, a *Assignment) error

	// AppendAudit inserts an audit record. Insert-only.
	AppendAudit(ctx context.Context, a *Audit) error
}
