package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
)

const (
	// SQLSTATE raised when SET LOCAL lock_timeout expires while waiting.
	lockNotAvailable = "55P03"

	discountColumns = `id, code, name, description, type, value, min_order_value,
		max_discount_amount, starts_at, expires_at, is_active, max_uses_per_user,
		priority, is_stackable`

	assignmentJoinSQL = `SELECT ud.id, ud.user_id, ud.discount_id, ud.assigned_at,
			ud.revoked_at, ud.usage_count, ud.last_used_at,
			d.id, d.code, d.name, d.description, d.type, d.value, d.min_order_value,
			d.max_discount_amount, d.starts_at, d.expires_at, d.is_active,
			d.max_uses_per_user, d.priority, d.is_stackable
		FROM user_discounts ud
		JOIN discounts d ON d.id = ud.discount_id`

	upsertAssignmentSQL = `INSERT INTO user_discounts
			(id, user_id, discount_id, assigned_at, revoked_at, usage_count, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, discount_id) DO UPDATE SET
			assigned_at = EXCLUDED.assigned_at,
			revoked_at = EXCLUDED.revoked_at,
			usage_count = EXCLUDED.usage_count,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = now()`

	insertAuditSQL = `INSERT INTO discount_audits
			(id, user_id, discount_id, action, order_id,
			original_amount, final_amount, discount_amount, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	upsertDiscountSQL = `INSERT INTO discounts
			(id, code, name, description, type, value, min_order_value,
			max_discount_amount, starts_at, expires_at, is_active,
			max_uses_per_user, priority, is_stackable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			min_order_value = EXCLUDED.min_order_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			starts_at = EXCLUDED.starts_at,
			expires_at = EXCLUDED.expires_at,
			is_active = EXCLUDED.is_active,
			max_uses_per_user = EXCLUDED.max_uses_per_user,
			priority = EXCLUDED.priority,
			is_stackable = EXCLUDED.is_stackable,
			updated_at = now()`
)

var _ discount.Store = (*Store)(nil)

// Store implements discount.Store backed by PostgreSQL. Per-user exclusivity
// comes from a transaction-scoped advisory lock keyed by the user id, which
// covers the case where no assignment rows exist yet and row locks alone
// would lock nothing.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore returns a Store using the given pool. lockTimeout bounds how long
// a transaction waits for the per-user lock; zero disables the bound.
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

// DiscountByCode looks up a definition, exact code match first, then
// case-insensitive. Returns discount.ErrDiscountNotFound when neither matches.
func (s *Store) DiscountByCode(ctx context.Context, code string) (*discount.Discount, error) {
	for _, q := range []string{
		`SELECT ` + discountColumns + ` FROM discounts WHERE code = $1`,
		`SELECT ` + discountColumns + ` FROM discounts WHERE UPPER(code) = UPPER($1)`,
	} {
		rows, err := s.pool.Query(ctx, q, code)
		if err != nil {
			return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
		}
		d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
		if err == nil {
			return &d, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
		}
	}
	return nil, errors.Wrapf(discount.ErrDiscountNotFound, "code %q", code)
}

// ActiveAssignments returns the user's non-revoked assignments joined to
// their discounts, without locking.
func (s *Store) ActiveAssignments(ctx context.Context, userID string) ([]*discount.Assignment, error) {
	q := assignmentJoinSQL + ` WHERE ud.user_id = $1 AND ud.revoked_at IS NULL ORDER BY ud.assigned_at`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanAssignment)
}

// UpsertDiscount inserts or updates a discount definition by code. Used by
// the import tooling; the engine itself never writes discount rows.
func (s *Store) UpsertDiscount(ctx context.Context, d *discount.Discount) error {
	_, err := s.pool.Exec(ctx, upsertDiscountSQL,
		d.ID, d.Code, d.Name, d.Description, string(d.Type), d.Value,
		d.MinOrderValue, d.MaxDiscountAmount, d.StartsAt, d.ExpiresAt,
		d.IsActive, d.MaxUsesPerUser, d.Priority, d.IsStackable,
	)
	if err != nil {
		return fmt.Errorf("upserting discount %q: %w", d.Code, err)
	}
	return nil
}

// WithUserLock opens a transaction, takes the advisory lock for the user,
// and runs fn. The transaction commits when fn returns nil and rolls back
// otherwise. Lock waits beyond the configured timeout surface as
// discount.ErrLockTimeout.
func (s *Store) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx discount.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if s.lockTimeout > 0 {
		// SET LOCAL does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return errors.Wrapf(discount.ErrLockTimeout, "user %s", userID)
		}
		return fmt.Errorf("acquiring user lock: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// pgTx implements discount.Tx over an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Assignment(ctx context.Context, userID, discountID string) (*discount.Assignment, error) {
	q := assignmentJoinSQL + ` WHERE ud.user_id = $1 AND ud.discount_id = $2 FOR UPDATE OF ud`
	rows, err := t.tx.Query(ctx, q, userID, discountID)
	if err != nil {
		return nil, fmt.Errorf("loading assignment: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAssignment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(discount.ErrDiscountNotFound, "no assignment for user %s", userID)
		}
		return nil, fmt.Errorf("loading assignment: %w", err)
	}
	return a, nil
}

func (t *pgTx) ActiveAssignments(ctx context.Context, userID string) ([]*discount.Assignment, error) {
	q := assignmentJoinSQL + ` WHERE ud.user_id = $1 AND ud.revoked_at IS NULL ORDER BY ud.assigned_at FOR UPDATE OF ud`
	rows, err := t.tx.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanAssignment)
}

func (t *pgTx) PutAssignment(ctx context.Context, a *discount.Assignment) error {
	_, err := t.tx.Exec(ctx, upsertAssignmentSQL,
		a.ID, a.UserID, a.DiscountID, a.AssignedAt, a.RevokedAt, a.UsageCount, a.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("saving assignment for user %q: %w", a.UserID, err)
	}
	return nil
}

func (t *pgTx) AppendAudit(ctx context.Context, a *discount.Audit) error {
	var contextJSON []byte
	if len(a.Context) > 0 {
		contextJSON = a.Context
	}
	_, err := t.tx.Exec(ctx, insertAuditSQL,
		a.ID, a.UserID, a.DiscountID, string(a.Action), a.OrderID,
		a.OriginalAmount, a.FinalAmount, a.DiscountAmount, contextJSON, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording %s audit for user %q: %w", a.Action, a.UserID, err)
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d        discount.Discount
		discType string
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.Name, &d.Description, &discType, &d.Value,
		&d.MinOrderValue, &d.MaxDiscountAmount, &d.StartsAt, &d.ExpiresAt,
		&d.IsActive, &d.MaxUsesPerUser, &d.Priority, &d.IsStackable,
	)
	d.Type = discount.Type(discType)
	return d, err
}

func scanAssignment(row pgx.CollectableRow) (*discount.Assignment, error) {
	var (
		a        discount.Assignment
		d        discount.Discount
		discType string
	)
	err := row.Scan(
		&a.ID, &a.UserID, &a.DiscountID, &a.AssignedAt,
		&a.RevokedAt, &a.UsageCount, &a.LastUsedAt,
		&d.ID, &d.Code, &d.Name, &d.Description, &discType, &d.Value,
		&d.MinOrderValue, &d.MaxDiscountAmount, &d.StartsAt, &d.ExpiresAt,
		&d.IsActive, &d.MaxUsesPerUser, &d.Priority, &d.IsStackable,
	)
	d.Type = discount.Type(discType)
	a.Discount = &d
	return &a, err
}
