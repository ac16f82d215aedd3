// Package memory implements the discount store with in-process state and a
// per-user mutex. It backs the engine's unit and concurrency tests and lets
// the service run without PostgreSQL.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
)

// Store keeps discounts, assignments, and audits in maps. Mutating
// operations serialize per user through a timed mutex, matching the
// exclusive-lock semantics the engine expects from a transactional store.
type Store struct {
	lockTimeout time.Duration

	mu          sync.RWMutex
	discounts   map[string]*discount.Discount              // by ID
	assignments map[string]map[string]*discount.Assignment // userID -> discountID
	audits      []*discount.Audit

	locksMu sync.Mutex
	locks   map[string]chan struct{} // one-slot semaphore per user
}

var _ discount.Store = (*Store)(nil)

// New creates an empty Store. lockTimeout bounds per-user lock acquisition;
// zero or negative means wait only on context cancellation.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		lockTimeout: lockTimeout,
		discounts:   make(map[string]*discount.Discount),
		assignments: make(map[string]map[string]*discount.Assignment),
		locks:       make(map[string]chan struct{}),
	}
}

// SeedDiscount inserts or replaces a discount definition.
func (s *Store) SeedDiscount(d *discount.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.discounts[d.ID] = &cp
}

// DiscountByCode resolves a definition, exact match first, then
// case-insensitive.
func (s *Store) DiscountByCode(_ context.Context, code string) (*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.discounts {
		if d.Code == code {
			cp := *d
			return &cp, nil
		}
	}
	for _, d := range s.discounts {
		if strings.EqualFold(d.Code, code) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errors.Wrapf(discount.ErrDiscountNotFound, "code %q", code)
}

// ActiveAssignments returns non-revoked assignments for the user with
// discounts populated. Plain read, no lock.
func (s *Store) ActiveAssignments(_ context.Context, userID string) ([]*discount.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAssignmentsLocked(userID), nil
}

func (s *Store) activeAssignmentsLocked(userID string) []*discount.Assignment {
	var out []*discount.Assignment
	for _, a := range s.assignments[userID] {
		if a.RevokedAt != nil {
			continue
		}
		cp := *a
		if d, ok := s.discounts[a.DiscountID]; ok {
			dcp := *d
			cp.Discount = &dcp
		}
		out = append(out, &cp)
	}
	return out
}

// AuditLog returns a snapshot of all audit records in append order.
func (s *Store) AuditLog() []*discount.Audit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*discount.Audit, len(s.audits))
	copy(out, s.audits)
	return out
}

// Assignment returns the stored row for the pair regardless of revocation
// state, without taking the user lock. Intended for test assertions.
func (s *Store) Assignment(userID, discountID string) (*discount.Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[userID][discountID]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// WithUserLock acquires the user's semaphore, runs fn against a staged
// transaction, and applies the staged writes only when fn succeeds.
func (s *Store) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx discount.Tx) error) error {
	release, err := s.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err // staged writes discarded
	}
	tx.commit()
	return nil
}

func (s *Store) acquire(ctx context.Context, userID string) (func(), error) {
	s.locksMu.Lock()
	sem, ok := s.locks[userID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[userID] = sem
	}
	s.locksMu.Unlock()

	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timeout:
		return nil, errors.Wrapf(discount.ErrLockTimeout, "user %s", userID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// memTx stages assignment and audit writes until commit. Reads see committed
// state; the engine reads before it writes, so staged reads are not needed.
type memTx struct {
	store   *Store
	putsA   []*discount.Assignment
	putsLog []*discount.Audit
}

func (t *memTx) Assignment(_ context.Context, userID, discountID string) (*discount.Assignment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	a, ok := t.store.assignments[userID][discountID]
	if !ok {
		return nil, errors.Wrapf(discount.ErrDiscountNotFound, "no assignment for user %s", userID)
	}
	cp := *a
	if d, ok := t.store.discounts[a.DiscountID]; ok {
		dcp := *d
		cp.Discount = &dcp
	}
	return &cp, nil
}

func (t *memTx) ActiveAssignments(_ context.Context, userID string) ([]*discount.Assignment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.activeAssignmentsLocked(userID), nil
}

func (t *memTx) PutAssignment(_ context.Context, a *discount.Assignment) error {
	cp := *a
	cp.Discount = nil
	t.putsA = append(t.putsA, &cp)
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, a *discount.Audit) error {
	cp := *a
	t.putsLog = append(t.putsLog, &cp)
	return nil
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, a := range t.putsA {
		byDiscount, ok := t.store.assignments[a.UserID]
		if !ok {
			byDiscount = make(map[string]*discount.Assignment)
			t.store.assignments[a.UserID] = byDiscount
		}
		byDiscount[a.DiscountID] = a
	}
	t.store.audits = append(t.store.audits, t.putsLog...)
}
