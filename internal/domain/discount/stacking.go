package discount

import (
	"sort"

	"github.com/go-faster/errors"
)

// OrderKey selects the field assignments are stacked by.
type OrderKey string

const (
	// OrderByPriority stacks by the discount's priority field.
	OrderByPriority OrderKey = "priority"
	// OrderByAssignedAt stacks by assignment time (Unix seconds).
	OrderByAssignedAt OrderKey = "assigned_at"
	// OrderByUsageCount stacks by how often the assignment has been applied.
	OrderByUsageCount OrderKey = "usage_count"
)

// ParseOrderKey resolves a configuration string to an OrderKey.
func ParseOrderKey(s string) (OrderKey, error) {
	switch OrderKey(s) {
	case OrderByPriority, OrderByAssignedAt, OrderByUsageCount:
		return OrderKey(s), nil
	}
	return "", errors.Errorf("unknown stacking order %q", s)
}

// Direction is the stacking sort direction.
type Direction string

const (
	Descending Direction = "desc"
	Ascending  Direction = "asc"
)

// ParseDirection resolves a configuration string to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Descending, Ascending:
		return Direction(s), nil
	}
	return "", errors.Errorf("unknown stacking direction %q", s)
}

// OrderAssignments returns the assignments sorted for stacking: primary
// comparison by the resolved key in the given direction, ties broken by
// ascending discount code regardless of direction. The tie-break makes the
// order total, so identical inputs always stack identically.
// The input slice is not mutated.
func OrderAssignments(assignments []*Assignment, key OrderKey, dir Direction) []*Assignment {
	ordered := make([]*Assignment, len(assignments))
	copy(ordered, assignments)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := sortValue(ordered[i], key), sortValue(ordered[j], key)
		if a == b {
			return codeOf(ordered[i]) < codeOf(ordered[j])
		}
		if dir == Ascending {
			return a < b
		}
		return a > b
	})
	return ordered
}

// sortValue resolves the integer sort key for an assignment. A missing
// discount relation resolves to 0 rather than failing the sort.
func sortValue(a *Assignment, key OrderKey) int64 {
	switch key {
	case OrderByAssignedAt:
		if a.AssignedAt.IsZero() {
			return 0
		}
		return a.AssignedAt.Unix()
	case OrderByUsageCount:
		return int64(a.UsageCount)
	default:
		if a.Discount == nil {
			return 0
		}
		return int64(a.Discount.Priority)
	}
}

func codeOf(a *Assignment) string {
	if a.Discount == nil {
		return ""
	}
	return a.Discount.Code
}
