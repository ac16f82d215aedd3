package discount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderKey(t *testing.T) {
	tests := []struct {
		input   string
		want    OrderKey
		wantErr bool
	}{
		{input: "priority", want: OrderByPriority},
		{input: "assigned_at", want: OrderByAssignedAt},
		{input: "usage_count", want: OrderByUsageCount},
		{input: "value", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOrderKey(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDirection(t *testing.T) {
	got, err := ParseDirection("asc")
	require.NoError(t, err)
	assert.Equal(t, Ascending, got)

	got, err = ParseDirection("desc")
	require.NoError(t, err)
	assert.Equal(t, Descending, got)

	_, err = ParseDirection("up")
	require.Error(t, err)
}

func TestOrderAssignments(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mk := func(code string, priority, usage int, assigned time.Time) *Assignment {
		return &Assignment{
			AssignedAt: assigned,
			UsageCount: usage,
			Discount:   &Discount{Code: code, Priority: priority},
		}
	}

	a := mk("ALPHA", 20, 3, base)
	b := mk("BRAVO", 10, 1, base.Add(time.Hour))
	c := mk("CHARLIE", 30, 2, base.Add(2*time.Hour))

	codes := func(ordered []*Assignment) []string {
		out := make([]string, len(ordered))
		for i, o := range ordered {
			out[i] = o.Discount.Code
		}
		return out
	}

	tests := []struct {
		name  string
		input []*Assignment
		key   OrderKey
		dir   Direction
		want  []string
	}{
		{
			name:  "priority descending",
			input: []*Assignment{a, b, c},
			key:   OrderByPriority, dir: Descending,
			want: []string{"CHARLIE", "ALPHA", "BRAVO"},
		},
		{
			name:  "priority ascending",
			input: []*Assignment{a, b, c},
			key:   OrderByPriority, dir: Ascending,
			want: []string{"BRAVO", "ALPHA", "CHARLIE"},
		},
		{
			name:  "assigned_at descending",
			input: []*Assignment{a, b, c},
			key:   OrderByAssignedAt, dir: Descending,
			want: []string{"CHARLIE", "BRAVO", "ALPHA"},
		},
		{
			name:  "usage_count ascending",
			input: []*Assignment{a, b, c},
			key:   OrderByUsageCount, dir: Ascending,
			want: []string{"BRAVO", "CHARLIE", "ALPHA"},
		},
		{
			name: "equal keys break ties by code ascending",
			input: []*Assignment{
				mk("ZULU", 10, 0, base),
				mk("ALPHA", 10, 0, base),
				mk("MIKE", 10, 0, base),
			},
			key: OrderByPriority, dir: Descending,
			want: []string{"ALPHA", "MIKE", "ZULU"},
		},
		{
			name: "tie break stays ascending in ascending direction",
			input: []*Assignment{
				mk("ZULU", 10, 0, base),
				mk("ALPHA", 10, 0, base),
			},
			key: OrderByPriority, dir: Ascending,
			want: []string{"ALPHA", "ZULU"},
		},
		{
			name:  "empty input",
			input: nil,
			key:   OrderByPriority, dir: Descending,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrderAssignments(tt.input, tt.key, tt.dir)
			assert.Equal(t, tt.want, codes(got))
		})
	}
}

func TestOrderAssignments_DoesNotMutateInput(t *testing.T) {
	input := []*Assignment{
		{Discount: &Discount{Code: "B", Priority: 1}},
		{Discount: &Discount{Code: "A", Priority: 2}},
	}

	_ = OrderAssignments(input, OrderByPriority, Descending)

	assert.Equal(t, "B", input[0].Discount.Code)
	assert.Equal(t, "A", input[1].Discount.Code)
}

func TestOrderAssignments_Deterministic(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	input := []*Assignment{
		{AssignedAt: base, Discount: &Discount{Code: "C", Priority: 5}},
		{AssignedAt: base, Discount: &Discount{Code: "A", Priority: 5}},
		{AssignedAt: base, Discount: &Discount{Code: "B", Priority: 5}},
	}

	first := OrderAssignments(input, OrderByPriority, Descending)
	for i := 0; i < 10; i++ {
		again := OrderAssignments(input, OrderByPriority, Descending)
		require.Equal(t, first, again)
	}
}
