package interest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/goblin-xna/alvar-extension/internal/detector"
	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

func resultWith(ids ...int) detector.Result {
	var r detector.Result
	for _, id := range ids {
		r.Markers = append(r.Markers, vision.DetectedMarker{ID: id})
	}
	return r
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		detected  []int
		requested []int
		want      []int
	}{
		{
			name:      "request order preserved",
			detected:  []int{3, 7},
			requested: []int{7, 3, 9},
			want:      []int{1, 0},
		},
		{
			name:      "all found",
			detected:  []int{10, 20, 30},
			requested: []int{20, 30},
			want:      []int{1, 2},
		},
		{
			name:      "none found",
			detected:  []int{1, 2},
			requested: []int{5, 6},
			want:      nil,
		},
		{
			name:      "empty request",
			detected:  []int{1, 2},
			requested: nil,
			want:      nil,
		},
		{
			name:      "empty result",
			detected:  nil,
			requested: []int{1},
			want:      nil,
		},
		{
			name:      "duplicate request resolves twice",
			detected:  []int{4, 8},
			requested: []int{8, 8},
			want:      []int{1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Resolve(resultWith(tt.detected...), tt.requested)
			if tt.want == nil {
				assert.Equal(t, 0, sel.Count())
				assert.Empty(t, sel.Indices)
				return
			}
			assert.Equal(t, tt.want, sel.Indices)
			assert.Equal(t, len(tt.want), sel.Count())
		})
	}
}

func TestResolve_MatchCountBounds(t *testing.T) {
	sel := Resolve(resultWith(3, 7), []int{7, 3, 9, 11})

	assert.LessOrEqual(t, sel.Count(), 4)
	assert.LessOrEqual(t, sel.Count(), 2)
	assert.Equal(t, 2, sel.Count())
}
