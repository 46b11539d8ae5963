// Package interest narrows a frame's detection result to the marker ids the
// host actually asked about.
package interest

import (
	"github.com/goblin-xna/alvar-extension/internal/detector"
)

// Selection holds the indices into a detection result for the requested ids
// that were found, in request order. Requested ids with no match are dropped,
// not padded.
type Selection struct {
	Indices []int
}

// Count returns the number of resolved entries.
func (s Selection) Count() int {
	return len(s.Indices)
}

// Resolve maps the requested marker ids to indices into the detection
// result. The id table is rebuilt on every call; ids and indices both
// change frame to frame, so nothing here is reusable across frames.
// An empty request yields an empty selection without touching any state.
func Resolve(result detector.Result, requestedIDs []int) Selection {
	if len(requestedIDs) == 0 || len(result.Markers) == 0 {
		return Selection{}
	}

	table := result.IndexByID()
	indices := make([]int, 0, len(requestedIDs))
	for _, id := range requestedIDs {
		if idx, ok := table[id]; ok {
			indices = append(indices, idx)
		}
	}
	return Selection{Indices: indices}
}
