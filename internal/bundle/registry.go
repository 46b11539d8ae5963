package bundle

import (
	"fmt"

	"github.com/goblin-xna/alvar-extension/internal/detector"
	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// Aggregate is one bundle's result from an update pass. ID is the bundle's
// registration index, not a member marker id.
type Aggregate struct {
	ID    int
	Pose  vision.Pose
	Error float64
}

// Registry owns the registered bundles in registration order. A bundle's
// numeric id is its registration index.
type Registry struct {
	bundles          []*Bundle
	detectAdditional bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register parses bundle geometry from path and appends a new bundle. The
// file extension selects the parser: ".xml" for the XML-tagged form,
// anything else for the default line-oriented form. A parse failure
// propagates and leaves the registry unchanged; no half-initialized bundle
// is ever appended. When memberIDs is non-empty the parsed geometry is
// restricted to those ids.
func (r *Registry) Register(memberIDs []int, path string) error {
	members, err := LoadGeometry(path)
	if err != nil {
		return fmt.Errorf("registering bundle: %w", err)
	}
	b, err := newBundle(members, memberIDs)
	if err != nil {
		return fmt.Errorf("registering bundle from %s: %w", path, err)
	}
	r.bundles = append(r.bundles, b)
	return nil
}

// Count returns the number of registered bundles.
func (r *Registry) Count() int {
	return len(r.bundles)
}

// Bundle returns the bundle at the given registration index.
func (r *Registry) Bundle(i int) *Bundle {
	return r.bundles[i]
}

// SetDetectAdditional toggles the refine-and-retry behavior in UpdateAll.
func (r *Registry) SetDetectAdditional(enabled bool) {
	r.detectAdditional = enabled
}

// DetectAdditional reports whether refine-and-retry is enabled.
func (r *Registry) DetectAdditional() bool {
	return r.detectAdditional
}

// UpdateAll recomputes every bundle's aggregate pose and reprojection error
// from the bank's current detection result, in registration order.
//
// When detect-additional mode is on, each bundle update is two-phase: the
// raw pass computes a provisional pose, that pose primes the active detector
// with track hints, one track-only detection extends the result, and the
// bundle is recomputed from the refined result. Only the second computation
// is kept: the point is to let a bundle seen through too few confident
// markers be completed by tracking-only recovery of the rest. The refined
// detection result also carries forward to later bundles, matching the
// shared-detector behavior hosts rely on.
//
// With no detection result, or an empty one, UpdateAll returns nil.
func (r *Registry) UpdateAll(bank *detector.Bank, f *vision.Frame, intr vision.Intrinsics) ([]Aggregate, error) {
	result, ok := bank.Result()
	if !ok || len(result.Markers) == 0 {
		return nil, nil
	}

	out := make([]Aggregate, 0, len(r.bundles))
	for i, b := range r.bundles {
		if r.detectAdditional {
			pose, _ := b.update(result, intr)
			bank.SetTrackHints(b.trackHints(intr, pose))
			refined, err := bank.DetectAdditional(f, intr)
			if err != nil {
				return out, fmt.Errorf("bundle %d refine pass: %w", i, err)
			}
			result = refined
		}

		pose, reprojErr := b.update(result, intr)
		out = append(out, Aggregate{ID: i, Pose: pose, Error: reprojErr})
	}
	return out, nil
}
