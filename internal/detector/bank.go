// Package detector owns the session's marker-detector instances and the
// current per-frame detection result. The bank holds an ordered collection of
// independent engine detectors; exactly one is active at a time.
package detector

import (
	"fmt"

	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// Result is the ordered marker list from the most recent detection pass.
// Markers are indexed by detection order; the index is not the marker id.
// Every detection pass replaces the previous result wholesale.
type Result struct {
	Markers []vision.DetectedMarker
}

// IndexByID builds the id-to-index table for this result. The table is valid
// for this result only; both ids and indices change frame to frame.
func (r Result) IndexByID() map[int]int {
	table := make(map[int]int, len(r.Markers))
	for i, m := range r.Markers {
		table[m.ID] = i
	}
	return table
}

// Bank owns an ordered collection of detector instances, selected by index.
type Bank struct {
	detectors []vision.Detector
	active    int

	last      Result
	hasResult bool

	// Track-error threshold recorded at the last Detect; DetectAdditional
	// reuses it because the host does not re-supply it at that point.
	trackErr float64
}

// NewBank creates a bank over the given detector instances. At least one
// instance is required; the first is active initially.
func NewBank(detectors ...vision.Detector) (*Bank, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("detector bank requires at least one detector instance")
	}
	return &Bank{detectors: detectors}, nil
}

// Count returns the number of owned detector instances.
func (b *Bank) Count() int {
	return len(b.detectors)
}

// Active returns the index of the active instance.
func (b *Bank) Active() int {
	return b.active
}

// SelectActive switches the active instance. A pure state switch: the
// detectors themselves are untouched and the current result stands until the
// next Detect.
func (b *Bank) SelectActive(index int) error {
	if index < 0 || index >= len(b.detectors) {
		return fmt.Errorf("detector index %d out of range [0,%d)", index, len(b.detectors))
	}
	b.active = index
	return nil
}

// ConfigureMarkerGeometry applies the marker geometry to every owned
// instance. Instances must not silently diverge in base geometry.
func (b *Bank) ConfigureMarkerGeometry(size float64, resolution int, margin float64) {
	for _, d := range b.detectors {
		d.SetMarkerGeometry(size, resolution, margin)
	}
}

// OverrideMarkerSize sets a per-id size override on a single instance.
// Overrides are per-instance state, not global: switching the active
// detector does not carry them over.
func (b *Bank) OverrideMarkerSize(instance, id int, size float64) error {
	if instance < 0 || instance >= len(b.detectors) {
		return fmt.Errorf("detector index %d out of range [0,%d)", instance, len(b.detectors))
	}
	b.detectors[instance].SetMarkerSizeForID(id, size)
	return nil
}

// Detect runs a full detection pass on the active instance, replacing the
// previous result, and records maxTrackError for later track-only passes.
func (b *Bank) Detect(f *vision.Frame, intr vision.Intrinsics, maxMarkerError, maxTrackError float64) (Result, error) {
	markers, err := b.detectors[b.active].Detect(f, intr, maxMarkerError, maxTrackError)
	if err != nil {
		return Result{}, fmt.Errorf("detector %d: %w", b.active, err)
	}
	b.last = Result{Markers: markers}
	b.hasResult = true
	b.trackErr = maxTrackError
	return b.last, nil
}

// SetTrackHints primes the active instance's next track-only pass.
func (b *Bank) SetTrackHints(hints []vision.TrackHint) {
	b.detectors[b.active].SetTrackHints(hints)
}

// DetectAdditional runs a track-only pass on the active instance, reusing
// the track-error threshold from the last Detect, and replaces the current
// result with the refined one. Only meaningful after a Detect in the same
// frame.
func (b *Bank) DetectAdditional(f *vision.Frame, intr vision.Intrinsics) (Result, error) {
	if !b.hasResult {
		return Result{}, fmt.Errorf("DetectAdditional called before Detect")
	}
	markers, err := b.detectors[b.active].DetectAdditional(f, intr, b.trackErr)
	if err != nil {
		return Result{}, fmt.Errorf("detector %d: %w", b.active, err)
	}
	b.last = Result{Markers: markers}
	return b.last, nil
}

// Result returns the current detection result and whether one exists.
func (b *Bank) Result() (Result, bool) {
	return b.last, b.hasResult
}

// Reset drops the current result and reverts to the first instance. Called
// when the camera is (re)initialized.
func (b *Bank) Reset() {
	b.active = 0
	b.last = Result{}
	b.hasResult = false
	b.trackErr = 0
}
