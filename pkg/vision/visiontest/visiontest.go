// Package visiontest provides scripted fakes for the vision engine
// contracts. Tests queue the observations each pass should return and assert
// afterwards on the configuration calls the session made.
package visiontest

import (
	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// SizeOverride records one SetMarkerSizeForID call.
type SizeOverride struct {
	ID   int
	Size float64
}

// Detector is a scripted vision.Detector. Each Detect call shifts the next
// result off Results; DetectAdditional shifts off AdditionalResults, falling
// back to the last full result when nothing is queued.
type Detector struct {
	Results           [][]vision.DetectedMarker
	AdditionalResults [][]vision.DetectedMarker

	// Recorded configuration state.
	MarkerSize    float64
	MarkerRes     int
	MarkerMargin  float64
	Overrides     []SizeOverride
	Hints         []vision.TrackHint
	DetectCalls   int
	TrackCalls    int
	LastMarkerErr float64
	LastTrackErr  float64

	lastResult []vision.DetectedMarker
}

var _ vision.Detector = (*Detector)(nil)

// SetMarkerGeometry records the configured marker geometry.
func (d *Detector) SetMarkerGeometry(size float64, resolution int, margin float64) {
	d.MarkerSize = size
	d.MarkerRes = resolution
	d.MarkerMargin = margin
}

// SetMarkerSizeForID records a per-id size override.
func (d *Detector) SetMarkerSizeForID(id int, size float64) {
	d.Overrides = append(d.Overrides, SizeOverride{ID: id, Size: size})
}

// Detect returns the next scripted result.
func (d *Detector) Detect(f *vision.Frame, intr vision.Intrinsics, maxMarkerError, maxTrackError float64) ([]vision.DetectedMarker, error) {
	d.DetectCalls++
	d.LastMarkerErr = maxMarkerError
	d.LastTrackErr = maxTrackError

	if len(d.Results) == 0 {
		d.lastResult = nil
		return nil, nil
	}
	d.lastResult = d.Results[0]
	d.Results = d.Results[1:]
	return d.lastResult, nil
}

// SetTrackHints records the hints for the next track-only pass.
func (d *Detector) SetTrackHints(hints []vision.TrackHint) {
	d.Hints = hints
}

// DetectAdditional returns the next scripted refined result, or the last full
// result when none is queued.
func (d *Detector) DetectAdditional(f *vision.Frame, intr vision.Intrinsics, maxTrackError float64) ([]vision.DetectedMarker, error) {
	d.TrackCalls++
	d.LastTrackErr = maxTrackError

	if len(d.AdditionalResults) == 0 {
		return d.lastResult, nil
	}
	d.lastResult = d.AdditionalResults[0]
	d.AdditionalResults = d.AdditionalResults[1:]
	return d.lastResult, nil
}

// PatternFinder is a scripted vision.PatternFinder. Found controls whether
// each call reports the pattern; Observation is returned on success.
type PatternFinder struct {
	Found       []bool
	Observation vision.ChessboardObservation
	Calls       int
}

var _ vision.PatternFinder = (*PatternFinder)(nil)

// FindChessboard shifts the next scripted outcome.
func (p *PatternFinder) FindChessboard(f *vision.Frame, squareSize float64, rows, cols int) (vision.ChessboardObservation, bool) {
	p.Calls++
	if len(p.Found) == 0 {
		return vision.ChessboardObservation{}, false
	}
	found := p.Found[0]
	p.Found = p.Found[1:]
	if !found {
		return vision.ChessboardObservation{}, false
	}
	return p.Observation, true
}

// Solver is a scripted vision.CalibrationSolver returning fixed intrinsics.
type Solver struct {
	Intrinsics vision.Intrinsics
	Err        error
	SolvedObs  int
}

var _ vision.CalibrationSolver = (*Solver)(nil)

// Solve returns the scripted intrinsics or error.
func (s *Solver) Solve(width, height int, obs []vision.ChessboardObservation) (vision.Intrinsics, error) {
	s.SolvedObs = len(obs)
	if s.Err != nil {
		return vision.Intrinsics{}, s.Err
	}
	return s.Intrinsics, nil
}
