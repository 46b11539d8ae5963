// Package calibration accumulates chessboard observations across frames and
// finalizes them into a camera calibration file.
package calibration

import (
	"fmt"

	"github.com/goblin-xna/alvar-extension/internal/camera"
	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// Session accumulates calibration-pattern observations. It runs
// independently of detection, consuming frames only while a calibration is
// being collected.
type Session struct {
	finder vision.PatternFinder
	solver vision.CalibrationSolver

	observations []vision.ChessboardObservation
	inProgress   bool
}

// NewSession creates a calibration session over the engine's pattern finder
// and solver.
func NewSession(finder vision.PatternFinder, solver vision.CalibrationSolver) *Session {
	return &Session{finder: finder, solver: solver}
}

// InProgress reports whether at least one observation has been accumulated
// since the last successful finalization.
func (s *Session) InProgress() bool {
	return s.inProgress
}

// ObservationCount returns the number of accumulated observations.
func (s *Session) ObservationCount() int {
	return len(s.observations)
}

// AddObservation searches the frame for a rows x cols chessboard of
// squareSize squares. On success the observation is accumulated and the
// session transitions to in-progress. Calls are independent: the pattern
// does not need to be found every frame.
func (s *Session) AddObservation(f *vision.Frame, squareSize float64, rows, cols int) bool {
	obs, found := s.finder.FindChessboard(f, squareSize, rows, cols)
	if !found {
		return false
	}
	s.observations = append(s.observations, obs)
	s.inProgress = true
	return true
}

// Finalize solves the calibration from all accumulated observations, applies
// it to the camera model and persists it to path.
//
// Only valid while in progress. The accumulator is cleared unconditionally
// once solving is attempted; the in-progress flag is cleared only when the
// save succeeds, so a failed save lets the caller collect a fresh round of
// observations and retry. This mirrors the long-standing wrapper behavior
// hosts depend on.
func (s *Session) Finalize(path string, cam *camera.Model) error {
	if !s.inProgress {
		return fmt.Errorf("finalize called with no calibration in progress")
	}

	width, height := cam.Resolution()
	intr, err := s.solver.Solve(width, height, s.observations)
	s.observations = nil
	if err != nil {
		return fmt.Errorf("solving calibration: %w", err)
	}

	cam.SetIntrinsics(intr)
	if err := cam.SaveCalibration(path); err != nil {
		return fmt.Errorf("saving calibration: %w", err)
	}

	s.inProgress = false
	return nil
}

// Reset drops all accumulated state. Called when the camera is
// (re)initialized.
func (s *Session) Reset() {
	s.observations = nil
	s.inProgress = false
}
