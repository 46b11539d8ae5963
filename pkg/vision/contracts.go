package vision

// DetectedMarker is one marker observation from a detection pass. ID is the
// marker's encoded identifier, not its position in the result list. TrackError
// is the engine's per-marker tracking residual; lower is better.
type DetectedMarker struct {
	ID         int
	Pose       Pose
	TrackError float64
}

// TrackHint primes a detector to look for a specific marker near a predicted
// image location during a track-only pass. Corners are the four predicted
// image-plane corners of the marker, in marker winding order.
type TrackHint struct {
	ID      int
	Size    float64
	Corners [4]Point2
}

// Detector is one independent marker-detector instance inside the engine.
// Implementations own their per-instance configuration (marker geometry and
// per-id size overrides) and whatever tracking state carries between frames.
type Detector interface {
	// SetMarkerGeometry configures the physical edge length, the content
	// resolution level and the border margin used for every marker this
	// instance detects.
	SetMarkerGeometry(size float64, resolution int, margin float64)

	// SetMarkerSizeForID overrides the physical size of a single marker id
	// on this instance only.
	SetMarkerSizeForID(id int, size float64)

	// Detect runs a full detection pass and returns every marker found,
	// in detection order. The thresholds bound the acceptable detection and
	// tracking residuals.
	Detect(f *Frame, intr Intrinsics, maxMarkerError, maxTrackError float64) ([]DetectedMarker, error)

	// SetTrackHints primes the next DetectAdditional call with predicted
	// marker locations. Hints are consumed by that call.
	SetTrackHints(hints []TrackHint)

	// DetectAdditional runs a track-only pass extending the previous
	// Detect result with markers recovered from hints, and returns the
	// combined observation list.
	DetectAdditional(f *Frame, intr Intrinsics, maxTrackError float64) ([]DetectedMarker, error)
}

// ChessboardObservation is one frame's worth of calibration-pattern point
// correspondences.
type ChessboardObservation struct {
	ImagePoints  []Point2
	ObjectPoints []Point3
}

// PatternFinder locates a chessboard calibration pattern in a frame.
type PatternFinder interface {
	// FindChessboard searches for a rows x cols pattern of squareSize
	// squares. The boolean reports whether the full pattern was found.
	FindChessboard(f *Frame, squareSize float64, rows, cols int) (ChessboardObservation, bool)
}

// CalibrationSolver computes camera intrinsics from accumulated chessboard
// observations.
type CalibrationSolver interface {
	Solve(width, height int, obs []ChessboardObservation) (Intrinsics, error)
}
