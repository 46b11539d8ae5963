// Package session implements the per-frame tracking session: one explicit
// object owning the camera model, the detector bank, the interest selection,
// the bundle registry, the occlusion texture builder and the calibration
// session. The host drives it from a single thread in strict per-frame
// order; nothing here locks, suspends or runs concurrently with the caller
// except the optional background recorder.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/datatypes"

	"github.com/goblin-xna/alvar-extension/internal/bundle"
	"github.com/goblin-xna/alvar-extension/internal/calibration"
	"github.com/goblin-xna/alvar-extension/internal/camera"
	"github.com/goblin-xna/alvar-extension/internal/detector"
	"github.com/goblin-xna/alvar-extension/internal/interest"
	"github.com/goblin-xna/alvar-extension/internal/logging"
	"github.com/goblin-xna/alvar-extension/internal/occlusion"
	"github.com/goblin-xna/alvar-extension/internal/recorder"
	"github.com/goblin-xna/alvar-extension/internal/telemetry"
	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// Default detection thresholds, unchanged since the first wrapper release.
const (
	DefaultMaxMarkerError = 0.08
	DefaultMaxTrackError  = 0.2
)

// Default clip planes for the exported projection matrix.
const (
	DefaultNear = 0.1
	DefaultFar  = 1000.0
)

// Dependencies holds everything a session needs from the outside: the
// engine contracts and the optional ambient services.
type Dependencies struct {
	Detectors     []vision.Detector
	PatternFinder vision.PatternFinder
	Solver        vision.CalibrationSolver

	LogManager *logging.Manager
	Recorder   *recorder.Service   // optional
	Telemetry  *telemetry.Manager  // optional

	ExtensionVersion string
}

// MarkerPose is one resolved interested marker's export form.
type MarkerPose struct {
	ID     int
	Matrix [16]float64
}

// BundlePose is one bundle's export form. ID is the registration index.
type BundlePose struct {
	ID     int
	Matrix [16]float64
	Error  float64
}

// Session owns all per-session tracking state.
type Session struct {
	deps Dependencies
	log  *slog.Logger

	camera      *camera.Model
	bank        *detector.Bank
	registry    *bundle.Registry
	occlusion   *occlusion.Builder
	calibration *calibration.Session

	selection  interest.Selection
	lastFrame  *vision.Frame
	frameIndex uint64

	near, far float64

	defaultMarkerErr float64
	defaultTrackErr  float64

	framesProcessed metric.Int64Counter
	markersFound    metric.Int64Counter
	detectDuration  metric.Float64Histogram
}

// New builds a session over the given dependencies. At least one detector
// instance is required.
func New(deps Dependencies) (*Session, error) {
	bank, err := detector.NewBank(deps.Detectors...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		deps:        deps,
		log:         deps.LogManager.Logger(),
		camera:      camera.New(),
		bank:        bank,
		registry:    bundle.NewRegistry(),
		occlusion:   occlusion.New(),
		calibration: calibration.NewSession(deps.PatternFinder, deps.Solver),
		near:        DefaultNear,
		far:         DefaultFar,

		defaultMarkerErr: DefaultMaxMarkerError,
		defaultTrackErr:  DefaultMaxTrackError,
	}

	m := meter()
	if s.framesProcessed, err = m.Int64Counter(
		"session.frames.processed",
		metric.WithDescription("Total frames run through marker detection"),
	); err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	if s.markersFound, err = m.Int64Counter(
		"session.markers.found",
		metric.WithDescription("Total markers found across all frames"),
	); err != nil {
		return nil, fmt.Errorf("creating markers counter: %w", err)
	}
	if s.detectDuration, err = m.Float64Histogram(
		"session.detect.duration_ms",
		metric.WithDescription("Detection pass duration in milliseconds"),
	); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return s, nil
}

// SetClipPlanes overrides the near/far planes used for the exported
// projection matrix.
func (s *Session) SetClipPlanes(near, far float64) {
	s.near = near
	s.far = far
}

// SetDefaultThresholds overrides the thresholds substituted when a detect
// call passes non-positive values. Non-positive arguments keep the current
// defaults.
func (s *Session) SetDefaultThresholds(maxMarkerError, maxTrackError float64) {
	if maxMarkerError > 0 {
		s.defaultMarkerErr = maxMarkerError
	}
	if maxTrackError > 0 {
		s.defaultTrackErr = maxTrackError
	}
}

// FrameIndex returns the number of detection frames processed so far. Also
// serves as the logging context provider's frame stamp.
func (s *Session) FrameIndex() uint64 {
	return s.frameIndex
}

// Resolution returns the configured camera resolution.
func (s *Session) Resolution() (width, height int) {
	return s.camera.Resolution()
}

// InitCamera sets the working resolution and loads the calibration file at
// calibPath (empty path skips straight to the synthetic fallback). It resets
// all derived session state: active detector, last detection result,
// interest selection, detect-additional mode and calibration progress.
// Reports whether an exact calibration was loaded.
func (s *Session) InitCamera(calibPath string, width, height int) (bool, error) {
	loaded, err := s.camera.Configure(calibPath, width, height)
	if err != nil {
		return false, err
	}

	s.bank.Reset()
	s.registry.SetDetectAdditional(false)
	s.calibration.Reset()
	s.selection = interest.Selection{}
	s.lastFrame = nil

	calib := "synthetic"
	if loaded {
		calib = "loaded"
	}
	s.log.Info("Camera initialized", "width", width, "height", height, "calibration", calib)

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.StartSession(width, height, loaded, s.deps.ExtensionVersion); err != nil {
			s.log.Error("Failed to start recording session", "error", err)
		}
	}
	return loaded, nil
}

// CameraParams derives the projection matrix and fields of view from the
// current camera state. Recomputed on every call.
func (s *Session) CameraParams() (proj [16]float64, fovX, fovY float64, err error) {
	if !s.camera.Configured() {
		return proj, 0, 0, fmt.Errorf("camera not initialized")
	}
	return s.camera.ProjectionMatrix(s.near, s.far), s.camera.FovX(), s.camera.FovY(), nil
}

// InitMarkerDetector applies the marker geometry to every detector
// instance.
func (s *Session) InitMarkerDetector(size float64, resolution int, margin float64) {
	s.bank.ConfigureMarkerGeometry(size, resolution, margin)
	s.log.Debug("Marker detector configured", "size", size, "resolution", resolution, "margin", margin)
}

// SelectDetector switches the active detector instance.
func (s *Session) SelectDetector(index int) error {
	return s.bank.SelectActive(index)
}

// SetMarkerSize overrides one marker id's physical size on one detector
// instance.
func (s *Session) SetMarkerSize(instance, id int, size float64) error {
	return s.bank.OverrideMarkerSize(instance, id, size)
}

// SetHideTextureConfig configures the occlusion texture layout.
func (s *Session) SetHideTextureConfig(size, depth, channels int, margin float64) error {
	return s.occlusion.Configure(size, depth, channels, margin)
}

// HideTextureBytes returns the per-marker byte length of an occlusion
// texture under the current configuration.
func (s *Session) HideTextureBytes() int {
	return s.occlusion.TextureBytes()
}

// AddMultiMarker registers a bundle from a geometry file. The error from a
// failed parse propagates; the registry is left unchanged in that case.
func (s *Session) AddMultiMarker(memberIDs []int, path string) error {
	if err := s.registry.Register(memberIDs, path); err != nil {
		s.log.Error("Failed to register multi-marker bundle", "path", path, "error", err)
		return err
	}
	s.log.Info("Multi-marker bundle registered", "path", path, "bundleId", s.registry.Count()-1)
	return nil
}

// SetDetectAdditional toggles the bundle refine-and-retry behavior.
func (s *Session) SetDetectAdditional(enabled bool) {
	s.registry.SetDetectAdditional(enabled)
}

// DetectMarkers runs a full detection pass and resolves the requested ids
// against it. It returns the total number of markers found and how many of
// the requested ids were matched. A fresh detection always replaces the
// previous result and interest selection; with an empty request list the
// selection simply stays empty until the host resolves again. Non-positive
// thresholds fall back to the session defaults.
func (s *Session) DetectMarkers(f *vision.Frame, requestedIDs []int, maxMarkerError, maxTrackError float64) (found, resolved int, err error) {
	if !s.camera.Configured() {
		return 0, 0, fmt.Errorf("camera not initialized")
	}
	if maxMarkerError <= 0 {
		maxMarkerError = s.defaultMarkerErr
	}
	if maxTrackError <= 0 {
		maxTrackError = s.defaultTrackErr
	}
	if err := f.Validate(); err != nil {
		return 0, 0, err
	}
	width, height := s.camera.Resolution()
	if f.Width != width || f.Height != height {
		return 0, 0, fmt.Errorf("frame resolution %dx%d does not match camera %dx%d", f.Width, f.Height, width, height)
	}

	start := time.Now()
	result, err := s.bank.Detect(f, s.camera.Intrinsics(), maxMarkerError, maxTrackError)
	if err != nil {
		return 0, 0, err
	}
	elapsed := time.Since(start)

	s.frameIndex++
	s.lastFrame = f
	s.selection = interest.Resolve(result, requestedIDs)

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Int("detector", s.bank.Active()))
	s.framesProcessed.Add(ctx, 1, attrs)
	s.markersFound.Add(ctx, int64(len(result.Markers)), attrs)
	s.detectDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)

	if s.deps.Telemetry != nil {
		s.deps.Telemetry.RecordFrame(s.frameIndex, s.bank.Active(), len(result.Markers), s.selection.Count(), elapsed)
	}
	if s.deps.Recorder != nil {
		s.recordMarkers(result)
	}

	return len(result.Markers), s.selection.Count(), nil
}

// recordMarkers queues the resolved markers for the background recorder.
func (s *Session) recordMarkers(result detector.Result) {
	now := time.Now()
	obs := make([]recorder.MarkerObservation, 0, s.selection.Count())
	for _, idx := range s.selection.Indices {
		m := result.Markers[idx]
		obs = append(obs, recorder.MarkerObservation{
			FrameIndex:    s.frameIndex,
			Time:          now,
			MarkerID:      m.ID,
			DetectorIndex: s.bank.Active(),
			PoseMatrix:    poseJSON(m.Pose.MatrixGL()),
			TrackError:    m.TrackError,
		})
	}
	if len(obs) > 0 {
		s.deps.Recorder.QueueMarkers(obs...)
	}
}

// Poses exports the resolved interest selection: one id and pose matrix per
// matched marker, in request order. When withTextures is set, one occlusion
// texture per marker is written into successive HideTextureBytes() slices of
// textures; the buffer must hold at least count*HideTextureBytes() bytes.
// An empty selection writes nothing and returns an empty slice.
func (s *Session) Poses(withTextures bool, textures []byte) ([]MarkerPose, error) {
	result, ok := s.bank.Result()
	if !ok || s.selection.Count() == 0 {
		return nil, nil
	}

	out := make([]MarkerPose, 0, s.selection.Count())
	for i, idx := range s.selection.Indices {
		m := result.Markers[idx]
		mp := MarkerPose{ID: m.ID, Matrix: m.Pose.MatrixGL()}

		if withTextures {
			if err := s.buildTexture(mp.Matrix, false, textures, i); err != nil {
				return out, err
			}
		}
		out = append(out, mp)
	}
	return out, nil
}

// BundlePoses updates every registered bundle against the current detection
// result and exports their aggregate poses, reprojection errors and,
// optionally, occlusion textures. Bundle ids are registration indices.
// Without a detection result, or with an empty one, nothing is computed and
// an empty slice returns.
func (s *Session) BundlePoses(withTextures bool, textures []byte) ([]BundlePose, error) {
	aggregates, err := s.registry.UpdateAll(s.bank, s.lastFrame, s.camera.Intrinsics())
	if err != nil {
		return nil, err
	}

	out := make([]BundlePose, 0, len(aggregates))
	for i, a := range aggregates {
		bp := BundlePose{ID: a.ID, Matrix: a.Pose.MatrixGL(), Error: a.Error}

		if withTextures {
			// The bundle-pose consumer expects the opposite channel
			// order from the single-marker consumer.
			if err := s.buildTexture(bp.Matrix, true, textures, i); err != nil {
				return out, err
			}
		}
		out = append(out, bp)

		if s.deps.Recorder != nil {
			s.recordBundle(bp)
		}
	}
	return out, nil
}

// buildTexture renders one occlusion texture into slot i of the destination
// buffer.
func (s *Session) buildTexture(mat [16]float64, swapRB bool, textures []byte, i int) error {
	tb := s.occlusion.TextureBytes()
	if len(textures) < (i+1)*tb {
		return fmt.Errorf("texture buffer too small: have %d bytes, need %d", len(textures), (i+1)*tb)
	}
	return s.occlusion.Build(s.lastFrame, s.camera.Intrinsics(), mat, swapRB, textures[i*tb:(i+1)*tb])
}

// recordBundle queues one bundle observation, including the image-plane
// footprint when the occlusion builder is configured.
func (s *Session) recordBundle(bp BundlePose) {
	obs := recorder.BundleObservation{
		FrameIndex:        s.frameIndex,
		Time:              time.Now(),
		BundleIndex:       bp.ID,
		PoseMatrix:        poseJSON(bp.Matrix),
		ReprojectionError: bp.Error,
	}
	if s.occlusion.Configured() {
		if poly, err := s.occlusion.Footprint(s.camera.Intrinsics(), bp.Matrix); err == nil {
			obs.Footprint = poly
		}
	}
	s.deps.Recorder.QueueBundles(obs)
}

// Calibrate feeds one frame to the calibration session. Reports whether the
// chessboard pattern was found.
func (s *Session) Calibrate(f *vision.Frame, squareSize float64, rows, cols int) bool {
	if !s.camera.Configured() {
		return false
	}
	if err := f.Validate(); err != nil {
		s.log.Error("Calibration frame rejected", "error", err)
		return false
	}

	found := s.calibration.AddObservation(f, squareSize, rows, cols)

	if s.deps.Telemetry != nil {
		s.deps.Telemetry.RecordCalibration("observation", found, s.calibration.ObservationCount())
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.QueueCalibrationEvent(recorder.CalibrationEvent{
			Time:         time.Now(),
			Kind:         "observation",
			Success:      found,
			Observations: s.calibration.ObservationCount(),
		})
	}
	return found
}

// FinalizeCalibration solves and persists the accumulated calibration.
// Reports success; on failure the session-level policy in the calibration
// package decides what survives for a retry.
func (s *Session) FinalizeCalibration(path string) bool {
	err := s.calibration.Finalize(path, s.camera)
	if err != nil {
		s.log.Error("Calibration finalize failed", "path", path, "error", err)
	} else {
		s.log.Info("Calibration saved", "path", path)
	}

	if s.deps.Telemetry != nil {
		s.deps.Telemetry.RecordCalibration("finalize", err == nil, s.calibration.ObservationCount())
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.QueueCalibrationEvent(recorder.CalibrationEvent{
			Time:       time.Now(),
			Kind:       "finalize",
			Success:    err == nil,
			OutputPath: path,
		})
	}
	return err == nil
}

// Close shuts down the optional services.
func (s *Session) Close() {
	if s.deps.Recorder != nil {
		s.deps.Recorder.Close()
	}
	if s.deps.Telemetry != nil {
		s.deps.Telemetry.Close()
	}
}

// poseJSON serializes a pose matrix for database storage.
func poseJSON(mat [16]float64) datatypes.JSON {
	data, err := json.Marshal(mat[:])
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}
