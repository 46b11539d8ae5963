package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goblin-xna/alvar-extension/internal/logging"
	"github.com/goblin-xna/alvar-extension/pkg/vision"
	"github.com/goblin-xna/alvar-extension/pkg/vision/visiontest"
)

func newTestSession(t *testing.T, detectors ...vision.Detector) (*Session, *visiontest.PatternFinder, *visiontest.Solver) {
	t.Helper()
	if len(detectors) == 0 {
		detectors = []vision.Detector{&visiontest.Detector{}, &visiontest.Detector{}}
	}
	finder := &visiontest.PatternFinder{}
	solver := &visiontest.Solver{Intrinsics: vision.Intrinsics{Fx: 100, Fy: 100, Cx: 32, Cy: 32}}

	s, err := New(Dependencies{
		Detectors:        detectors,
		PatternFinder:    finder,
		Solver:           solver,
		LogManager:       logging.NewManager(),
		ExtensionVersion: "test",
	})
	require.NoError(t, err)
	return s, finder, solver
}

func grayFrame(t *testing.T, w, h int) *vision.Frame {
	t.Helper()
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * 3
			pix[off] = byte(x)
			pix[off+1] = byte(y)
			pix[off+2] = byte(x ^ y)
		}
	}
	f, err := vision.NewFrame(w, h, 3, [4]byte{'R', 'G', 'B', 0}, [4]byte{'R', 'G', 'B', 0}, pix)
	require.NoError(t, err)
	return f
}

func markerAt(id int, x, y, z float64) vision.DetectedMarker {
	return vision.DetectedMarker{
		ID:   id,
		Pose: vision.Pose{Rotation: vision.Identity(), Translation: [3]float64{x, y, z}},
	}
}

func TestNew_RequiresDetectors(t *testing.T) {
	_, err := New(Dependencies{LogManager: logging.NewManager()})
	assert.Error(t, err)
}

func TestInitCamera_SyntheticFallbackAndReset(t *testing.T) {
	d := &visiontest.Detector{Results: [][]vision.DetectedMarker{{markerAt(7, 0, 0, 10)}}}
	s, _, _ := newTestSession(t, d, &visiontest.Detector{})

	loaded, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)
	assert.False(t, loaded)

	require.NoError(t, s.SelectDetector(1))
	_, resolved, err := s.DetectMarkers(grayFrame(t, 64, 64), []int{7}, 0.08, 0.2)
	require.NoError(t, err)
	_ = resolved

	// Re-initialization drops the active-detector selection, the detection
	// result and the interest selection.
	loaded, err = s.InitCamera("", 64, 64)
	require.NoError(t, err)
	assert.False(t, loaded)

	poses, err := s.Poses(false, nil)
	require.NoError(t, err)
	assert.Empty(t, poses)
}

func TestDetectMarkers_RequiresInitCamera(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, _, err := s.DetectMarkers(grayFrame(t, 64, 64), nil, 0.08, 0.2)
	assert.Error(t, err)
}

func TestDetectMarkers_RejectsMismatchedResolution(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	_, _, err = s.DetectMarkers(grayFrame(t, 32, 32), nil, 0.08, 0.2)
	assert.Error(t, err)
}

func TestDetectMarkers_CountsAndOrder(t *testing.T) {
	d := &visiontest.Detector{Results: [][]vision.DetectedMarker{{
		markerAt(3, -1, 0, 10),
		markerAt(7, 1, 0, 10),
	}}}
	s, _, _ := newTestSession(t, d)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	found, resolved, err := s.DetectMarkers(grayFrame(t, 64, 64), []int{7, 3, 9}, 0.08, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 2, found)
	assert.Equal(t, 2, resolved)

	poses, err := s.Poses(false, nil)
	require.NoError(t, err)
	require.Len(t, poses, 2)
	assert.Equal(t, 7, poses[0].ID, "request order, not detection order")
	assert.Equal(t, 3, poses[1].ID)
	assert.Equal(t, 1.0, poses[0].Matrix[12])
}

func TestDetectMarkers_EmptyFrame(t *testing.T) {
	s, _, _ := newTestSession(t, &visiontest.Detector{})
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	found, resolved, err := s.DetectMarkers(grayFrame(t, 64, 64), []int{1, 2}, 0.08, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 0, found)
	assert.Equal(t, 0, resolved)

	poses, err := s.Poses(true, nil)
	require.NoError(t, err)
	assert.Empty(t, poses, "no resolved markers means no writes at all")
}

func TestDetectMarkers_ThresholdsReachTheEngine(t *testing.T) {
	d := &visiontest.Detector{}
	s, _, _ := newTestSession(t, d)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), nil, 0.11, 0.4)
	require.NoError(t, err)
	assert.Equal(t, 0.11, d.LastMarkerErr)
	assert.Equal(t, 0.4, d.LastTrackErr)
}

func TestDetectMarkers_NonPositiveThresholdsUseDefaults(t *testing.T) {
	d := &visiontest.Detector{}
	s, _, _ := newTestSession(t, d)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMarkerError, d.LastMarkerErr)
	assert.Equal(t, DefaultMaxTrackError, d.LastTrackErr)

	// Configured defaults replace the built-in ones.
	s.SetDefaultThresholds(0.05, 0.3)
	_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), nil, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.05, d.LastMarkerErr)
	assert.Equal(t, 0.3, d.LastTrackErr)

	// Explicit positive thresholds still win.
	_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), nil, 0.11, 0.4)
	require.NoError(t, err)
	assert.Equal(t, 0.11, d.LastMarkerErr)
	assert.Equal(t, 0.4, d.LastTrackErr)
}

func TestCameraParams(t *testing.T) {
	s, _, _ := newTestSession(t)

	_, _, _, err := s.CameraParams()
	assert.Error(t, err, "camera params before init camera")

	_, err2 := s.InitCamera("", 64, 64)
	require.NoError(t, err2)

	a, fovXA, fovYA, err := s.CameraParams()
	require.NoError(t, err)
	b, fovXB, fovYB, err := s.CameraParams()
	require.NoError(t, err)

	assert.Equal(t, a, b, "projection matrix must be bit-identical across calls")
	assert.Equal(t, fovXA, fovXB)
	assert.Equal(t, fovYA, fovYB)
	assert.Equal(t, -1.0, a[11])
}

func TestSetMarkerSize_PerInstanceIsolation(t *testing.T) {
	d0 := &visiontest.Detector{}
	d1 := &visiontest.Detector{}
	s, _, _ := newTestSession(t, d0, d1)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	require.NoError(t, s.SetMarkerSize(0, 12, 4.0))
	require.NoError(t, s.SelectDetector(1))

	assert.Len(t, d0.Overrides, 1)
	assert.Empty(t, d1.Overrides, "switching detectors must not copy overrides")
}

func TestInitMarkerDetector_FansOut(t *testing.T) {
	d0 := &visiontest.Detector{}
	d1 := &visiontest.Detector{}
	s, _, _ := newTestSession(t, d0, d1)

	s.InitMarkerDetector(9.0, 5, 2.0)
	assert.Equal(t, 9.0, d0.MarkerSize)
	assert.Equal(t, 9.0, d1.MarkerSize)
}

func TestBundlePoses(t *testing.T) {
	d := &visiontest.Detector{Results: [][]vision.DetectedMarker{{
		markerAt(0, 0, 0, 100),
		markerAt(5, 12.5, 0, 100),
	}}}
	s, _, _ := newTestSession(t, d)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	geomPath := filepath.Join(t.TempDir(), "bundle.txt")
	require.NoError(t, os.WriteFile(geomPath, []byte("2\n0 9.0 0 0 0 1 0 0 0\n5 9.0 12.5 0 0 1 0 0 0\n"), 0o644))
	require.NoError(t, s.AddMultiMarker([]int{0, 5}, geomPath))

	_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), nil, 0.08, 0.2)
	require.NoError(t, err)

	bundles, err := s.BundlePoses(false, nil)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, 0, bundles[0].ID)
	assert.InDelta(t, 100, bundles[0].Matrix[14], 1e-9)
	assert.InDelta(t, 0, bundles[0].Error, 1e-9)
}

func TestAddMultiMarker_BadGeometry(t *testing.T) {
	s, _, _ := newTestSession(t)
	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("nonsense\n"), 0o644))

	assert.Error(t, s.AddMultiMarker(nil, path))
}

func TestTexture_ChannelSwapBetweenPaths(t *testing.T) {
	d := &visiontest.Detector{Results: [][]vision.DetectedMarker{{markerAt(0, 0, 0, 10)}}}
	s, _, _ := newTestSession(t, d)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)
	require.NoError(t, s.SetHideTextureConfig(8, 8, 3, 2))

	geomPath := filepath.Join(t.TempDir(), "bundle.txt")
	require.NoError(t, os.WriteFile(geomPath, []byte("1\n0 9.0 0 0 0 1 0 0 0\n"), 0o644))
	require.NoError(t, s.AddMultiMarker(nil, geomPath))

	_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), []int{0}, 0.08, 0.2)
	require.NoError(t, err)

	single := make([]byte, s.HideTextureBytes())
	poses, err := s.Poses(true, single)
	require.NoError(t, err)
	require.Len(t, poses, 1)

	bundleTex := make([]byte, s.HideTextureBytes())
	bundles, err := s.BundlePoses(true, bundleTex)
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	// Same pose, same frame: the two buffers are R/B swapped copies.
	for i := 0; i < len(single); i += 3 {
		assert.Equal(t, single[i], bundleTex[i+2])
		assert.Equal(t, single[i+1], bundleTex[i+1])
		assert.Equal(t, single[i+2], bundleTex[i])
	}
}

func TestPoses_UndersizedTextureBuffer(t *testing.T) {
	d := &visiontest.Detector{Results: [][]vision.DetectedMarker{{markerAt(0, 0, 0, 10)}}}
	s, _, _ := newTestSession(t, d)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)
	require.NoError(t, s.SetHideTextureConfig(8, 8, 3, 2))

	_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), []int{0}, 0.08, 0.2)
	require.NoError(t, err)

	_, err = s.Poses(true, make([]byte, s.HideTextureBytes()-1))
	assert.Error(t, err)
}

func TestCalibrationFlow(t *testing.T) {
	s, finder, solver := newTestSession(t)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	finder.Found = []bool{true, false, true}
	f := grayFrame(t, 64, 64)

	assert.True(t, s.Calibrate(f, 2.5, 6, 8))
	assert.False(t, s.Calibrate(f, 2.5, 6, 8))
	assert.True(t, s.Calibrate(f, 2.5, 6, 8))

	path := filepath.Join(t.TempDir(), "calib.json")
	assert.True(t, s.FinalizeCalibration(path))
	assert.Equal(t, 2, solver.SolvedObs)

	// The accumulator was consumed; an immediate retry fails.
	assert.False(t, s.FinalizeCalibration(path))
}

func TestFrameIndex_AdvancesPerDetect(t *testing.T) {
	d := &visiontest.Detector{}
	s, _, _ := newTestSession(t, d)
	_, err := s.InitCamera("", 64, 64)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), s.FrameIndex())
	for i := 1; i <= 3; i++ {
		_, _, err = s.DetectMarkers(grayFrame(t, 64, 64), nil, 0.08, 0.2)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), s.FrameIndex())
	}
}
