// Package camera owns the session's camera model: the current resolution,
// the intrinsics (loaded from a calibration file or synthesized from the
// resolution), and the projection parameters derived from them.
package camera

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// calibrationFile is the on-disk JSON form of a calibration.
type calibrationFile struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Fx         float64    `json:"fx"`
	Fy         float64    `json:"fy"`
	Cx         float64    `json:"cx"`
	Cy         float64    `json:"cy"`
	Distortion [4]float64 `json:"distortion"`
}

// Model holds the camera calibration state. Exactly one of two modes is
// active at a time: a calibration loaded from a file, or a synthetic
// calibration derived from the resolution alone.
type Model struct {
	width  int
	height int
	intr   vision.Intrinsics
	loaded bool
}

// New returns an unconfigured camera model.
func New() *Model {
	return &Model{}
}

// Configure sets the working resolution and loads intrinsics from calibPath.
// When calibPath is empty or the file cannot be read or parsed, a synthetic
// calibration is derived from the resolution instead and Configure reports
// false. Absence of a calibration file is an expected operating mode, so
// this never fails outright.
func (m *Model) Configure(calibPath string, width, height int) (loaded bool, err error) {
	if width <= 0 || height <= 0 {
		return false, fmt.Errorf("camera resolution %dx%d is invalid", width, height)
	}
	m.width = width
	m.height = height

	if calibPath != "" {
		if cf, loadErr := readCalibrationFile(calibPath); loadErr == nil {
			m.intr = scaleIntrinsics(cf, width, height)
			m.loaded = true
			return true, nil
		}
	}

	m.intr = SyntheticIntrinsics(width, height)
	m.loaded = false
	return false, nil
}

// readCalibrationFile parses a JSON calibration file.
func readCalibrationFile(path string) (calibrationFile, error) {
	var cf calibrationFile
	data, err := os.ReadFile(path)
	if err != nil {
		return cf, fmt.Errorf("reading calibration file: %w", err)
	}
	if err := json.Unmarshal(data, &cf); err != nil {
		return cf, fmt.Errorf("parsing calibration file %s: %w", path, err)
	}
	if cf.Fx <= 0 || cf.Fy <= 0 {
		return cf, fmt.Errorf("calibration file %s has non-positive focal length", path)
	}
	return cf, nil
}

// scaleIntrinsics adapts file intrinsics recorded at one resolution to the
// working resolution.
func scaleIntrinsics(cf calibrationFile, width, height int) vision.Intrinsics {
	intr := vision.Intrinsics{
		Fx: cf.Fx, Fy: cf.Fy,
		Cx: cf.Cx, Cy: cf.Cy,
		Distortion: cf.Distortion,
	}
	if cf.Width > 0 && cf.Height > 0 && (cf.Width != width || cf.Height != height) {
		sx := float64(width) / float64(cf.Width)
		sy := float64(height) / float64(cf.Height)
		intr.Fx *= sx
		intr.Fy *= sy
		intr.Cx *= sx
		intr.Cy *= sy
	}
	return intr
}

// SyntheticIntrinsics derives an approximate calibration from a resolution:
// focal length equal to the image width, principal point at the center, no
// distortion. Good enough for quick tests without a calibrated camera.
func SyntheticIntrinsics(width, height int) vision.Intrinsics {
	return vision.Intrinsics{
		Fx: float64(width),
		Fy: float64(width),
		Cx: float64(width) / 2,
		Cy: float64(height) / 2,
	}
}

// Configured reports whether a resolution has been set.
func (m *Model) Configured() bool {
	return m.width > 0 && m.height > 0
}

// Loaded reports whether the current calibration came from a file rather
// than the synthetic fallback.
func (m *Model) Loaded() bool {
	return m.loaded
}

// Resolution returns the working resolution.
func (m *Model) Resolution() (width, height int) {
	return m.width, m.height
}

// Intrinsics returns the active intrinsics.
func (m *Model) Intrinsics() vision.Intrinsics {
	return m.intr
}

// SetIntrinsics replaces the active calibration with a freshly solved one,
// marking it as loaded. Used when a calibration session finalizes.
func (m *Model) SetIntrinsics(intr vision.Intrinsics) {
	m.intr = intr
	m.loaded = true
}

// ProjectionMatrix derives the OpenGL-convention column-major projection
// matrix from the active intrinsics and resolution for the given clip
// planes. It is computed fresh on every call; resolution and calibration may
// change between calls and a cached matrix would go stale silently.
func (m *Model) ProjectionMatrix(near, far float64) [16]float64 {
	w := float64(m.width)
	h := float64(m.height)

	var p [16]float64
	p[0] = 2 * m.intr.Fx / w
	p[5] = 2 * m.intr.Fy / h
	p[8] = 2*(m.intr.Cx/w) - 1
	p[9] = 2*(m.intr.Cy/h) - 1
	p[10] = -(far + near) / (far - near)
	p[11] = -1
	p[14] = -2 * far * near / (far - near)
	return p
}

// FovX returns the horizontal field of view in radians.
func (m *Model) FovX() float64 {
	return 2 * math.Atan(float64(m.width)/(2*m.intr.Fx))
}

// FovY returns the vertical field of view in radians.
func (m *Model) FovY() float64 {
	return 2 * math.Atan(float64(m.height)/(2*m.intr.Fy))
}

// SaveCalibration persists the active calibration as JSON.
func (m *Model) SaveCalibration(path string) error {
	cf := calibrationFile{
		Width: m.width, Height: m.height,
		Fx: m.intr.Fx, Fy: m.intr.Fy,
		Cx: m.intr.Cx, Cy: m.intr.Cy,
		Distortion: m.intr.Distortion,
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing calibration file: %w", err)
	}
	return nil
}
