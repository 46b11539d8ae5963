package main

/*
#cgo LDFLAGS: -lalvarshim

#include <stdlib.h>

// Flat C shim over the vision engine. The shim library owns the detector
// instances; handles index into its internal table.
extern int  alvarshim_detector_new(void);
extern void alvarshim_detector_set_geometry(int handle, double size, int resolution, double margin);
extern void alvarshim_detector_set_marker_size(int handle, int id, double size);
extern int  alvarshim_detector_detect(int handle, const unsigned char* pix, int width, int height,
	int channels, const char* colorModel, const char* channelSeq, const double* intrinsics,
	double maxMarkerError, double maxTrackError);
extern void alvarshim_detector_results(int handle, int* ids, double* poses, double* trackErrors);
extern void alvarshim_detector_set_hints(int handle, int count, const int* ids,
	const double* sizes, const double* corners);
extern int  alvarshim_detector_detect_additional(int handle, const unsigned char* pix, int width,
	int height, int channels, const char* colorModel, const char* channelSeq,
	const double* intrinsics, double maxTrackError);
extern int  alvarshim_find_chessboard(const unsigned char* pix, int width, int height, int channels,
	double squareSize, int rows, int cols, double* imagePoints, double* objectPoints);
extern int  alvarshim_solve_calibration(int width, int height, int frames, const int* pointCounts,
	const double* imagePoints, const double* objectPoints, double* intrinsics);
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// engineDetector adapts one shim detector instance to the Detector contract.
type engineDetector struct {
	handle C.int
}

func newEngineDetector() *engineDetector {
	return &engineDetector{handle: C.alvarshim_detector_new()}
}

func (d *engineDetector) SetMarkerGeometry(size float64, resolution int, margin float64) {
	C.alvarshim_detector_set_geometry(d.handle, C.double(size), C.int(resolution), C.double(margin))
}

func (d *engineDetector) SetMarkerSizeForID(id int, size float64) {
	C.alvarshim_detector_set_marker_size(d.handle, C.int(id), C.double(size))
}

func (d *engineDetector) Detect(f *vision.Frame, intr vision.Intrinsics, maxMarkerError, maxTrackError float64) ([]vision.DetectedMarker, error) {
	if len(f.Pix) == 0 {
		return nil, fmt.Errorf("empty frame buffer")
	}
	ci := packIntrinsics(intr)

	n := C.alvarshim_detector_detect(d.handle,
		(*C.uchar)(unsafe.Pointer(&f.Pix[0])),
		C.int(f.Width), C.int(f.Height), C.int(f.Channels),
		(*C.char)(unsafe.Pointer(&f.ColorModel[0])),
		(*C.char)(unsafe.Pointer(&f.ChannelSeq[0])),
		&ci[0], C.double(maxMarkerError), C.double(maxTrackError))
	if n < 0 {
		return nil, fmt.Errorf("engine detection failed: code %d", int(n))
	}
	return d.collectResults(int(n)), nil
}

func (d *engineDetector) SetTrackHints(hints []vision.TrackHint) {
	if len(hints) == 0 {
		C.alvarshim_detector_set_hints(d.handle, 0, nil, nil, nil)
		return
	}

	ids := make([]C.int, len(hints))
	sizes := make([]C.double, len(hints))
	corners := make([]C.double, len(hints)*8)
	for i, h := range hints {
		ids[i] = C.int(h.ID)
		sizes[i] = C.double(h.Size)
		for j, c := range h.Corners {
			corners[i*8+j*2] = C.double(c.X)
			corners[i*8+j*2+1] = C.double(c.Y)
		}
	}
	C.alvarshim_detector_set_hints(d.handle, C.int(len(hints)), &ids[0], &sizes[0], &corners[0])
}

func (d *engineDetector) DetectAdditional(f *vision.Frame, intr vision.Intrinsics, maxTrackError float64) ([]vision.DetectedMarker, error) {
	if len(f.Pix) == 0 {
		return nil, fmt.Errorf("empty frame buffer")
	}
	ci := packIntrinsics(intr)

	n := C.alvarshim_detector_detect_additional(d.handle,
		(*C.uchar)(unsafe.Pointer(&f.Pix[0])),
		C.int(f.Width), C.int(f.Height), C.int(f.Channels),
		(*C.char)(unsafe.Pointer(&f.ColorModel[0])),
		(*C.char)(unsafe.Pointer(&f.ChannelSeq[0])),
		&ci[0], C.double(maxTrackError))
	if n < 0 {
		return nil, fmt.Errorf("engine track pass failed: code %d", int(n))
	}
	return d.collectResults(int(n)), nil
}

// collectResults drains the shim's current marker list. Poses come back as 7
// doubles per marker: translation xyz then quaternion wxyz.
func (d *engineDetector) collectResults(n int) []vision.DetectedMarker {
	if n == 0 {
		return nil
	}

	ids := make([]C.int, n)
	poses := make([]C.double, n*7)
	trackErrs := make([]C.double, n)
	C.alvarshim_detector_results(d.handle, &ids[0], &poses[0], &trackErrs[0])

	out := make([]vision.DetectedMarker, n)
	for i := range out {
		p := poses[i*7 : i*7+7]
		out[i] = vision.DetectedMarker{
			ID: int(ids[i]),
			Pose: vision.Pose{
				Translation: [3]float64{float64(p[0]), float64(p[1]), float64(p[2])},
				Rotation: vision.Quaternion{
					W: float64(p[3]), X: float64(p[4]), Y: float64(p[5]), Z: float64(p[6]),
				},
			},
			TrackError: float64(trackErrs[i]),
		}
	}
	return out
}

// enginePatternFinder locates chessboard patterns through the shim.
type enginePatternFinder struct{}

func (enginePatternFinder) FindChessboard(f *vision.Frame, squareSize float64, rows, cols int) (vision.ChessboardObservation, bool) {
	if len(f.Pix) == 0 || rows <= 0 || cols <= 0 {
		return vision.ChessboardObservation{}, false
	}

	max := rows * cols
	imagePts := make([]C.double, max*2)
	objectPts := make([]C.double, max*3)

	n := C.alvarshim_find_chessboard(
		(*C.uchar)(unsafe.Pointer(&f.Pix[0])),
		C.int(f.Width), C.int(f.Height), C.int(f.Channels),
		C.double(squareSize), C.int(rows), C.int(cols),
		&imagePts[0], &objectPts[0])
	if int(n) != max {
		return vision.ChessboardObservation{}, false
	}

	obs := vision.ChessboardObservation{
		ImagePoints:  make([]vision.Point2, max),
		ObjectPoints: make([]vision.Point3, max),
	}
	for i := 0; i < max; i++ {
		obs.ImagePoints[i] = vision.Point2{X: float64(imagePts[i*2]), Y: float64(imagePts[i*2+1])}
		obs.ObjectPoints[i] = vision.Point3{
			X: float64(objectPts[i*3]),
			Y: float64(objectPts[i*3+1]),
			Z: float64(objectPts[i*3+2]),
		}
	}
	return obs, true
}

// engineSolver runs the shim's calibration solver over accumulated
// observations.
type engineSolver struct{}

func (engineSolver) Solve(width, height int, obs []vision.ChessboardObservation) (vision.Intrinsics, error) {
	if len(obs) == 0 {
		return vision.Intrinsics{}, fmt.Errorf("no observations")
	}

	var pointCounts []C.int
	var imagePts, objectPts []C.double
	for _, o := range obs {
		pointCounts = append(pointCounts, C.int(len(o.ImagePoints)))
		for _, p := range o.ImagePoints {
			imagePts = append(imagePts, C.double(p.X), C.double(p.Y))
		}
		for _, p := range o.ObjectPoints {
			objectPts = append(objectPts, C.double(p.X), C.double(p.Y), C.double(p.Z))
		}
	}

	var ci [8]C.double
	rc := C.alvarshim_solve_calibration(C.int(width), C.int(height), C.int(len(obs)),
		&pointCounts[0], &imagePts[0], &objectPts[0], &ci[0])
	if rc != 0 {
		return vision.Intrinsics{}, fmt.Errorf("calibration solve failed: code %d", int(rc))
	}

	return vision.Intrinsics{
		Fx: float64(ci[0]), Fy: float64(ci[1]),
		Cx: float64(ci[2]), Cy: float64(ci[3]),
		Distortion: [4]float64{float64(ci[4]), float64(ci[5]), float64(ci[6]), float64(ci[7])},
	}, nil
}

// packIntrinsics flattens intrinsics into the shim's 8-double layout:
// fx fy cx cy k1 k2 k3 k4.
func packIntrinsics(intr vision.Intrinsics) [8]C.double {
	return [8]C.double{
		C.double(intr.Fx), C.double(intr.Fy),
		C.double(intr.Cx), C.double(intr.Cy),
		C.double(intr.Distortion[0]), C.double(intr.Distortion[1]),
		C.double(intr.Distortion[2]), C.double(intr.Distortion[3]),
	}
}
