// Package arinterface exposes the tracking session over a flat C ABI so a
// host AR application can drive it through a shared library. Every export is
// synchronous and must be called from a single host thread in per-frame
// order; the session serializes nothing itself.
package arinterface

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"unsafe"

	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// called by the host to set the working resolution and load a calibration
// file; returns 0 when the calibration was loaded, -1 when the session fell
// back to a synthetic calibration derived from the resolution
//
//export alvar_init_camera
func alvar_init_camera(calibFile *C.char, width C.int, height C.int) C.int {
	path := ""
	if calibFile != nil {
		path = C.GoString(calibFile)
	}
	loaded, err := Config.session.InitCamera(path, int(width), int(height))
	if err != nil || !loaded {
		return -1
	}
	return 0
}

// writes the 16-double column-major projection matrix and both fields of
// view (radians) for the current calibration
//
//export alvar_get_camera_params
func alvar_get_camera_params(projMat *C.double, fovX *C.double, fovY *C.double) {
	proj, fx, fy, err := Config.session.CameraParams()
	if err != nil {
		return
	}
	out := unsafe.Slice((*float64)(unsafe.Pointer(projMat)), 16)
	copy(out, proj[:])
	*fovX = C.double(fx)
	*fovY = C.double(fy)
}

// applies marker geometry to every detector instance
//
//export alvar_init_marker_detector
func alvar_init_marker_detector(markerSize C.double, markerRes C.int, margin C.double) {
	Config.session.InitMarkerDetector(float64(markerSize), int(markerRes), float64(margin))
}

// toggles the bundle refine-and-retry pass
//
//export alvar_set_detect_additional
func alvar_set_detect_additional(enable C.int) {
	Config.session.SetDetectAdditional(enable != 0)
}

// overrides one marker id's physical size on the primary detector instance
//
//export alvar_set_marker_size
func alvar_set_marker_size(id C.int, markerSize C.double) {
	_ = Config.session.SetMarkerSize(0, int(id), float64(markerSize))
}

// configures the occlusion texture layout; reallocates the internal scratch
// texture when the layout changes
//
//export alvar_set_hide_texture_configuration
func alvar_set_hide_texture_configuration(size C.uint, depth C.uint, channels C.uint, margin C.double) {
	_ = Config.session.SetHideTextureConfig(int(size), int(depth), int(channels), float64(margin))
}

// switches the active detector instance
//
//export alvar_select_detector
func alvar_select_detector(detectorID C.int) {
	_ = Config.session.SelectDetector(int(detectorID))
}

// registers a multi-marker bundle from a geometry file; a parse failure
// leaves the registry unchanged
//
//export alvar_add_multi_marker
func alvar_add_multi_marker(numIDs C.int, ids *C.int, filename *C.char) {
	memberIDs := intsFromC(ids, numIDs)
	_ = Config.session.AddMultiMarker(memberIDs, C.GoString(filename))
}

// runs one detection pass. interestedMarkerIDs holds *numInterestedMarkers
// requested ids on entry; on return *numInterestedMarkers is the resolved
// count and *numFoundMarkers the total markers found in the frame.
//
//export alvar_detect_marker
func alvar_detect_marker(nChannels C.int, colorModel *C.char, channelSeq *C.char,
	imageData *C.char, interestedMarkerIDs *C.int, numFoundMarkers *C.int,
	numInterestedMarkers *C.int, maxMarkerError C.double, maxTrackError C.double) {
	*numFoundMarkers = 0

	f, err := frameFromC(nChannels, colorModel, channelSeq, imageData)
	if err != nil {
		*numInterestedMarkers = 0
		return
	}

	requested := intsFromC(interestedMarkerIDs, *numInterestedMarkers)
	found, resolved, err := Config.session.DetectMarkers(f, requested,
		float64(maxMarkerError), float64(maxTrackError))
	if err != nil {
		*numInterestedMarkers = 0
		return
	}

	*numFoundMarkers = C.int(found)
	*numInterestedMarkers = C.int(resolved)
}

// writes one id and one 16-double pose matrix per resolved interested
// marker, in request order. With returnHideTextures set, hideTextures must
// hold at least resolvedCount occlusion textures of the configured size;
// undersized buffers abort the texture pass. A frame with no resolved
// markers writes nothing.
//
//export alvar_get_poses
func alvar_get_poses(ids *C.int, poseMats *C.double, returnHideTextures C.int, hideTextures *C.uchar) {
	withTextures := returnHideTextures != 0

	poses, err := Config.session.Poses(withTextures, texturesFromC(hideTextures, withTextures))
	if err != nil || len(poses) == 0 {
		return
	}

	idOut := unsafe.Slice((*int32)(unsafe.Pointer(ids)), len(poses))
	matOut := unsafe.Slice((*float64)(unsafe.Pointer(poseMats)), len(poses)*16)
	for i, p := range poses {
		idOut[i] = int32(p.ID)
		copy(matOut[i*16:(i+1)*16], p.Matrix[:])
	}
}

// writes one registration-index id, pose matrix and reprojection error per
// registered bundle. Bundle occlusion textures come back with the first and
// third channel swapped relative to alvar_get_poses.
//
//export alvar_get_multi_marker_poses
func alvar_get_multi_marker_poses(ids *C.int, poseMats *C.double, errors *C.double,
	returnHideTextures C.int, hideTextures *C.uchar) {
	withTextures := returnHideTextures != 0

	poses, err := Config.session.BundlePoses(withTextures, texturesFromC(hideTextures, withTextures))
	if err != nil || len(poses) == 0 {
		return
	}

	idOut := unsafe.Slice((*int32)(unsafe.Pointer(ids)), len(poses))
	matOut := unsafe.Slice((*float64)(unsafe.Pointer(poseMats)), len(poses)*16)
	errOut := unsafe.Slice((*float64)(unsafe.Pointer(errors)), len(poses))
	for i, p := range poses {
		idOut[i] = int32(p.ID)
		copy(matOut[i*16:(i+1)*16], p.Matrix[:])
		errOut[i] = p.Error
	}
}

// feeds one frame to the calibration session; returns 1 when the chessboard
// pattern was found
//
//export alvar_calibrate_camera
func alvar_calibrate_camera(nChannels C.int, colorModel *C.char, channelSeq *C.char,
	imageData *C.char, etalonSquareSize C.double, etalonRows C.int, etalonColumns C.int) C.int {
	f, err := frameFromC(nChannels, colorModel, channelSeq, imageData)
	if err != nil {
		return 0
	}
	if Config.session.Calibrate(f, float64(etalonSquareSize), int(etalonRows), int(etalonColumns)) {
		return 1
	}
	return 0
}

// solves and persists the accumulated calibration; returns 1 on success
//
//export alvar_finalize_calibration
func alvar_finalize_calibration(filename *C.char) C.int {
	if Config.session.FinalizeCalibration(C.GoString(filename)) {
		return 1
	}
	return 0
}

// frameFromC copies the host's pixel buffer into the reusable frame buffer
// and wraps it in a validated frame. The copy is required: the session keeps
// the frame alive past this call and the host's pointer is only good for
// the duration of the call.
func frameFromC(nChannels C.int, colorModel *C.char, channelSeq *C.char, imageData *C.char) (*vision.Frame, error) {
	width, height := Config.session.Resolution()
	channels := int(nChannels)
	n := width * height * channels

	if cap(Config.frameBuf) < n {
		Config.frameBuf = make([]byte, n)
	}
	Config.frameBuf = Config.frameBuf[:n]
	copy(Config.frameBuf, unsafe.Slice((*byte)(unsafe.Pointer(imageData)), n))

	return vision.NewFrame(width, height, channels,
		tagFromC(colorModel), tagFromC(channelSeq), Config.frameBuf)
}

// tagFromC reads a 4-byte layout tag
func tagFromC(p *C.char) [4]byte {
	var tag [4]byte
	copy(tag[:], unsafe.Slice((*byte)(unsafe.Pointer(p)), 4))
	return tag
}

// intsFromC converts a C int array to a Go int slice
func intsFromC(p *C.int, n C.int) []int {
	if p == nil || n <= 0 {
		return nil
	}
	src := unsafe.Slice((*int32)(unsafe.Pointer(p)), int(n))
	out := make([]int, len(src))
	for i, v := range src {
		out[i] = int(v)
	}
	return out
}

// texturesFromC wraps the host's texture buffer under the documented
// capacity contract: when textures are requested the buffer must hold one
// configured texture per returned pose. The session checks the per-slot
// bound before each write.
func texturesFromC(p *C.uchar, withTextures bool) []byte {
	if !withTextures || p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), maxTextureBufferBytes)
}

// maxTextureBufferBytes bounds the host texture buffer view. The session
// never writes past resolvedCount slots; this cap only exists because the C
// boundary does not carry the buffer's true length.
const maxTextureBufferBytes = 1 << 26
