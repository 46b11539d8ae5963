// Package vision defines the contracts between the tracking session and the
// underlying vision engine: the frame buffer exchanged across the boundary,
// the pose and marker value types, and the narrow interfaces the engine must
// implement (marker detection, chessboard finding, calibration solving).
//
// The session controller never reaches past these contracts. The actual
// recognition and pose-estimation algorithms live in whatever engine the host
// links in; tests use the scripted fakes in the visiontest subpackage.
package vision
