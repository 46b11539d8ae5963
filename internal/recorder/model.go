// Package recorder persists per-frame tracking observations for offline
// review. Recording is optional and rides beside the frame loop: the session
// pushes observations into a queue and a background writer drains them into
// the database, so detection latency never waits on a DB write.
package recorder

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// DatabaseModels lists every struct migrated into the recorder schema.
var DatabaseModels = []interface{}{
	&TrackingSession{},
	&MarkerObservation{},
	&BundleObservation{},
	&CalibrationEvent{},
}

// TrackingSession is one camera-initialization-to-teardown span.
type TrackingSession struct {
	ID                uint   `gorm:"primarykey" json:"id"`
	SessionUID        string `gorm:"index" json:"sessionUid"`
	StartedAt         time.Time
	Width             int
	Height            int
	CalibrationLoaded bool
	ExtensionVersion  string
}

// MarkerObservation is one interested marker resolved in one frame.
type MarkerObservation struct {
	ID            uint `gorm:"primarykey" json:"id"`
	SessionID     uint `gorm:"index" json:"sessionId"`
	FrameIndex    uint64
	Time          time.Time
	MarkerID      int
	DetectorIndex int
	PoseMatrix    datatypes.JSON // 16 doubles, column-major
	TrackError    float64
}

// BundleObservation is one bundle's aggregate result in one frame. The
// footprint is the image-plane polygon of the bundle origin marker's
// occlusion box, when occlusion was requested.
type BundleObservation struct {
	ID                uint `gorm:"primarykey" json:"id"`
	SessionID         uint `gorm:"index" json:"sessionId"`
	FrameIndex        uint64
	Time              time.Time
	BundleIndex       int
	PoseMatrix        datatypes.JSON // 16 doubles, column-major
	ReprojectionError float64
	Footprint         geom.Polygon `json:"-"`
}

// CalibrationEvent records calibration-session milestones: observations
// added and finalizations attempted.
type CalibrationEvent struct {
	ID           uint `gorm:"primarykey" json:"id"`
	SessionID    uint `gorm:"index" json:"sessionId"`
	Time         time.Time
	Kind         string // "observation" or "finalize"
	Success      bool
	Observations int
	OutputPath   string
}
