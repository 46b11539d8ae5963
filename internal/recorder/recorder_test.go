package recorder

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func testService(t *testing.T) *Service {
	t.Helper()
	s, err := New(testDB(t), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNew_MigratesSchema(t *testing.T) {
	db := testDB(t)
	_, err := New(db, zerolog.Nop())
	require.NoError(t, err)

	for _, model := range DatabaseModels {
		assert.True(t, db.Migrator().HasTable(model))
	}
}

func TestStartSession(t *testing.T) {
	s := testService(t)
	defer s.Close()

	require.NoError(t, s.StartSession(640, 480, true, "1.5.0"))
	assert.NotZero(t, s.SessionID())

	var stored TrackingSession
	require.NoError(t, s.db.First(&stored, s.SessionID()).Error)
	assert.Equal(t, 640, stored.Width)
	assert.Equal(t, 480, stored.Height)
	assert.True(t, stored.CalibrationLoaded)
	assert.Equal(t, "1.5.0", stored.ExtensionVersion)
	assert.NotEmpty(t, stored.SessionUID)
}

func TestStartSession_ReusesWriteLoop(t *testing.T) {
	s := testService(t)
	defer s.Close()

	// Let writers stopped by earlier tests finish exiting before counting.
	time.Sleep(20 * time.Millisecond)

	before := writeLoopCount()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.StartSession(640, 480, false, "test"))
	}

	// Let the freshly spawned writer get scheduled so its frame appears in
	// the stack dump.
	time.Sleep(20 * time.Millisecond)

	// Re-inits reuse the writer; repeated calls must not stack up loops.
	assert.Equal(t, before+1, writeLoopCount())
}

// writeLoopCount counts running writeLoop goroutines from a full stack dump.
func writeLoopCount() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "recorder.(*Service).writeLoop")
}

func TestQueueAndFlush_Markers(t *testing.T) {
	s := testService(t)
	defer s.Close()
	require.NoError(t, s.StartSession(640, 480, false, "test"))

	s.QueueMarkers(
		MarkerObservation{FrameIndex: 1, Time: time.Now(), MarkerID: 7, TrackError: 0.01},
		MarkerObservation{FrameIndex: 1, Time: time.Now(), MarkerID: 3, TrackError: 0.02},
	)
	s.flush()

	var stored []MarkerObservation
	require.NoError(t, s.db.Where("session_id = ?", s.SessionID()).Order("marker_id").Find(&stored).Error)
	require.Len(t, stored, 2)
	assert.Equal(t, 3, stored[0].MarkerID)
	assert.Equal(t, 7, stored[1].MarkerID)
	assert.Equal(t, s.SessionID(), stored[0].SessionID)
}

func TestQueueAndFlush_BundlesAndCalibrations(t *testing.T) {
	s := testService(t)
	defer s.Close()
	require.NoError(t, s.StartSession(640, 480, false, "test"))

	s.QueueBundles(BundleObservation{FrameIndex: 2, Time: time.Now(), BundleIndex: 0, ReprojectionError: 1.5})
	s.QueueCalibrationEvent(CalibrationEvent{Time: time.Now(), Kind: "finalize", Success: true, OutputPath: "calib.json"})
	s.flush()

	var bundles []BundleObservation
	require.NoError(t, s.db.Find(&bundles).Error)
	require.Len(t, bundles, 1)
	assert.Equal(t, 1.5, bundles[0].ReprojectionError)

	var events []CalibrationEvent
	require.NoError(t, s.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "finalize", events[0].Kind)
	assert.True(t, events[0].Success)
}

func TestFlush_EmptyQueuesWriteNothing(t *testing.T) {
	s := testService(t)
	defer s.Close()
	require.NoError(t, s.StartSession(640, 480, false, "test"))

	s.flush()

	var count int64
	require.NoError(t, s.db.Model(&MarkerObservation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestClose_FlushesRemaining(t *testing.T) {
	s := testService(t)
	require.NoError(t, s.StartSession(640, 480, false, "test"))

	s.QueueMarkers(MarkerObservation{FrameIndex: 9, Time: time.Now(), MarkerID: 1})
	s.Close()

	var count int64
	require.NoError(t, s.db.Model(&MarkerObservation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Close is idempotent.
	s.Close()
}
