package recorder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/goblin-xna/alvar-extension/internal/queue"
)

// FlushInterval is how often the background writer drains the observation
// queues.
const FlushInterval = 2 * time.Second

// Service records tracking observations into the database.
type Service struct {
	db      *gorm.DB
	log     zerolog.Logger
	session TrackingSession

	markers      *queue.Queue[MarkerObservation]
	bundles      *queue.Queue[BundleObservation]
	calibrations *queue.Queue[CalibrationEvent]

	stopChan      chan struct{}
	writerStarted bool
}

// New creates a recorder service over an open database and migrates the
// schema.
func New(db *gorm.DB, log zerolog.Logger) (*Service, error) {
	if err := db.AutoMigrate(DatabaseModels...); err != nil {
		return nil, fmt.Errorf("migrating recorder schema: %w", err)
	}
	return &Service{
		db:           db,
		log:          log,
		markers:      queue.New[MarkerObservation](),
		bundles:      queue.New[BundleObservation](),
		calibrations: queue.New[CalibrationEvent](),
		stopChan:     make(chan struct{}),
	}, nil
}

// StartSession opens a new tracking session row and starts the background
// writer. Any previous session's queued observations are flushed first. The
// writer survives across sessions: hosts re-init the camera freely, so only
// the first call spawns the loop.
func (s *Service) StartSession(width, height int, calibrationLoaded bool, version string) error {
	s.flush()

	s.session = TrackingSession{
		SessionUID:        uuid.NewString(),
		StartedAt:         time.Now(),
		Width:             width,
		Height:            height,
		CalibrationLoaded: calibrationLoaded,
		ExtensionVersion:  version,
	}
	if err := s.db.Create(&s.session).Error; err != nil {
		return fmt.Errorf("creating tracking session: %w", err)
	}

	if !s.writerStarted {
		s.writerStarted = true
		go s.writeLoop()
	}
	s.log.Info().Str("sessionUid", s.session.SessionUID).Msg("Recording tracking session")
	return nil
}

// SessionID returns the active session's database id, or 0 before
// StartSession.
func (s *Service) SessionID() uint {
	return s.session.ID
}

// QueueMarkers queues marker observations for the background writer.
func (s *Service) QueueMarkers(obs ...MarkerObservation) {
	for i := range obs {
		obs[i].SessionID = s.session.ID
	}
	s.markers.Push(obs...)
}

// QueueBundles queues bundle observations for the background writer.
func (s *Service) QueueBundles(obs ...BundleObservation) {
	for i := range obs {
		obs[i].SessionID = s.session.ID
	}
	s.bundles.Push(obs...)
}

// QueueCalibrationEvent queues a calibration milestone.
func (s *Service) QueueCalibrationEvent(ev CalibrationEvent) {
	ev.SessionID = s.session.ID
	s.calibrations.Push(ev)
}

// writeLoop drains the queues periodically until Close.
func (s *Service) writeLoop() {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopChan:
			return
		}
	}
}

// flush writes all queued observations in batches.
func (s *Service) flush() {
	if batch := s.markers.GetAndEmpty(); len(batch) > 0 {
		if err := s.db.Create(&batch).Error; err != nil {
			s.log.Error().Err(err).Int("count", len(batch)).Msg("Failed to write marker observations")
		}
	}
	if batch := s.bundles.GetAndEmpty(); len(batch) > 0 {
		if err := s.db.Create(&batch).Error; err != nil {
			s.log.Error().Err(err).Int("count", len(batch)).Msg("Failed to write bundle observations")
		}
	}
	if batch := s.calibrations.GetAndEmpty(); len(batch) > 0 {
		if err := s.db.Create(&batch).Error; err != nil {
			s.log.Error().Err(err).Int("count", len(batch)).Msg("Failed to write calibration events")
		}
	}
}

// Close stops the background writer and flushes whatever is still queued.
func (s *Service) Close() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.flush()
}
