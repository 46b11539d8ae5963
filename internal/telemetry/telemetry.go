// Package telemetry pushes per-frame timing measurements to InfluxDB so a
// deployment can watch detection latency and marker counts over time. When
// the InfluxDB client cannot connect, points are appended to a gzip backup
// file instead of being dropped.
package telemetry

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// BucketFrames holds per-frame detection timings.
const BucketFrames = "tracking_frames"

// BucketCalibration holds calibration-session measurements.
const BucketCalibration = "calibration"

// DefaultBucketNames are the InfluxDB buckets the extension writes to.
var DefaultBucketNames = []string{
	BucketFrames,
	BucketCalibration,
}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
	}
}

// Connect establishes a connection to InfluxDB, or sets up the gzip backup
// writer when the server is unreachable.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		viper.GetString("influx.token"),
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(context.Background())
	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBuckets(); err != nil {
		return err
	}
	m.createWriters()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := viper.GetString("influx.org")

	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		if _, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName); err != nil {
			return fmt.Errorf("creating organization %s: %w", orgName, err)
		}
	}
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		return fmt.Errorf("getting organization %s: %w", orgName, err)
	}

	for _, bucket := range m.BucketNames {
		if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")
			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 30, // 30 days
			})
			if err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// createWriters creates write APIs for all configured buckets.
func (m *Manager) createWriters() {
	orgName := viper.GetString("influx.org")
	for _, bucket := range m.BucketNames {
		m.Writers[bucket] = m.Client.WriteAPI(orgName, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}
}

// WritePoint writes a point to InfluxDB, or serializes it into the backup
// file when no connection is available.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) {
	if m.IsValid {
		if w, ok := m.Writers[bucket]; ok {
			w.WritePoint(point)
		}
		return
	}
	if m.BackupWriter != nil {
		fmt.Fprintln(m.BackupWriter, influxdb2_write.PointToLineProtocol(point, time.Nanosecond))
	}
}

// RecordFrame writes one frame's detection timing.
func (m *Manager) RecordFrame(frameIndex uint64, detectorIndex, found, resolved int, detectDuration time.Duration) {
	p := influxdb2.NewPoint(
		"frame",
		map[string]string{
			"detector": fmt.Sprintf("%d", detectorIndex),
		},
		map[string]interface{}{
			"frame_index":      int64(frameIndex),
			"markers_found":    found,
			"markers_resolved": resolved,
			"detect_ms":        float64(detectDuration.Microseconds()) / 1000.0,
		},
		time.Now(),
	)
	m.WritePoint(BucketFrames, p)
}

// RecordCalibration writes one calibration milestone.
func (m *Manager) RecordCalibration(kind string, success bool, observations int) {
	p := influxdb2.NewPoint(
		"calibration",
		map[string]string{"kind": kind},
		map[string]interface{}{
			"success":      success,
			"observations": observations,
		},
		time.Now(),
	)
	m.WritePoint(BucketCalibration, p)
}

// Close flushes writers and closes the client and backup file.
func (m *Manager) Close() {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	if m.BackupWriter != nil {
		m.BackupWriter.Close()
	}
}
