package main

/*
#include <stdlib.h>
*/
import "C" // required for the c-shared build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/goblin-xna/alvar-extension/internal/config"
	"github.com/goblin-xna/alvar-extension/internal/logging"
	intOtel "github.com/goblin-xna/alvar-extension/internal/otel"
	"github.com/goblin-xna/alvar-extension/internal/recorder"
	"github.com/goblin-xna/alvar-extension/internal/session"
	"github.com/goblin-xna/alvar-extension/internal/telemetry"
	"github.com/goblin-xna/alvar-extension/pkg/arinterface"
	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentExtensionVersion string = "1.5.0"
	BuildDate               string = "unknown"

	ExtensionName string = "alvar_extension"
)

// global state shared by the exported entry points
var (
	SessionStartTime time.Time = time.Now()

	LogFilePath string
	LogFile     *os.File

	// SlogManager handles all slog-based logging
	SlogManager *logging.Manager

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	trackingSession  *session.Session
	recorderService  *recorder.Service
	telemetryManager *telemetry.Manager
)

// init runs when the host loads the shared library.
func init() {
	SlogManager = logging.NewManager()
	SlogManager.Setup(os.Stderr, viper.GetString("logLevel"), nil, nil)
	logger := SlogManager.Logger()

	if err := config.Load("."); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config")
	}

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.Mkdir(logsDir, 0755)
	}

	LogFilePath = logging.LogFilePath(logsDir, ExtensionName, SessionStartTime)

	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}

	if viper.GetBool("otel.enabled") {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  ExtensionName,
			BatchTimeout: 5 * time.Second,
			LogWriter:    LogFile,
			Endpoint:     viper.GetString("otel.endpoint"),
			Insecure:     viper.GetBool("otel.insecure"),
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	// Frame number rides on every log record once the session exists.
	var logOut = os.Stderr
	if LogFile != nil {
		logOut = LogFile
	}
	SlogManager.Setup(logOut, viper.GetString("logLevel"), otelLogProvider, frameAttrs)
	logger = SlogManager.Logger()
	logger.Info("Logging to file", "path", LogFilePath, "version", CurrentExtensionVersion, "buildDate", BuildDate)

	if err := setupSession(); err != nil {
		logger.Error("Failed to set up tracking session!", "error", err)
		panic(err)
	}
	logger.Info("Tracking session ready", "detectors", viper.GetInt("detector.count"))
}

// frameAttrs stamps the current frame index onto log records.
func frameAttrs() []slog.Attr {
	if trackingSession == nil {
		return nil
	}
	return []slog.Attr{slog.Uint64("frame", trackingSession.FrameIndex())}
}

// setupSession wires the engine, the optional services and the FFI boundary.
func setupSession() error {
	count := viper.GetInt("detector.count")
	if count < 1 {
		count = 1
	}
	detectors := make([]vision.Detector, count)
	for i := range detectors {
		detectors[i] = newEngineDetector()
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if rc := config.Recorder(); rc.Enabled {
		path := rc.FilePath
		if path == "" {
			path = sqliteDBPath()
		}
		dbm := recorder.NewDBManager(zlog, rc.Backend, path)
		if err := dbm.Connect(); err != nil {
			SlogManager.Logger().Error("Recorder database unavailable, recording disabled", "error", err)
		} else {
			svc, err := recorder.New(dbm.DB, zlog)
			if err != nil {
				SlogManager.Logger().Error("Recorder setup failed, recording disabled", "error", err)
			} else {
				recorderService = svc
			}
		}
	}

	if viper.GetBool("influx.enabled") {
		telemetryManager = telemetry.NewManager(zlog, filepath.Join(viper.GetString("logsDir"), "telemetry_backup"))
		if err := telemetryManager.Connect(); err != nil {
			SlogManager.Logger().Error("Telemetry unavailable", "error", err)
			telemetryManager = nil
		}
	}

	s, err := session.New(session.Dependencies{
		Detectors:        detectors,
		PatternFinder:    enginePatternFinder{},
		Solver:           engineSolver{},
		LogManager:       SlogManager,
		Recorder:         recorderService,
		Telemetry:        telemetryManager,
		ExtensionVersion: CurrentExtensionVersion,
	})
	if err != nil {
		return err
	}
	s.SetClipPlanes(viper.GetFloat64("camera.near"), viper.GetFloat64("camera.far"))
	s.SetDefaultThresholds(
		viper.GetFloat64("detector.maxMarkerError"),
		viper.GetFloat64("detector.maxTrackError"),
	)

	trackingSession = s
	arinterface.SetVersion(CurrentExtensionVersion)
	arinterface.SetSession(s)
	return nil
}

// sqliteDBPath names the fallback database file for this run.
func sqliteDBPath() string {
	return fmt.Sprintf("%s_%s.db", ExtensionName, SessionStartTime.Format("20060102_150405"))
}

// shutdown flushes the optional services; exported for hosts that unload the
// library cleanly.
//
//export alvar_shutdown
func alvar_shutdown() {
	if trackingSession != nil {
		trackingSession.Close()
	}
	if OTelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		OTelProvider.Shutdown(ctx)
	}
	if LogFile != nil {
		LogFile.Close()
	}
}

func main() {}
