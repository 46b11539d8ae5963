package logging

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"garbage", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetupWritesToFile(t *testing.T) {
	var file bytes.Buffer
	m := NewManager()
	m.Setup(&file, "info", nil, nil)

	m.Logger().Info("camera configured")

	assert.Contains(t, file.String(), "camera configured")
}

func TestSetupInfoLevelFiltersDebug(t *testing.T) {
	var file bytes.Buffer
	m := NewManager()
	m.Setup(&file, "info", nil, nil)

	m.Logger().Debug("per-frame noise")
	m.Logger().Info("kept")

	out := file.String()
	assert.NotContains(t, out, "per-frame noise")
	assert.Contains(t, out, "kept")
}

func TestSetupStampsFrameAttrs(t *testing.T) {
	var file bytes.Buffer
	frame := uint64(0)
	m := NewManager()
	m.Setup(&file, "info", nil, func() []slog.Attr {
		return []slog.Attr{slog.Uint64("frame", frame)}
	})

	frame = 42
	m.Logger().Info("detected")

	assert.Contains(t, file.String(), "frame=42")
}

func TestLoggerDefaultBeforeSetup(t *testing.T) {
	m := NewManager()
	assert.Equal(t, slog.Default(), m.Logger())
}

func TestFlushWithoutProvider(t *testing.T) {
	m := NewManager()
	assert.NoError(t, m.Flush(context.Background()))
}

func TestMultiHandlerDropsNilAndFansOut(t *testing.T) {
	var a, b bytes.Buffer
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	mh := NewMultiHandler(
		slog.NewTextHandler(&a, opts),
		nil,
		slog.NewTextHandler(&b, opts),
	)

	logger := slog.New(mh)
	logger.Info("fan out")

	assert.Contains(t, a.String(), "fan out")
	assert.Contains(t, b.String(), "fan out")
}

func TestMultiHandlerEnabledAny(t *testing.T) {
	var buf bytes.Buffer
	mh := NewMultiHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)

	assert.True(t, mh.Enabled(context.Background(), slog.LevelDebug))
}

func TestContextHandlerWithAttrsKeepsProvider(t *testing.T) {
	var buf bytes.Buffer
	ch := NewContextHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		func() []slog.Attr { return []slog.Attr{slog.String("detector", "0")} },
	)

	logger := slog.New(ch.WithAttrs([]slog.Attr{slog.String("camera", "main")}))
	logger.Info("with attrs")

	out := buf.String()
	assert.Contains(t, out, "detector=0")
	assert.Contains(t, out, "camera=main")
}

func TestLogFilePath(t *testing.T) {
	start := time.Date(2014, 5, 20, 9, 30, 15, 0, time.UTC)
	got := LogFilePath("logs", "alvar_extension", start)

	require.Equal(t, filepath.Join("logs", "alvar_extension.20140520_093015.log"), got)
}
