// Package logging provides the extension's slog-based logging: a manager
// that fans records out to console, file and optional OTel handlers, plus a
// context handler that stamps every record with the session's current frame
// number.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// fileStampLayout is the timestamp embedded in log file names.
const fileStampLayout = "20060102_150405"

// LogFilePath returns the per-session log file path inside logsDir. The name
// embeds the extension name and the session start time so repeated loads of
// the shared library never clobber an earlier run's log.
func LogFilePath(logsDir, extensionName string, sessionStart time.Time) string {
	name := fmt.Sprintf("%s.%s.log", extensionName, sessionStart.Format(fileStampLayout))
	return filepath.Join(logsDir, name)
}
