package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogFilePath returns the log file for one server run started at start.
func LogFilePath(logsDir, serviceName string, start time.Time) string {
	name := fmt.Sprintf("%s_%s.log", serviceName, start.UTC().Format("2006-01-02T150405Z"))
	return filepath.Join(logsDir, name)
}

// OpenLogFile creates logsDir if needed and opens the run's log file for
// appending, so a restart within the same second keeps the earlier lines.
func OpenLogFile(logsDir, serviceName string, start time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	path := LogFilePath(logsDir, serviceName, start)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}
