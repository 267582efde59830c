// Package debug provides development logging for chatctx.
//
// Logging is off until Enable is called (the --debug flag does this); every
// call is then appended to a single file so a running server can be followed
// with tail -f.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled bool
	out     io.Writer
	closer  io.Closer
	mu      sync.Mutex
	logPath string
)

// Enable turns on debug logging to the specified file.
func Enable(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	//nolint:gosec // G304: path comes from the data directory.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	out = f
	closer = f
	logPath = path
	enabled = true

	// Write the header directly; calling Log here would deadlock.
	timestamp := time.Now().Format("15:04:05.000")
	header := fmt.Sprintf("[%s] === chatctx debug session started ===\n", timestamp)
	header += fmt.Sprintf("[%s] Time: %s\n", timestamp, time.Now().Format(time.RFC3339))
	header += fmt.Sprintf("[%s] Log file: %s\n", timestamp, path)
	_, _ = io.WriteString(out, header)
	_ = f.Sync()

	return nil
}

// EnableWriter sends debug output to w. It replaces any open log file.
func EnableWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()
	out = w
	logPath = ""
	enabled = true
}

// Disable turns off debug logging and closes the file.
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		return
	}
	closeLocked()
	enabled = false
}

func closeLocked() {
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
	out = nil
}

// IsEnabled returns whether debug logging is enabled.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Log writes a debug message if logging is enabled.
func Log(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled || out == nil {
		return
	}

	timestamp := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(out, "[%s] %s\n", timestamp, msg)

	if f, ok := out.(*os.File); ok {
		_ = f.Sync() // Flush immediately for real-time viewing
	}
}

// LogPath returns the path to the log file.
func LogPath() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// Event logs an event with component context.
func Event(component, eventType string, details string) {
	Log("[%s] %s: %s", component, eventType, details)
}

// Error logs an error with context.
func Error(component string, err error, context string) {
	Log("[%s] ERROR: %s - %v", component, context, err)
}
