package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogFile is where NewDebugLoggerForDir writes, relative to the project.
const DebugLogFile = ".pipewright/logs/coordinator-debug.log"

// DebugLogger writes timestamped coordinator traces. The zero value and a nil
// pointer discard everything.
type DebugLogger struct {
	mu  sync.Mutex
	out io.Writer
	// file is set when the logger owns a file and must sync and close it.
	file *os.File
	now  func() time.Time
}

// NewDebugLogger appends to the file at logPath, creating parent
// directories. An empty path yields a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return NopLogger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{out: f, file: f, now: time.Now}
	l.Log("=== coordinator debug log opened %s (pid %d) ===", time.Now().Format(time.RFC3339), os.Getpid())
	return l, nil
}

// NewDebugLoggerForDir logs to DebugLogFile under a project directory.
// Falls back to a no-op logger if the file cannot be opened.
func NewDebugLoggerForDir(dir string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(dir, DebugLogFile))
	if err != nil {
		return NopLogger()
	}
	return l
}

// NewWriterLogger logs to w. The caller keeps ownership of w.
func NewWriterLogger(w io.Writer) *DebugLogger {
	return &DebugLogger{out: w, now: time.Now}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.out == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.out, "[%s] %s\n", l.now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	if l.file != nil {
		l.file.Sync()
	}
}

// Close closes an owned log file. Later calls to Log are dropped.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.out = nil
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
