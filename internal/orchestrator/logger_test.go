package orchestrator

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)
	l.Log("task %s attempt %d", "build", 2)

	line := buf.String()
	if !strings.HasSuffix(line, "] task build attempt 2\n") {
		t.Errorf("unexpected line %q", line)
	}
	if !strings.HasPrefix(line, "[") {
		t.Errorf("missing timestamp in %q", line)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	l.Log("dropped")
	if strings.Contains(buf.String(), "dropped") {
		t.Error("log after Close should be dropped")
	}
}

func TestNilAndNopLoggers(t *testing.T) {
	var l *DebugLogger
	l.Log("nothing")
	if err := l.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}

	n := NopLogger()
	n.Log("nothing")
	if err := n.Close(); err != nil {
		t.Errorf("nop Close: %v", err)
	}

	l, err := NewDebugLogger("")
	if err != nil {
		t.Fatalf("NewDebugLogger(\"\"): %v", err)
	}
	l.Log("nothing")
}

func TestDebugLoggerForDir(t *testing.T) {
	dir := t.TempDir()
	l := NewDebugLoggerForDir(dir)
	l.Log("run %s started", "r1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, DebugLogFile))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "coordinator debug log opened") {
		t.Errorf("missing header in %q", text)
	}
	if !strings.Contains(text, "run r1 started") {
		t.Errorf("missing entry in %q", text)
	}

	// Reopening appends.
	l = NewDebugLoggerForDir(dir)
	l.Log("second")
	l.Close()
	data, _ = os.ReadFile(filepath.Join(dir, DebugLogFile))
	if !strings.Contains(string(data), "run r1 started") || !strings.Contains(string(data), "second") {
		t.Errorf("log was not appended: %q", data)
	}
}
