package signals

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/pipewright/internal/orchestrator"
)

var _ orchestrator.SignalSource = (*Watcher)(nil)

func waitPause(t *testing.T, w *Watcher, want bool) {
	t.Helper()
	select {
	case got := <-w.PauseChanges():
		if got != want {
			t.Fatalf("pause change = %v, want %v", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no pause change to %v", want)
	}
}

func waitCancel(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Cancelled():
	case <-time.After(3 * time.Second):
		t.Fatal("cancel signal not delivered")
	}
}

func TestWatcher_Signals(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"fsnotify", []Option{WithPollInterval(time.Hour)}},
		{"polling", []Option{withoutNotify(), WithPollInterval(10 * time.Millisecond)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "signals")
			w, err := NewWatcher(dir, tt.opts...)
			if err != nil {
				t.Fatalf("NewWatcher failed: %v", err)
			}
			defer w.Close()

			if err := SendPause(dir); err != nil {
				t.Fatal(err)
			}
			waitPause(t, w, true)
			if !w.IsPaused() {
				t.Error("IsPaused should be true")
			}

			if err := SendResume(dir); err != nil {
				t.Fatal(err)
			}
			waitPause(t, w, false)

			if err := SendCancel(dir); err != nil {
				t.Fatal(err)
			}
			waitCancel(t, w)
			if !w.IsCancelled() {
				t.Error("IsCancelled should be true")
			}
		})
	}
}

func TestWatcher_ExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := SendCancel(dir); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if !w.IsCancelled() {
		t.Error("a cancel file present at start should be honoured")
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	SendCancel(dir)
	SendPause(dir)
	if err := Clear(dir); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	for _, name := range []string{CancelFile, PauseFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s still present", name)
		}
	}
	if err := Clear(dir); err != nil {
		t.Errorf("Clear on empty dir failed: %v", err)
	}
	if err := SendResume(dir); err != nil {
		t.Errorf("SendResume without pause file failed: %v", err)
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	w.Close()
}

func TestDir(t *testing.T) {
	if got, want := Dir("/repo"), "/repo/.pipewright/signals"; got != want {
		t.Errorf("Dir = %q, want %q", got, want)
	}
}
