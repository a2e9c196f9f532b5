// Package signals lets another process control a running workflow by
// dropping files into a signals directory. A "cancel" file cancels the run;
// a "pause" file pauses dispatch until it is removed.
package signals

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names.
const (
	CancelFile = "cancel"
	PauseFile  = "pause"
)

// DefaultPollInterval is how often signal files are checked when the
// filesystem watcher misses an event or is unavailable.
const DefaultPollInterval = 500 * time.Millisecond

// Dir returns the signals directory of a project.
func Dir(projectRoot string) string {
	return filepath.Join(projectRoot, ".pipewright", "signals")
}

// Watcher turns signal files into channel notifications.
type Watcher struct {
	dir          string
	pollInterval time.Duration
	pollOnly     bool

	mu        sync.RWMutex
	cancelled bool
	paused    bool

	cancelCh chan struct{}
	pauseCh  chan bool

	watcher   *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the stat fallback interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// withoutNotify disables fsnotify so only polling is used.
func withoutNotify() Option {
	return func(w *Watcher) { w.pollOnly = true }
}

// NewWatcher starts watching dir, creating it if needed. Signal files that
// already exist are acted on immediately, so callers starting a fresh run
// should call Clear first.
func NewWatcher(dir string, opts ...Option) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:          dir,
		pollInterval: DefaultPollInterval,
		cancelCh:     make(chan struct{}),
		pauseCh:      make(chan bool, 1),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	// Continue without watcher if it cannot start - polling covers it.
	if !w.pollOnly {
		if fw, err := fsnotify.NewWatcher(); err != nil {
			log.Printf("[signals] file watcher unavailable, polling only: %v", err)
		} else if err := fw.Add(dir); err != nil {
			fw.Close()
		} else {
			w.watcher = fw
		}
	}

	w.sync()
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch filepath.Base(event.Name) {
			case CancelFile, PauseFile:
				w.sync()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[signals] watcher error: %v", err)
		case <-ticker.C:
			w.sync()
		}
	}
}

// sync compares the signal files against the known state and notifies on
// change. Only the loop goroutine and the constructor call it.
func (w *Watcher) sync() {
	cancel := exists(filepath.Join(w.dir, CancelFile))
	pause := exists(filepath.Join(w.dir, PauseFile))

	w.mu.Lock()
	defer w.mu.Unlock()

	if cancel && !w.cancelled {
		w.cancelled = true
		close(w.cancelCh)
		log.Printf("[signals] cancel signal detected")
	}
	if pause != w.paused {
		w.paused = pause
		// Latest state wins if the reader is behind.
		select {
		case w.pauseCh <- pause:
		default:
			select {
			case <-w.pauseCh:
			default:
			}
			w.pauseCh <- pause
		}
	}
}

// Cancelled is closed once a cancel signal is seen.
func (w *Watcher) Cancelled() <-chan struct{} {
	return w.cancelCh
}

// PauseChanges receives true when the pause file appears and false when it
// is removed.
func (w *Watcher) PauseChanges() <-chan bool {
	return w.pauseCh
}

// IsCancelled reports whether a cancel signal was seen.
func (w *Watcher) IsCancelled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cancelled
}

// IsPaused reports whether the pause file is present.
func (w *Watcher) IsPaused() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paused
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

// SendCancel asks the run using dir to cancel.
func SendCancel(dir string) error {
	return touch(filepath.Join(dir, CancelFile))
}

// SendPause asks the run using dir to pause.
func SendPause(dir string) error {
	return touch(filepath.Join(dir, PauseFile))
}

// SendResume removes the pause signal.
func SendResume(dir string) error {
	if err := os.Remove(filepath.Join(dir, PauseFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Clear removes every signal file.
func Clear(dir string) error {
	for _, name := range []string{CancelFile, PauseFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
