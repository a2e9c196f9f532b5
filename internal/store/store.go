// Package store provides the versioned key/value store shared by the tasks of a run.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

const (
	taskPrefix   = "task/"
	globalPrefix = "global/"
)

// ErrVersionConflict is returned when a compare-and-publish loses a race.
var ErrVersionConflict = errors.New("version conflict")

// ConflictError carries the versions involved in a failed compare-and-publish.
type ConflictError struct {
	Key      string
	Expected uint64
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s on %s: expected version %d, found %d", ErrVersionConflict, e.Key, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// TaskKey returns the key a task's output is published under.
func TaskKey(taskID string) string { return taskPrefix + taskID }

// GlobalKey returns the key of a run-wide value.
func GlobalKey(name string) string { return globalPrefix + name }

// Entry is one published version of a key.
type Entry struct {
	Key         string       `json:"key"`
	Value       models.Value `json:"value"`
	Version     uint64       `json:"version"`
	PublishedBy string       `json:"published_by,omitempty"`
	PublishedAt time.Time    `json:"published_at"`
}

type slot struct {
	mu      sync.RWMutex
	current *Entry
	history []Entry
}

// SharedStore is a concurrency-safe versioned key/value store.
// Readers never block each other, writers to different keys never block each
// other, and writes to one key are totally ordered.
type SharedStore struct {
	mu    sync.RWMutex
	slots map[string]*slot
	now   func() time.Time
}

// New creates an empty store.
func New() *SharedStore {
	return &SharedStore{
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

// SetClock overrides the timestamp source. Used by tests.
func (s *SharedStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *SharedStore) slotFor(key string, create bool) *slot {
	s.mu.RLock()
	sl := s.slots[key]
	s.mu.RUnlock()
	if sl != nil || !create {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl = s.slots[key]; sl == nil {
		sl = &slot{}
		s.slots[key] = sl
	}
	return sl
}

// Publish writes a new version of key. Publishing always bumps the version,
// even when the value is unchanged.
func (s *SharedStore) Publish(key string, value models.Value, publisher string) (Entry, error) {
	if key == "" {
		return Entry{}, errors.New("publish: empty key")
	}
	sl := s.slotFor(key, true)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return s.publishLocked(sl, key, value, publisher), nil
}

// CompareAndPublish writes value only if the key is still at expected.
// A key that was never published is at version 0.
func (s *SharedStore) CompareAndPublish(key string, expected uint64, value models.Value, publisher string) (Entry, error) {
	if key == "" {
		return Entry{}, errors.New("publish: empty key")
	}
	sl := s.slotFor(key, true)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var actual uint64
	if sl.current != nil {
		actual = sl.current.Version
	}
	if actual != expected {
		return Entry{}, &ConflictError{Key: key, Expected: expected, Actual: actual}
	}
	return s.publishLocked(sl, key, value, publisher), nil
}

func (s *SharedStore) publishLocked(sl *slot, key string, value models.Value, publisher string) Entry {
	var version uint64 = 1
	if sl.current != nil {
		version = sl.current.Version + 1
		sl.history = append(sl.history, *sl.current)
	}
	e := Entry{
		Key:         key,
		Value:       value.Clone(),
		Version:     version,
		PublishedBy: publisher,
		PublishedAt: s.now(),
	}
	sl.current = &e
	return copyEntry(e)
}

func copyEntry(e Entry) Entry {
	e.Value = e.Value.Clone()
	return e
}

// Get returns the latest entry for key.
func (s *SharedStore) Get(key string) (Entry, bool) {
	sl := s.slotFor(key, false)
	if sl == nil {
		return Entry{}, false
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	if sl.current == nil {
		return Entry{}, false
	}
	return copyEntry(*sl.current), true
}

// Value returns the latest value for key.
func (s *SharedStore) Value(key string) (models.Value, bool) {
	e, ok := s.Get(key)
	return e.Value, ok
}

// Version returns the current version of key, or 0 if it was never published.
func (s *SharedStore) Version(key string) uint64 {
	sl := s.slotFor(key, false)
	if sl == nil {
		return 0
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	if sl.current == nil {
		return 0
	}
	return sl.current.Version
}

// History returns superseded entries for key, oldest first.
func (s *SharedStore) History(key string) []Entry {
	sl := s.slotFor(key, false)
	if sl == nil {
		return nil
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	out := make([]Entry, len(sl.history))
	for i, e := range sl.history {
		out[i] = copyEntry(e)
	}
	return out
}

// Keys returns all published keys, sorted.
func (s *SharedStore) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.slots))
	for k := range s.slots {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	out := keys[:0]
	for _, k := range keys {
		if s.Version(k) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// SeedGlobals publishes initial run-wide values.
func (s *SharedStore) SeedGlobals(values map[string]models.Value) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		// Keys are never empty here, so Publish cannot fail.
		_, _ = s.Publish(GlobalKey(name), values[name], "run")
	}
}

// Globals returns the latest run-wide values keyed by un-prefixed name.
func (s *SharedStore) Globals() map[string]models.Value {
	out := make(map[string]models.Value)
	for _, key := range s.Keys() {
		if !strings.HasPrefix(key, globalPrefix) {
			continue
		}
		if v, ok := s.Value(key); ok {
			out[strings.TrimPrefix(key, globalPrefix)] = v
		}
	}
	return out
}

// View reads several keys atomically: no publish to any of them can
// interleave with the read. Keys that were never published are omitted.
func (s *SharedStore) View(keys ...string) map[string]Entry {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	locked := make(map[string]*slot, len(sorted))
	var order []*slot
	for _, k := range sorted {
		if _, done := locked[k]; done {
			continue
		}
		sl := s.slotFor(k, false)
		locked[k] = sl
		if sl != nil {
			// Sorted acquisition; writers hold at most one slot lock.
			sl.mu.RLock()
			order = append(order, sl)
		}
	}
	defer func() {
		for _, sl := range order {
			sl.mu.RUnlock()
		}
	}()

	out := make(map[string]Entry, len(locked))
	for k, sl := range locked {
		if sl == nil || sl.current == nil {
			continue
		}
		out[k] = copyEntry(*sl.current)
	}
	return out
}

// Snapshot is a full dump of the store, including history.
type Snapshot struct {
	Keys []KeySnapshot `json:"keys"`
}

// KeySnapshot is the dump of one key.
type KeySnapshot struct {
	Current Entry   `json:"current"`
	History []Entry `json:"history,omitempty"`
}

// Snapshot captures the store consistently.
func (s *SharedStore) Snapshot() Snapshot {
	s.mu.RLock()
	keys := make([]string, 0, len(s.slots))
	for k := range s.slots {
		keys = append(keys, k)
	}
	slots := make(map[string]*slot, len(s.slots))
	for k, sl := range s.slots {
		slots[k] = sl
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		slots[k].mu.RLock()
	}
	defer func() {
		for _, k := range keys {
			slots[k].mu.RUnlock()
		}
	}()

	var snap Snapshot
	for _, k := range keys {
		sl := slots[k]
		if sl.current == nil {
			continue
		}
		ks := KeySnapshot{Current: copyEntry(*sl.current)}
		for _, e := range sl.history {
			ks.History = append(ks.History, copyEntry(e))
		}
		snap.Keys = append(snap.Keys, ks)
	}
	return snap
}

// Restore replaces the store's contents with a snapshot.
func (s *SharedStore) Restore(snap Snapshot) error {
	slots := make(map[string]*slot, len(snap.Keys))
	for _, ks := range snap.Keys {
		key := ks.Current.Key
		if key == "" {
			return errors.New("restore: entry without key")
		}
		if _, dup := slots[key]; dup {
			return fmt.Errorf("restore: key %s appears twice", key)
		}
		cur := copyEntry(ks.Current)
		sl := &slot{current: &cur}
		for _, e := range ks.History {
			if e.Version >= cur.Version {
				return fmt.Errorf("restore: key %s history version %d not below current %d", key, e.Version, cur.Version)
			}
			sl.history = append(sl.history, copyEntry(e))
		}
		slots[key] = sl
	}

	s.mu.Lock()
	s.slots = slots
	s.mu.Unlock()
	return nil
}

// Len returns the number of published keys.
func (s *SharedStore) Len() int {
	return len(s.Keys())
}
