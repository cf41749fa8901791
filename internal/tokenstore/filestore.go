// Package tokenstore is the client's persistent key/value storage: the bearer
// token, the cached user profile and the theme preference. Every papermind
// process pointed at the same storage directory shares one file; changes made
// by one process are delivered to the others as Change notifications, the way
// a browser delivers storage events to the other tabs of an origin.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"papermind/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Well-known keys.
const (
	KeyToken = "token"
	KeyUser  = "user"
	KeyTheme = "theme"
)

// Change describes a mutation made by another process. NewValue is empty and
// Removed is true when the key was deleted.
type Change struct {
	Key      string
	OldValue string
	NewValue string
	Removed  bool
}

// FileStore is a JSON file of string values, watched with fsnotify.
type FileStore struct {
	path string

	mu sync.Mutex
	// seen is the last state this process wrote or was notified about; the
	// watcher diffs the file against it so a process never hears its own
	// writes.
	seen map[string]string

	watcher *fsnotify.Watcher
	changes chan Change
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Open creates the storage directory if needed and loads the current values.
func Open(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	s := &FileStore{
		path:    path,
		changes: make(chan Change, 32),
	}
	values, err := s.read()
	if err != nil {
		return nil, err
	}
	s.seen = values
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse storage: %w", err)
	}
	return values, nil
}

// write replaces the file atomically so readers never observe a torn file.
func (s *FileStore) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".storage-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write storage: %w", err)
	}
	return nil
}

// Get reads the current value from disk. An unreadable file reads as empty,
// which callers treat as "no token".
func (s *FileStore) Get(key string) (string, bool) {
	values, err := s.read()
	if err != nil {
		logging.StoreWarn("token store read failed: %v", err)
		return "", false
	}
	v, ok := values[key]
	return v, ok
}

// Set stores value under key.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		values = map[string]string{}
	}
	values[key] = value
	if err := s.write(values); err != nil {
		return err
	}
	s.seen[key] = value
	logging.StoreDebug("set %s", key)
	return nil
}

// Remove deletes keys. Missing keys are ignored.
func (s *FileStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		values = map[string]string{}
	}
	for _, k := range keys {
		delete(values, k)
	}
	if err := s.write(values); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.seen, k)
	}
	logging.StoreDebug("removed %v", keys)
	return nil
}

// Changes delivers mutations made by other processes while Watch is running.
func (s *FileStore) Changes() <-chan Change { return s.changes }

// Watch starts watching the storage directory. This method is non-blocking;
// notifications arrive on Changes until ctx is done or Close is called.
func (s *FileStore) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		s.mu.Unlock()
		return fmt.Errorf("failed to watch storage directory: %w", err)
	}
	s.watcher = w
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	logging.Store("watching %s", s.path)
	go s.run(ctx)
	return nil
}

// Close stops the watcher and waits for it to exit.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	return s.watcher.Close()
}

func (s *FileStore) run(ctx context.Context) {
	defer close(s.doneCh)
	name := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			for _, c := range s.diff() {
				select {
				case s.changes <- c:
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryStore).Error("storage watcher error: %v", err)
		}
	}
}

// diff compares the file with the last seen state and records the file as
// seen. Changes are ordered by key.
func (s *FileStore) diff() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		// A half-written file from a non-atomic writer; the next event re-reads.
		logging.StoreWarn("storage diff skipped: %v", err)
		return nil
	}

	var out []Change
	for k, old := range s.seen {
		if _, ok := current[k]; !ok {
			out = append(out, Change{Key: k, OldValue: old, Removed: true})
		}
	}
	for k, v := range current {
		if old, ok := s.seen[k]; !ok || old != v {
			out = append(out, Change{Key: k, OldValue: old, NewValue: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	s.seen = current
	for _, c := range out {
		logging.StoreDebug("external change key=%s removed=%v", c.Key, c.Removed)
	}
	return out
}
