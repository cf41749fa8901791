package tokenstore

import "sync"

// Memory is an in-process store. Writes through Set/Remove are local and
// produce no notification; ExternalSet and ExternalRemove mutate the store the
// way another process would and deliver a Change.
type Memory struct {
	mu      sync.RWMutex
	values  map[string]string
	changes chan Change
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{values: map[string]string{}, changes: make(chan Change, 32)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Changes delivers external mutations.
func (m *Memory) Changes() <-chan Change { return m.changes }

// ExternalSet stores a value as another process would and returns the Change
// it delivered.
func (m *Memory) ExternalSet(key, value string) Change {
	m.mu.Lock()
	old := m.values[key]
	m.values[key] = value
	m.mu.Unlock()
	c := Change{Key: key, OldValue: old, NewValue: value}
	m.changes <- c
	return c
}

// ExternalRemove deletes a key as another process would and returns the
// Change it delivered.
func (m *Memory) ExternalRemove(key string) Change {
	m.mu.Lock()
	old := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()
	c := Change{Key: key, OldValue: old, Removed: true}
	m.changes <- c
	return c
}

// Wipe deletes a key without delivering a notification, like a devtools edit
// in the same tab. Only a focus re-check can observe it.
func (m *Memory) Wipe(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}
