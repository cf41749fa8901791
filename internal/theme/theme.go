// Package theme keeps the process-wide light/dark preference in the shared
// store, next to (and never confused with) the session token.
package theme

import (
	"sync"

	"papermind/internal/logging"
	"papermind/internal/tokenstore"
	"papermind/internal/types"
)

// Store is the persistent key/value storage.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Controller owns the theme preference.
type Controller struct {
	store Store

	mu      sync.RWMutex
	current types.Theme
}

// New loads the stored theme, falling back to def when none is stored.
func New(store Store, def types.Theme) *Controller {
	c := &Controller{store: store, current: def}
	if v, ok := store.Get(tokenstore.KeyTheme); ok {
		c.current = types.ParseTheme(v)
	}
	return c
}

// Current returns the active theme.
func (c *Controller) Current() types.Theme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set persists t and makes it current.
func (c *Controller) Set(t types.Theme) error {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
	if err := c.store.Set(tokenstore.KeyTheme, string(t)); err != nil {
		logging.UIDebug("failed to persist theme: %v", err)
		return err
	}
	return nil
}

// Toggle flips between light and dark and returns the new theme.
func (c *Controller) Toggle() (types.Theme, error) {
	next := c.Current().Toggle()
	return next, c.Set(next)
}

// OnExternalStorageChange follows a theme chosen in another process. It
// reports whether the theme changed. Other keys are ignored.
func (c *Controller) OnExternalStorageChange(change tokenstore.Change) bool {
	if change.Key != tokenstore.KeyTheme {
		return false
	}
	v, ok := c.store.Get(tokenstore.KeyTheme)
	if !ok {
		return false
	}
	next := types.ParseTheme(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	if next == c.current {
		return false
	}
	c.current = next
	logging.UI("theme changed elsewhere: %s", next)
	return true
}
