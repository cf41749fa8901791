// Package session owns the authentication state of one client process and keeps
// it consistent with every other process sharing the same token store.
//
// Truth lives in the store: notifications and focus events are only triggers to
// re-read it and, when a token is present, revalidate it against the backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"papermind/internal/logging"
	"papermind/internal/tokenstore"
	"papermind/internal/types"

	"golang.org/x/sync/singleflight"
)

// Backend is the slice of the gateway the controller needs.
type Backend interface {
	Authenticate(ctx context.Context, email, password string) (string, types.Profile, error)
	Register(ctx context.Context, reg types.Registration) error
	FetchProfile(ctx context.Context, token string) (types.Profile, error)
}

// Store is the persistent key/value storage holding the token and profile.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(keys ...string) error
}

// Controller is the session state machine:
//
//	Unauthenticated -> Authenticating -> Authenticated
//	Authenticated -> Unauthenticated on validation failure, logout, or token
//	removal observed in any process.
type Controller struct {
	backend Backend
	store   Store

	mu      sync.RWMutex
	current types.Session
	subs    []chan types.Session

	validate singleflight.Group
}

// New creates an Unauthenticated controller. Call Initialize to load the stored
// token.
func New(backend Backend, store Store) *Controller {
	return &Controller{backend: backend, store: store}
}

// Current returns a snapshot of the session.
func (c *Controller) Current() types.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Token returns the validated bearer token, or "" when not Authenticated.
func (c *Controller) Token() string {
	s := c.Current()
	if !s.Authenticated() {
		return ""
	}
	return s.Token
}

// Subscribe returns a channel receiving every new snapshot. Slow subscribers
// drop intermediate snapshots, never the latest one.
func (c *Controller) Subscribe() <-chan types.Session {
	ch := make(chan types.Session, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// set replaces the state and notifies subscribers. Caller must hold c.mu.
func (c *Controller) set(next types.Session) {
	wasAuth := c.current.Status == types.StatusAuthenticated
	isAuth := next.Status == types.StatusAuthenticated
	next.Epoch = c.current.Epoch
	if wasAuth != isAuth || (isAuth && next.Token != c.current.Token) {
		next.Epoch++
	}
	if next == c.current {
		return
	}
	c.current = next
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

func (c *Controller) setUnauthenticated(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Status != types.StatusUnauthenticated {
		logging.Session("session -> unauthenticated (%s)", reason)
	}
	c.set(types.Session{Status: types.StatusUnauthenticated})
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Initialize loads the stored token and validates it. Failure of any kind
// clears the token (fail closed).
func (c *Controller) Initialize(ctx context.Context) types.Session {
	c.revalidate(ctx)
	return c.Current()
}

// revalidate re-derives the session from the store. Concurrent triggers share
// one validation round-trip.
func (c *Controller) revalidate(ctx context.Context) {
	_, _, _ = c.validate.Do("validate", func() (interface{}, error) {
		c.validateStored(ctx)
		return nil, nil
	})
}

// maxRevalidations bounds how often validateStored chases a token that keeps
// being replaced while it is being validated.
const maxRevalidations = 5

func (c *Controller) validateStored(ctx context.Context) {
	for i := 0; i < maxRevalidations; i++ {
		if c.validateOnce(ctx) {
			return
		}
	}
	c.setUnauthenticated("token kept changing during validation")
}

// validateOnce validates the stored token. It returns false when the token was
// replaced before the answer arrived, so the caller must try again.
func (c *Controller) validateOnce(ctx context.Context) bool {
	token, ok := c.store.Get(tokenstore.KeyToken)
	if !ok || strings.TrimSpace(token) == "" {
		c.setUnauthenticated("no token")
		return true
	}

	c.mu.Lock()
	if c.current.Status == types.StatusAuthenticated && c.current.Token == token {
		// Same token already validated: stay Authenticated while rechecking.
		c.mu.Unlock()
	} else {
		c.set(types.Session{Status: types.StatusAuthenticating, Token: token})
		c.mu.Unlock()
	}

	profile, err := c.backend.FetchProfile(ctx, token)

	// The store may have moved on while the request was in flight; only the
	// token that is still stored may decide the outcome.
	if latest, _ := c.store.Get(tokenstore.KeyToken); latest != token {
		logging.SessionDebug("discarding validation of a replaced token")
		return false
	}

	if err != nil {
		logging.SessionWarn("token validation failed: %v", err)
		if rmErr := c.store.Remove(tokenstore.KeyToken); rmErr != nil {
			logging.SessionWarn("failed to clear token: %v", rmErr)
		}
		c.setUnauthenticated("validation failed")
		return true
	}

	c.mu.Lock()
	c.set(types.Session{Status: types.StatusAuthenticated, Token: token, Profile: profile})
	c.mu.Unlock()
	logging.Session("session authenticated as %s", profile.Email)
	return true
}

// Login authenticates and persists the token and profile. Failures are
// returned for display; nothing is retried. A failed attempt leaves an
// already validated session and its stored token as they were; otherwise the
// session ends Unauthenticated.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return types.ValidationError("login", "Email and password are required")
	}

	c.mu.Lock()
	prev := c.current
	if !prev.Authenticated() {
		c.set(types.Session{Status: types.StatusAuthenticating})
	}
	c.mu.Unlock()

	fail := func(reason string, err error) error {
		if prev.Authenticated() {
			logging.SessionWarn("re-login failed, keeping current session: %v", err)
			return err
		}
		c.setUnauthenticated(reason)
		return err
	}

	token, profile, err := c.backend.Authenticate(ctx, email, password)
	if err != nil {
		return fail("login failed", err)
	}

	if err := c.store.Set(tokenstore.KeyToken, token); err != nil {
		return fail("token not persisted", err)
	}
	if data, err := json.Marshal(types.Profile{Name: profile.Name, Email: profile.Email}); err == nil {
		if err := c.store.Set(tokenstore.KeyUser, string(data)); err != nil {
			logging.SessionWarn("failed to persist profile: %v", err)
		}
	}

	c.mu.Lock()
	c.set(types.Session{Status: types.StatusAuthenticated, Token: token, Profile: profile})
	c.mu.Unlock()
	logging.Session("logged in as %s", email)
	return nil
}

// Register creates an account. Success does not authenticate; the caller
// should present the login form.
func (c *Controller) Register(ctx context.Context, reg types.Registration) error {
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Name == "" || reg.Email == "" || reg.Password == "" {
		return types.ValidationError("register", "Name, email and password are required")
	}
	if !strings.Contains(reg.Email, "@") {
		return types.ValidationError("register", "Enter a valid email address")
	}
	if err := c.backend.Register(ctx, reg); err != nil {
		return err
	}
	logging.Session("registered %s", reg.Email)
	return nil
}

// Logout clears the stored token and profile. It never touches the network
// and always ends Unauthenticated.
func (c *Controller) Logout() error {
	err := c.store.Remove(tokenstore.KeyToken, tokenstore.KeyUser)
	c.setUnauthenticated("logout")
	return err
}

// OnExternalStorageChange handles a mutation made by another process. Token
// removal wins over any local belief; a new or changed token is revalidated,
// never trusted.
func (c *Controller) OnExternalStorageChange(ctx context.Context, change tokenstore.Change) {
	if change.Key != tokenstore.KeyToken {
		return
	}
	token, ok := c.store.Get(tokenstore.KeyToken)
	if !ok || token == "" {
		c.setUnauthenticated("token removed elsewhere")
		return
	}
	logging.SessionDebug("token changed elsewhere, revalidating")
	c.revalidate(ctx)
}

// OnRegainFocus catches wipes that produced no notification.
func (c *Controller) OnRegainFocus() {
	if c.Current().Status != types.StatusAuthenticated {
		return
	}
	if token, ok := c.store.Get(tokenstore.KeyToken); !ok || token == "" {
		c.setUnauthenticated("token gone on focus")
	}
}

// Run feeds storage notifications into OnExternalStorageChange until ctx is
// done or changes is closed.
func (c *Controller) Run(ctx context.Context, changes <-chan tokenstore.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			c.OnExternalStorageChange(ctx, ch)
		}
	}
}

// CachedProfile returns the profile persisted at login, for display before
// validation completes.
func (c *Controller) CachedProfile() types.Profile {
	raw, ok := c.store.Get(tokenstore.KeyUser)
	if !ok {
		return types.Profile{}
	}
	var p types.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return types.Profile{}
	}
	return p
}

// IsAuthError reports whether err should force the session closed.
func IsAuthError(err error) bool {
	return errors.Is(err, types.ErrUnauthorized)
}

// HandleError forces Unauthenticated when err is an Unauthorized failure from
// any backend call. It returns true when the session was closed.
func (c *Controller) HandleError(err error) bool {
	if !IsAuthError(err) {
		return false
	}
	if rmErr := c.store.Remove(tokenstore.KeyToken); rmErr != nil {
		logging.SessionWarn("failed to clear token: %v", rmErr)
	}
	c.setUnauthenticated("unauthorized response")
	return true
}
