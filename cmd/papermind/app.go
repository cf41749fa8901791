package main

import (
	"context"
	"errors"
	"fmt"

	"papermind/cmd/papermind/ui"
	"papermind/internal/config"
	"papermind/internal/conversation"
	"papermind/internal/gateway"
	"papermind/internal/logging"
	"papermind/internal/pipeline"
	"papermind/internal/session"
	"papermind/internal/store"
	"papermind/internal/theme"
	"papermind/internal/tokenstore"
	"papermind/internal/types"

	"go.uber.org/zap"
)

// app is one wired client: the shared token store, the backend gateway and
// the controllers built on them.
type app struct {
	cfg     *config.Config
	tokens  *tokenstore.FileStore
	gateway *gateway.Client
	session *session.Controller
	repo    *store.SQLite
	convs   *conversation.Store
	pipes   *pipeline.Coordinator
	theme   *theme.Controller

	// storage fans the store's notifications out to the session (index 0)
	// and the view (index 1). Nil unless watching.
	storage []<-chan tokenstore.Change
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.Backend.BaseURL = apiURL
	}
	if verbose {
		cfg.Logging.DebugMode = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp wires the client. With watch set, changes made by other processes
// are delivered on a.storage until ctx is done.
func openApp(ctx context.Context, watch bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Storage.Dir, cfg.Logging.Options()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	timeout, err := cfg.BackendTimeout()
	if err != nil {
		return nil, err
	}

	tokens, err := tokenstore.Open(cfg.TokenStorePath())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, tokens: tokens}

	// Document calls read the token through the session so they only ever
	// carry a validated one.
	a.gateway = gateway.New(cfg.Backend.BaseURL, timeout, func() string { return a.session.Token() })
	a.session = session.New(a.gateway, tokens)

	a.repo, err = store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	a.convs = conversation.New(a.gateway, a.repo)
	a.pipes = pipeline.NewCoordinator(a.convs, pipeline.Deps{
		Backend: a.gateway,
		Epoch:   func() uint64 { return a.session.Current().Epoch },
		OnError: a.session.HandleError,
	})

	def := types.ParseTheme(cfg.UI.Theme)
	if cfg.UI.Theme == "" || cfg.UI.Theme == "auto" {
		def = ui.DetectTheme()
	}
	a.theme = theme.New(tokens, def)

	if watch {
		if err := tokens.Watch(ctx); err != nil {
			// Still usable; other processes just go unheard until restart.
			logger.Warn("storage watch unavailable", zap.Error(err))
		}
		a.storage = tokenstore.Broadcast(ctx, tokens.Changes(), 2)
	}

	logger.Debug("client ready",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("storage", tokens.Path()),
		zap.String("database", a.repo.Path()))
	return a, nil
}

// Close releases the watcher and database.
func (a *app) Close() {
	if err := a.tokens.Close(); err != nil {
		logger.Warn("closing token store", zap.Error(err))
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			logger.Warn("closing database", zap.Error(err))
		}
	}
	logging.CloseAll()
}

var errNotLoggedIn = errors.New("not logged in; run `papermind login`")

// requireSession validates the stored token and returns the session.
func (a *app) requireSession(ctx context.Context) (types.Session, error) {
	s := a.session.Initialize(ctx)
	if !s.Authenticated() {
		return s, errNotLoggedIn
	}
	return s, nil
}

// activePipeline loads the account's conversations and returns the pipeline
// of the latest one, starting a conversation when there is none.
func (a *app) activePipeline(ctx context.Context, s types.Session) (*pipeline.Pipeline, error) {
	if err := a.convs.Load(ctx, s.Profile.Email); err != nil {
		logger.Warn("loading conversations", zap.Error(err))
	}
	if p := a.pipes.Active(); p != nil {
		return p, nil
	}
	p, err := a.pipes.ResetConversation(ctx)
	if err != nil && !errors.Is(err, conversation.ErrIndexNotCleared) {
		return nil, err
	}
	return p, nil
}
