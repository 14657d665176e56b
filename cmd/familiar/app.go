package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hattiebot/familiar/internal/agent"
	"github.com/hattiebot/familiar/internal/config"
	"github.com/hattiebot/familiar/internal/health"
	"github.com/hattiebot/familiar/internal/llmclient"
	"github.com/hattiebot/familiar/internal/logging"
	"github.com/hattiebot/familiar/internal/middleware"
	"github.com/hattiebot/familiar/internal/profile"
	"github.com/hattiebot/familiar/internal/significance"
	"github.com/hattiebot/familiar/internal/store"
	"github.com/hattiebot/familiar/internal/telemetry"
	"github.com/hattiebot/familiar/internal/tools"
	"github.com/hattiebot/familiar/internal/tools/builtin"
)

// app holds the wired components for one command.
type app struct {
	cfg         *config.Config
	log         zerolog.Logger
	db          *store.DB
	personality *profile.Document
	userProfile *profile.Document
	llm         *llmclient.Client
	loop        *agent.Loop
	health      *health.Registry
	telemetry   *telemetry.Provider
	stopWatch   context.CancelFunc
}

// loadConfig resolves the config directory and loads config.yaml from it.
func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolveDir(flagConfigDir))
}

// openStore builds the parts every command needs: config, logger and the message store.
func openStore(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	db, err := store.OpenWithDriver(ctx, cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", cfg.Store.Path).Str("driver", db.Driver()).Msg("store opened")
	return &app{cfg: cfg, log: log, db: db, health: health.NewRegistry(), stopWatch: func() {}}, nil
}

// openAgent wires the full agent. confirm may be nil.
func openAgent(ctx context.Context, confirm middleware.ConfirmationFunc) (*app, error) {
	a, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.wireAgent(ctx, confirm); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireAgent(ctx context.Context, confirm middleware.ConfirmationFunc) error {
	cfg := a.cfg

	tp, err := telemetry.Init(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		return err
	}
	a.telemetry = tp

	a.personality, err = profile.Open(filepath.Join(cfg.Dir, profile.PersonalityFile), profile.PersonalityFields, a.log)
	if err != nil {
		return err
	}
	a.userProfile, err = profile.Open(filepath.Join(cfg.Dir, profile.UserProfileFile), profile.UserProfileFields, a.log)
	if err != nil {
		return err
	}
	watchCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.stopWatch = stop
	for _, doc := range []*profile.Document{a.personality, a.userProfile} {
		go func(doc *profile.Document) {
			if err := doc.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn().Err(err).Str("path", doc.Path()).Msg("profile watch stopped")
			}
		}(doc)
	}

	registry, err := builtin.NewRegistry(builtin.Deps{
		Personality: a.personality,
		UserProfile: a.userProfile,
		History:     a.db,
		ConfigDir:   cfg.Dir,
		ViewConfig:  func() any { return cfg.Masked() },
	})
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, name := range registry.Names() {
		known[name] = true
	}
	for _, name := range cfg.Tools.Disabled {
		if !known[name] {
			a.log.Warn().Str("tool", name).Msg("tools.disabled names an unknown tool")
		}
	}
	executor := middleware.NewPolicyExecutor(
		middleware.NewTruncatingExecutor(
			tools.NewFilteredExecutor(registry, cfg.Tools.Disabled), cfg.Tools.MaxOutputRunes),
		confirm)

	a.llm, err = llmclient.New(llmclient.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, a.log)
	if err != nil {
		return fmt.Errorf("%w (run `familiar config init` or set FAMILIAR_LLM_API_KEY)", err)
	}

	var classifier agent.Classifier
	if cfg.Agent.Classify {
		c, err := significance.New(a.llm, a.log)
		if err != nil {
			return err
		}
		classifier = c
	}

	a.loop = &agent.Loop{
		Store:       a.db,
		Client:      a.llm,
		Executor:    executor,
		Classifier:  classifier,
		Personality: a.personality,
		UserProfile: a.userProfile,
		Window:      cfg.Agent.Window,
		MaxSteps:    cfg.Agent.MaxSteps,
		Log:         a.log.With().Str("component", "agent").Logger(),
	}

	a.health.Register("store", a.db)
	a.health.Register("llm", a.llm)
	return nil
}

// Close releases everything the app opened.
func (a *app) Close() {
	a.stopWatch()
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}
