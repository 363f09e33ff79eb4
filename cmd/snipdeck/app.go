package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/asheshgoplani/snipdeck/internal/cache"
	"github.com/asheshgoplani/snipdeck/internal/config"
	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/eventbus"
	"github.com/asheshgoplani/snipdeck/internal/highlight"
	"github.com/asheshgoplani/snipdeck/internal/loader"
	"github.com/asheshgoplani/snipdeck/internal/logging"
	"github.com/asheshgoplani/snipdeck/internal/registry"
)

// app is the wired highlighting core shared by every command.
type app struct {
	cfg     config.Config
	bus     *eventbus.EventBus
	cache   *cache.Cache
	shared  *cache.RedisStore
	service *highlight.Service
	log     *slog.Logger
	logs    io.Closer
}

// newApp loads configuration, installs logging, and wires the core over
// factory. The Redis tier is attached only when configured.
func newApp(ctx context.Context, configPath string, factory engine.Factory) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logs, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := wire(ctx, cfg, factory)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.logs = logs
	return a, nil
}

func wire(ctx context.Context, cfg config.Config, factory engine.Factory) (*app, error) {
	reg := registry.Default()
	bus := eventbus.New()

	opts := engine.Options{
		CoreLanguages: cfg.Highlight.CoreLanguages,
		CoreThemes:    cfg.Highlight.CoreThemes,
	}
	if len(opts.CoreLanguages) == 0 {
		opts.CoreLanguages = reg.CoreLanguages()
	}
	if len(opts.CoreThemes) == 0 {
		opts.CoreThemes = reg.CoreThemes()
	}
	opts.CoreThemes = withThemes(opts.CoreThemes, cfg.Highlight.DarkTheme, cfg.Highlight.LightTheme)

	handle := engine.NewHandle(factory, opts, engine.WithLifecycleHook(highlight.LifecycleObserver(bus)))
	coord := loader.New(loader.WithObserver(highlight.LoadObserver(bus)))
	renders := cache.New(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
		EvictFraction: cfg.Cache.EvictFraction,
	})

	svcOpts := []highlight.Option{
		highlight.WithRegistry(reg),
		highlight.WithEventBus(bus),
		highlight.WithLargeInputThreshold(cfg.Highlight.LargeInputThreshold),
		highlight.WithDefaultThemes(cfg.Highlight.DarkTheme, cfg.Highlight.LightTheme),
	}

	a := &app{
		cfg:   cfg,
		bus:   bus,
		cache: renders,
		log:   logging.ForComponent(logging.CompCLI),
	}
	if cfg.Redis.URL != "" {
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis tier: %w", err)
		}
		a.shared = store
		svcOpts = append(svcOpts, highlight.WithSharedStore(store))
	}

	a.service = highlight.NewService(handle, coord, renders, svcOpts...)
	return a, nil
}

// applyConfig carries reloadable settings into the running core.
func (a *app) applyConfig(cfg config.Config) {
	a.cache.Resize(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	a.log.Info("config_applied",
		slog.Int("cache_max_entries", cfg.Cache.MaxEntries),
		slog.Duration("cache_ttl", cfg.Cache.TTL))
}

func (a *app) Close() error {
	var errs []error
	if err := a.service.Dispose(); err != nil {
		errs = append(errs, err)
	}
	if a.shared != nil {
		if err := a.shared.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// shutdown is Close for deferred use: cleanup failures are logged since the
// command's result is already decided.
func (a *app) shutdown() {
	if err := a.Close(); err != nil {
		a.log.Warn("shutdown_cleanup_failed", slog.String("error", err.Error()))
	}
}

// withThemes appends the fallback themes so they load with the engine.
func withThemes(core []string, extra ...string) []string {
	out := append([]string(nil), core...)
	for _, id := range extra {
		if id == "" {
			continue
		}
		found := false
		for _, c := range out {
			if c == id {
				found = true
				break
			}
		}
		if !found {
			out = append(out, id)
		}
	}
	return out
}
