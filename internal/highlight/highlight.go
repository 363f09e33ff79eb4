// Package highlight is the entry point for rendering code snippets. A
// Service resolves loose language and theme names, serves repeated requests
// from the render cache, loads what the engine is missing, and answers with
// escaped plain markup whenever highlighting is not possible. It never
// returns an error to its caller.
package highlight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/snipdeck/internal/cache"
	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/eventbus"
	"github.com/asheshgoplani/snipdeck/internal/loader"
	"github.com/asheshgoplani/snipdeck/internal/logging"
	"github.com/asheshgoplani/snipdeck/internal/registry"
)

const (
	DefaultLargeInputThreshold = 30000
	DefaultDarkTheme           = "github-dark"
	DefaultLightTheme          = "github"

	sharedTierTimeout = 2 * time.Second
)

// EmptyMarkup is returned for empty input.
var EmptyMarkup = engine.PlainMarkup("")

// PlainMarkup renders code as escaped, unhighlighted markup.
func PlainMarkup(code string) string { return engine.PlainMarkup(code) }

// Fallback container colors, used when a theme's own colors are unavailable.
var (
	DarkColors  = engine.Colors{Background: "#0d1117", Foreground: "#c9d1d9"}
	LightColors = engine.Colors{Background: "#ffffff", Foreground: "#24292f"}
)

// SharedStore is a second cache tier shared between processes, such as
// cache.RedisStore.
type SharedStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, markup string) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithRegistry sets the catalog served by ListLanguages and ListThemes.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Service) { s.reg = r }
}

// WithEventBus publishes render fallbacks and cache events on bus.
func WithEventBus(bus *eventbus.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithSharedStore adds a shared cache tier consulted on local misses.
func WithSharedStore(store SharedStore) Option {
	return func(s *Service) { s.shared = store }
}

// WithLargeInputThreshold sets the character count above which code is
// never sent to the engine.
func WithLargeInputThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithDefaultThemes sets the fallback themes. Both must be core themes so
// they are loaded with the engine.
func WithDefaultThemes(dark, light string) Option {
	return func(s *Service) {
		if dark != "" {
			s.dark = dark
		}
		if light != "" {
			s.light = light
		}
	}
}

// Service is safe for concurrent use.
type Service struct {
	handle *engine.Handle
	coord  *loader.Coordinator
	cache  *cache.Cache
	reg    *registry.Registry
	shared SharedStore
	bus    *eventbus.EventBus
	log    *slog.Logger

	threshold   int
	dark, light string

	mu       sync.Mutex
	resolver *Resolver
}

// NewService wires the facade over its collaborators. The engine is not
// built until the first call that needs it.
func NewService(handle *engine.Handle, coord *loader.Coordinator, c *cache.Cache, opts ...Option) *Service {
	s := &Service{
		handle:    handle,
		coord:     coord,
		cache:     c,
		log:       logging.ForComponent(logging.CompHighlight),
		threshold: DefaultLargeInputThreshold,
		dark:      DefaultDarkTheme,
		light:     DefaultLightTheme,
	}
	for _, o := range opts {
		o(s)
	}
	if s.reg == nil {
		s.reg = registry.Default()
	}
	c.OnEvict(func(n int) {
		cacheEvictions.Add(float64(n))
		s.bus.Emit(eventbus.Event{Type: eventbus.EventCacheEvicted, Channel: eventbus.ChannelCache, Data: eventbus.CacheData{Count: n}})
	})
	return s
}

// Highlight renders code as highlighted HTML. It always returns well-formed
// markup containing the escaped code, falling back to plain text whenever
// the engine cannot produce a rendering.
func (s *Service) Highlight(ctx context.Context, code, language, theme string) (markup string) {
	if code == "" {
		return EmptyMarkup
	}
	if s.tooLarge(code) {
		s.fallback(ReasonLargeInput, language, theme, nil)
		return PlainMarkup(code)
	}

	defer func() {
		if r := recover(); r != nil {
			s.fallback(ReasonRenderPanic, language, theme, fmt.Errorf("%v", r))
			markup = PlainMarkup(code)
		}
	}()

	res, err := s.resolve(ctx)
	if err != nil {
		s.fallback(failureReason(err, ReasonEngine), language, theme, err)
		return PlainMarkup(code)
	}
	lang, th := res.Language(language), res.Theme(theme)

	key := cache.Key(lang, th, code)
	if m, ok := s.lookup(ctx, key); ok {
		return m
	}

	inst, err := s.handle.Get(ctx)
	if err != nil {
		s.fallback(failureReason(err, ReasonEngine), lang, th, err)
		return PlainMarkup(code)
	}

	lang, th, err = s.ensure(ctx, inst, res, lang, th)
	if err != nil {
		s.fallback(failureReason(err, ReasonEngine), lang, th, err)
		return PlainMarkup(code)
	}
	if finalKey := cache.Key(lang, th, code); finalKey != key {
		// A substitute is in play; it may already be cached. The request
		// was counted by lookup above.
		key = finalKey
		if m, ok := s.cache.Peek(key); ok {
			return m
		}
	}

	start := time.Now()
	out, err := inst.Render(ctx, code, lang, th)
	renderSeconds.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		s.fallback(failureReason(err, ReasonRenderError), lang, th, err)
		return PlainMarkup(code)
	case !engine.HasWrapper(out):
		s.fallback(ReasonMissingMarkup, lang, th, nil)
		return PlainMarkup(code)
	}

	s.store(ctx, key, out)
	return out
}

// ensure loads lang and th in parallel and substitutes guaranteed
// resources for whichever failed. It errors only when the instance is
// gone or the caller gave up.
func (s *Service) ensure(ctx context.Context, inst engine.Instance, res *Resolver, lang, th string) (string, string, error) {
	var langErr, themeErr error
	var g errgroup.Group
	g.Go(func() error {
		langErr = s.coord.EnsureLanguageLoaded(ctx, inst, lang)
		return nil
	})
	g.Go(func() error {
		themeErr = s.coord.EnsureThemeLoaded(ctx, inst, th)
		return nil
	})
	_ = g.Wait()

	for _, err := range []error{langErr, themeErr} {
		if isTerminal(err) {
			return lang, th, err
		}
	}
	if langErr != nil {
		s.fallback(ReasonLanguageLoad, lang, th, langErr)
		lang = engine.PlainText
	}
	if themeErr != nil {
		s.fallback(ReasonThemeLoad, lang, th, themeErr)
		th = res.DefaultTheme(th)
		if err := s.coord.EnsureThemeLoaded(ctx, inst, th); err != nil {
			return lang, th, err
		}
	}
	return lang, th, nil
}

// lookup checks the local cache, then the shared tier.
func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	if m, ok := s.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return m, true
	}
	if s.shared != nil {
		sctx, cancel := context.WithTimeout(ctx, sharedTierTimeout)
		m, ok, err := s.shared.Get(sctx, key)
		cancel()
		switch {
		case err != nil:
			s.log.Warn("shared_cache_get_failed", slog.String("error", err.Error()))
		case ok && engine.HasWrapper(m):
			cacheLookups.WithLabelValues("shared_hit").Inc()
			s.cache.Set(key, m)
			return m, true
		}
	}
	cacheLookups.WithLabelValues("miss").Inc()
	return "", false
}

func (s *Service) store(ctx context.Context, key, markup string) {
	s.cache.Set(key, markup)
	if s.shared == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTierTimeout)
	defer cancel()
	if err := s.shared.Set(sctx, key, markup); err != nil {
		s.log.Warn("shared_cache_set_failed", slog.String("error", err.Error()))
	}
}

// resolve returns the name resolver, building the engine on first use to
// learn its ids. Every engine from the same factory knows the same ids, so
// the resolver outlives Dispose.
func (s *Service) resolve(ctx context.Context) (*Resolver, error) {
	s.mu.Lock()
	r := s.resolver
	s.mu.Unlock()
	if r != nil {
		return r, nil
	}

	inst, err := s.handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	r = NewResolver(inst.Languages(), inst.Themes(), s.dark, s.light)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolver == nil {
		s.resolver = r
	}
	return s.resolver, nil
}

// ResolveLanguage returns the canonical id Highlight would use for name.
func (s *Service) ResolveLanguage(ctx context.Context, name string) string {
	r, err := s.resolve(ctx)
	if err != nil {
		return engine.PlainText
	}
	return r.Language(name)
}

// ResolveTheme returns the canonical id Highlight would use for name.
func (s *Service) ResolveTheme(ctx context.Context, name string) string {
	r, err := s.resolve(ctx)
	if err != nil {
		return NewResolver(nil, nil, s.dark, s.light).DefaultTheme(name)
	}
	return r.Theme(name)
}

// ThemeColors returns the container colors of theme, or the built-in dark
// or light colors when the theme cannot be read.
func (s *Service) ThemeColors(ctx context.Context, theme string) engine.Colors {
	res, err := s.resolve(ctx)
	if err != nil {
		return s.defaultColors(NewResolver(nil, nil, s.dark, s.light), theme)
	}
	th := res.Theme(theme)

	colors, err := s.themeColors(ctx, th)
	if err != nil {
		s.log.Warn("theme_colors_fallback", slog.String("theme", th), slog.String("error", err.Error()))
		return s.defaultColors(res, th)
	}
	return colors
}

func (s *Service) themeColors(ctx context.Context, th string) (colors engine.Colors, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("highlight: theme colors panicked: %v", r)
		}
	}()
	inst, err := s.handle.Get(ctx)
	if err != nil {
		return engine.Colors{}, err
	}
	if err := s.coord.EnsureThemeLoaded(ctx, inst, th); err != nil {
		return engine.Colors{}, err
	}
	colors, err = inst.ThemeColors(th)
	if err != nil {
		return engine.Colors{}, err
	}
	if colors.Background == "" || colors.Foreground == "" {
		return engine.Colors{}, errors.New("highlight: theme has incomplete colors")
	}
	return colors, nil
}

func (s *Service) defaultColors(res *Resolver, theme string) engine.Colors {
	if res.IsLight(res.DefaultTheme(theme)) || res.IsLight(normalizeName(theme)) {
		return LightColors
	}
	return DarkColors
}

// ListLanguages returns the language catalog.
func (s *Service) ListLanguages() []registry.Entry { return s.reg.ListLanguages() }

// ListThemes returns the theme catalog.
func (s *Service) ListThemes() []registry.Entry { return s.reg.ListThemes() }

// SearchLanguages filters the language catalog by a fuzzy query.
func (s *Service) SearchLanguages(q string) []registry.Entry { return s.reg.SearchLanguages(q) }

// SearchThemes filters the theme catalog by a fuzzy query.
func (s *Service) SearchThemes(q string) []registry.Entry { return s.reg.SearchThemes(q) }

// CacheStats reports the local render cache counters.
func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }

// ClearCache empties the local render cache, and the shared tier when it
// supports clearing.
func (s *Service) ClearCache() {
	if c, ok := s.shared.(interface {
		Clear(ctx context.Context) (int, error)
	}); ok {
		ctx, cancel := context.WithTimeout(context.Background(), sharedTierTimeout)
		removed, err := c.Clear(ctx)
		cancel()
		if err != nil {
			s.log.Warn("shared_cache_clear_failed", slog.String("error", err.Error()))
		} else {
			s.log.Debug("shared_cache_cleared", slog.Int("entries", removed))
		}
	}
	s.clearLocal()
}

func (s *Service) clearLocal() {
	n := s.cache.Len()
	s.cache.Clear()
	s.log.Info("cache_cleared", slog.Int("entries", n))
	s.bus.Emit(eventbus.Event{Type: eventbus.EventCacheCleared, Channel: eventbus.ChannelCache, Data: eventbus.CacheData{Count: n}})
}

// Dispose releases the engine and forgets every loaded resource and locally
// cached rendering. The shared tier is left intact for other processes. The
// next call builds a fresh engine.
func (s *Service) Dispose() error {
	err := s.handle.Dispose()
	s.coord.Reset()
	s.clearLocal()
	return err
}

func (s *Service) tooLarge(code string) bool {
	// Byte length bounds the rune count from above.
	return len(code) > s.threshold && utf8.RuneCountInString(code) > s.threshold
}

func (s *Service) fallback(reason, language, theme string, err error) {
	renderFallbacks.WithLabelValues(reason).Inc()
	attrs := []any{
		slog.String("reason", reason),
		slog.String("language", language),
		slog.String("theme", theme),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level := slog.LevelWarn
	switch reason {
	case ReasonRenderPanic:
		level = slog.LevelError
	case ReasonLargeInput, ReasonCanceled:
		level = slog.LevelDebug
	}
	s.log.Log(context.Background(), level, "render_fallback", attrs...)
	s.bus.Emit(eventbus.Event{
		Type:    eventbus.EventRenderFallback,
		Channel: eventbus.ChannelRender,
		Data:    eventbus.FallbackData{Reason: reason, Language: language, Theme: theme},
	})
}

// isTerminal reports whether err means the request cannot be served by
// substituting resources.
func isTerminal(err error) bool {
	return errors.Is(err, engine.ErrDisposed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func failureReason(err error, otherwise string) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonCanceled
	}
	return otherwise
}
