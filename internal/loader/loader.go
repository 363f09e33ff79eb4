// Package loader makes sure each language and theme is loaded into the
// engine at most once per engine generation, sharing one load between all
// concurrent callers that ask for the same resource.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/logging"
)

// ErrNoEngine is returned when Ensure is called with an empty instance.
var ErrNoEngine = errors.New("loader: no engine instance")

// Result describes the outcome of one underlying engine load.
type Result struct {
	Kind       engine.Kind
	ID         string
	Generation uint64
	Duration   time.Duration
	Err        error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithObserver registers fn to receive every load result. fn runs on the
// loading goroutine, outside the coordinator's lock.
func WithObserver(fn func(Result)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

type resource struct {
	kind engine.Kind
	id   string
}

// Coordinator tracks which resources are resident in the newest engine
// generation it has seen. The zero value is not usable; call New.
type Coordinator struct {
	group    singleflight.Group
	log      *slog.Logger
	observer func(Result)

	mu     sync.Mutex
	gen    uint64
	loaded map[resource]bool
}

// New returns an empty Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		log:    logging.ForComponent(logging.CompLoader),
		loaded: make(map[resource]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EnsureLanguageLoaded loads the canonical language id into inst unless it
// is already resident or being loaded.
func (c *Coordinator) EnsureLanguageLoaded(ctx context.Context, inst engine.Instance, id string) error {
	return c.ensure(ctx, inst, resource{engine.KindLanguage, id})
}

// EnsureThemeLoaded loads the canonical theme id into inst unless it is
// already resident or being loaded.
func (c *Coordinator) EnsureThemeLoaded(ctx context.Context, inst engine.Instance, id string) error {
	return c.ensure(ctx, inst, resource{engine.KindTheme, id})
}

func (c *Coordinator) ensure(ctx context.Context, inst engine.Instance, res resource) error {
	if inst.Engine == nil {
		return ErrNoEngine
	}

	c.mu.Lock()
	c.advance(inst)
	if inst.Generation < c.gen {
		c.mu.Unlock()
		return fmt.Errorf("loader: generation %d superseded by %d: %w", inst.Generation, c.gen, engine.ErrDisposed)
	}
	if c.loaded[res] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	key := fmt.Sprintf("%d/%s/%s", inst.Generation, res.kind, res.id)
	// The load outlives any single caller so abandoned requests still
	// populate shared state.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return nil, c.load(loadCtx, inst, res)
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load runs inside the singleflight call for res.
func (c *Coordinator) load(ctx context.Context, inst engine.Instance, res resource) (err error) {
	// A previous flight for the same key may have finished between the
	// caller's check and this call starting.
	c.mu.Lock()
	done := inst.Generation == c.gen && c.loaded[res]
	c.mu.Unlock()
	if done {
		return nil
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader: %s %q load panicked: %v", res.kind, res.id, r)
		}
		c.finish(Result{
			Kind:       res.kind,
			ID:         res.id,
			Generation: inst.Generation,
			Duration:   time.Since(start),
			Err:        err,
		})
	}()

	switch res.kind {
	case engine.KindLanguage:
		return inst.LoadLanguage(ctx, res.id)
	default:
		return inst.LoadTheme(ctx, res.id)
	}
}

func (c *Coordinator) finish(r Result) {
	c.mu.Lock()
	if r.Err == nil && r.Generation == c.gen {
		c.loaded[resource{r.Kind, r.ID}] = true
	}
	c.mu.Unlock()

	if r.Err != nil {
		c.log.Warn("resource_load_failed",
			slog.String("kind", string(r.Kind)),
			slog.String("id", r.ID),
			slog.Uint64("generation", r.Generation),
			slog.String("error", r.Err.Error()))
	} else {
		c.log.Debug("resource_loaded",
			slog.String("kind", string(r.Kind)),
			slog.String("id", r.ID),
			slog.Uint64("generation", r.Generation),
			slog.Duration("duration", r.Duration))
	}
	if c.observer != nil {
		c.observer(r)
	}
}

// advance switches tracking to a newer generation, seeding it with the
// resources the engine was built with. Must hold c.mu.
func (c *Coordinator) advance(inst engine.Instance) {
	if inst.Generation <= c.gen {
		return
	}
	c.gen = inst.Generation
	c.loaded = make(map[resource]bool, len(inst.Preloaded.CoreLanguages)+len(inst.Preloaded.CoreThemes)+1)
	c.loaded[resource{engine.KindLanguage, engine.PlainText}] = true
	for _, id := range inst.Preloaded.CoreLanguages {
		c.loaded[resource{engine.KindLanguage, id}] = true
	}
	for _, id := range inst.Preloaded.CoreThemes {
		c.loaded[resource{engine.KindTheme, id}] = true
	}
}

// IsLoaded reports whether id is resident in the newest generation seen.
func (c *Coordinator) IsLoaded(kind engine.Kind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded[resource{kind, id}]
}

// Loaded returns the sorted ids of resident resources of kind.
func (c *Coordinator) Loaded(kind engine.Kind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for r := range c.loaded {
		if r.kind == kind {
			ids = append(ids, r.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets every resident resource. The generation high-water mark is
// kept so results from older engines stay ignored.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = make(map[resource]bool)
}
