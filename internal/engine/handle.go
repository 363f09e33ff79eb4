package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/snipdeck/internal/logging"
)

// Instance is one constructed engine stamped with its generation. The
// generation changes every time the Handle builds a new engine, so holders
// can detect that the engine they captured has since been disposed.
type Instance struct {
	Engine
	Generation uint64
	Preloaded  Options
}

// Lifecycle event types.
const (
	LifecycleCreated  = "created"
	LifecycleFailed   = "failed"
	LifecycleDisposed = "disposed"
)

// LifecycleEvent reports engine construction and disposal.
type LifecycleEvent struct {
	Type       string
	Generation uint64
	Err        error
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithLifecycleHook registers fn to observe lifecycle events. fn runs
// outside the handle's lock.
func WithLifecycleHook(fn func(LifecycleEvent)) HandleOption {
	return func(h *Handle) { h.hook = fn }
}

// build is one in-flight construction shared by every concurrent waiter.
type build struct {
	done chan struct{}
	inst Instance
	err  error
}

// Handle lazily constructs exactly one engine and hands the same instance to
// every caller until Dispose.
type Handle struct {
	factory Factory
	opts    Options
	log     *slog.Logger
	hook    func(LifecycleEvent)

	mu      sync.Mutex
	inst    Instance
	ready   bool
	pending *build
	nextGen uint64
}

// NewHandle returns a Handle that builds engines with factory. No engine is
// built until the first Get.
func NewHandle(factory Factory, opts Options, options ...HandleOption) *Handle {
	h := &Handle{
		factory: factory,
		opts:    opts,
		log:     logging.ForComponent(logging.CompEngine),
	}
	for _, o := range options {
		o(h)
	}
	return h
}

// Get returns the current engine, building it on first use. Concurrent
// callers during construction wait for the same build. If ctx ends first,
// Get returns ctx.Err() and the build carries on for the other waiters.
// A failed build is not remembered; the next Get starts a fresh one.
func (h *Handle) Get(ctx context.Context) (Instance, error) {
	h.mu.Lock()
	if h.ready {
		inst := h.inst
		h.mu.Unlock()
		return inst, nil
	}
	b := h.pending
	if b == nil {
		b = &build{done: make(chan struct{})}
		h.pending = b
		h.nextGen++
		go h.run(context.WithoutCancel(ctx), b, h.nextGen)
	}
	h.mu.Unlock()

	select {
	case <-b.done:
		return b.inst, b.err
	case <-ctx.Done():
		return Instance{}, ctx.Err()
	}
}

func (h *Handle) run(ctx context.Context, b *build, gen uint64) {
	eng, err := h.construct(ctx)

	h.mu.Lock()
	orphaned := h.pending != b
	if !orphaned {
		h.pending = nil
	}
	switch {
	case orphaned:
		b.err = ErrDisposed
	case err != nil:
		b.err = err
	default:
		b.inst = Instance{Engine: eng, Generation: gen, Preloaded: h.opts}
		h.inst = b.inst
		h.ready = true
	}
	h.mu.Unlock()
	close(b.done)

	switch {
	case orphaned:
		if eng != nil {
			_ = eng.Close()
		}
		h.log.Info("engine_build_orphaned", slog.Uint64("generation", gen))
	case err != nil:
		h.log.Error("engine_build_failed", slog.Uint64("generation", gen), slog.String("error", err.Error()))
		h.emit(LifecycleEvent{Type: LifecycleFailed, Generation: gen, Err: err})
	default:
		h.log.Info("engine_created", slog.Uint64("generation", gen),
			slog.Int("core_languages", len(h.opts.CoreLanguages)),
			slog.Int("core_themes", len(h.opts.CoreThemes)))
		h.emit(LifecycleEvent{Type: LifecycleCreated, Generation: gen})
	}
}

func (h *Handle) construct(ctx context.Context) (eng Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng, err = nil, fmt.Errorf("engine: factory panicked: %v", r)
		}
	}()
	eng, err = h.factory(ctx, h.opts)
	if err == nil && eng == nil {
		err = fmt.Errorf("engine: factory returned no engine")
	}
	return eng, err
}

// Dispose closes the current engine and resets the handle so the next Get
// builds a new one. A build in flight is orphaned: its engine is closed on
// completion and its waiters receive ErrDisposed.
func (h *Handle) Dispose() error {
	h.mu.Lock()
	inst, ready := h.inst, h.ready
	h.inst = Instance{}
	h.ready = false
	h.pending = nil
	h.mu.Unlock()

	if !ready {
		return nil
	}
	err := inst.Close()
	h.log.Info("engine_disposed", slog.Uint64("generation", inst.Generation))
	h.emit(LifecycleEvent{Type: LifecycleDisposed, Generation: inst.Generation, Err: err})
	if err != nil {
		return fmt.Errorf("engine: close generation %d: %w", inst.Generation, err)
	}
	return nil
}

// Current reports whether gen is the generation of the live engine.
func (h *Handle) Current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready && h.inst.Generation == gen
}

// Generation returns the live engine's generation, or 0 if none is built.
func (h *Handle) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		return 0
	}
	return h.inst.Generation
}

func (h *Handle) emit(ev LifecycleEvent) {
	if h.hook != nil {
		h.hook(ev)
	}
}
