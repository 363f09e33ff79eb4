// Package enginetest provides an instrumented in-memory engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"html"
	"sync"

	"github.com/asheshgoplani/snipdeck/internal/engine"
)

// Fake is an engine.Engine that records every call. Loads can be held open
// with Gate, failed per id with FailLoad, and renders failed with RenderErr
// or RenderPanic.
type Fake struct {
	mu sync.Mutex

	languages []string
	themes    []string
	loaded    map[string]bool // "language/id" or "theme/id"
	loadCalls map[string]int
	renders   int
	closed    bool

	// Gate, when non-nil, blocks every load until it is closed.
	Gate chan struct{}
	// FailLoad maps "language/id" or "theme/id" to the error its load returns.
	FailLoad map[string]error
	// RenderErr is returned by every Render when set.
	RenderErr error
	// RenderPanic makes Render panic with this value when non-nil.
	RenderPanic any
	// Colors is returned by ThemeColors for any loaded theme.
	Colors engine.Colors
}

var _ engine.Engine = (*Fake)(nil)

// New returns a Fake that knows the given languages and themes.
// engine.PlainText is always known and preloaded.
func New(languages, themes []string) *Fake {
	f := &Fake{
		languages: append([]string{engine.PlainText}, languages...),
		themes:    append([]string(nil), themes...),
		loaded:    map[string]bool{key(engine.KindLanguage, engine.PlainText): true},
		loadCalls: make(map[string]int),
		FailLoad:  make(map[string]error),
		Colors:    engine.Colors{Background: "#101010", Foreground: "#efefef"},
	}
	return f
}

// Factory returns an engine.Factory that preloads opts' core resources into
// f and hands it out. builds counts invocations when non-nil.
func (f *Fake) Factory(builds *int) engine.Factory {
	var mu sync.Mutex
	return func(_ context.Context, opts engine.Options) (engine.Engine, error) {
		mu.Lock()
		if builds != nil {
			*builds++
		}
		mu.Unlock()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = false
		for _, id := range opts.CoreLanguages {
			f.loaded[key(engine.KindLanguage, id)] = true
		}
		for _, id := range opts.CoreThemes {
			f.loaded[key(engine.KindTheme, id)] = true
		}
		return f, nil
	}
}

// Key formats the FailLoad / LoadCalls key of a resource.
func Key(kind engine.Kind, id string) string { return key(kind, id) }

func key(kind engine.Kind, id string) string { return string(kind) + "/" + id }

func (f *Fake) Languages() []string { return append([]string(nil), f.languages...) }
func (f *Fake) Themes() []string    { return append([]string(nil), f.themes...) }

func (f *Fake) LoadLanguage(ctx context.Context, id string) error {
	return f.load(ctx, engine.KindLanguage, id, f.languages)
}

func (f *Fake) LoadTheme(ctx context.Context, id string) error {
	return f.load(ctx, engine.KindTheme, id, f.themes)
}

func (f *Fake) load(ctx context.Context, kind engine.Kind, id string, known []string) error {
	k := key(kind, id)
	f.mu.Lock()
	f.loadCalls[k]++
	gate := f.Gate
	failErr := f.FailLoad[k]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failErr != nil {
		return failErr
	}
	if !contains(known, id) {
		return fmt.Errorf("%w: %s %q", engine.ErrUnknownResource, kind, id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return engine.ErrDisposed
	}
	f.loaded[k] = true
	return nil
}

func (f *Fake) Render(_ context.Context, code, language, theme string) (string, error) {
	f.mu.Lock()
	f.renders++
	renderErr, renderPanic := f.RenderErr, f.RenderPanic
	lok := f.loaded[key(engine.KindLanguage, language)]
	tok := f.loaded[key(engine.KindTheme, theme)]
	f.mu.Unlock()

	if renderPanic != nil {
		panic(renderPanic)
	}
	if renderErr != nil {
		return "", renderErr
	}
	if !lok || !tok {
		return "", fmt.Errorf("%w: %s/%s", engine.ErrNotLoaded, language, theme)
	}
	inner := fmt.Sprintf(`<pre><code class="hl">%s</code></pre>`, html.EscapeString(code))
	return engine.Wrap(language, theme, inner), nil
}

func (f *Fake) ThemeColors(theme string) (engine.Colors, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded[key(engine.KindTheme, theme)] {
		return engine.Colors{}, fmt.Errorf("%w: theme %q", engine.ErrNotLoaded, theme)
	}
	return f.Colors, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// LoadCalls returns how many times a resource's load was invoked.
func (f *Fake) LoadCalls(kind engine.Kind, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCalls[key(kind, id)]
}

// Renders returns how many times Render was invoked.
func (f *Fake) Renders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders
}

// SetFailLoad sets or clears (err == nil) the failure for a resource.
func (f *Fake) SetFailLoad(kind engine.Kind, id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.FailLoad, key(kind, id))
		return
	}
	f.FailLoad[key(kind, id)] = err
}

// Closed reports whether Close was called since the last build.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
