package highlight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/snipdeck/internal/cache"
	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/engine/enginetest"
	"github.com/asheshgoplani/snipdeck/internal/eventbus"
	"github.com/asheshgoplani/snipdeck/internal/loader"
	"github.com/asheshgoplani/snipdeck/internal/logging"
)

var coreThemes = engine.Options{CoreThemes: []string{"github-dark", "github"}}

type harness struct {
	svc    *Service
	fake   *enginetest.Fake
	handle *engine.Handle
	cache  *cache.Cache
	builds *int
}

func newHarness(t *testing.T, fake *enginetest.Fake, core engine.Options, opts ...Option) *harness {
	t.Helper()
	builds := new(int)
	return newHarnessWithFactory(t, fake, fake.Factory(builds), core, builds, opts...)
}

func newHarnessWithFactory(t *testing.T, fake *enginetest.Fake, factory engine.Factory, core engine.Options, builds *int, opts ...Option) *harness {
	t.Helper()
	handle := engine.NewHandle(factory, core)
	coord := loader.New(loader.WithLogger(logging.Discard()))
	c := cache.New(cache.Config{}, cache.WithLogger(logging.Discard()))
	svc := NewService(handle, coord, c, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	t.Cleanup(func() { _ = handle.Dispose() })
	return &harness{svc: svc, fake: fake, handle: handle, cache: c, builds: builds}
}

func defaultFake() *enginetest.Fake {
	return enginetest.New(
		[]string{"javascript", "typescript", "python", "go", "rust"},
		[]string{"github-dark", "github", "dracula", "solarized-light"},
	)
}

func TestHighlight_EndToEnd(t *testing.T) {
	h := newHarness(t, defaultFake(), engine.Options{})
	ctx := context.Background()

	first := h.svc.Highlight(ctx, "console.log(1)", "javascript", "github-dark")
	assert.Equal(t, 1, h.fake.LoadCalls(engine.KindLanguage, "javascript"))
	assert.Equal(t, 1, h.fake.LoadCalls(engine.KindTheme, "github-dark"))
	assert.Equal(t, 1, h.fake.Renders())
	assert.True(t, engine.HasWrapper(first))
	assert.Contains(t, first, `class="hl"`)

	second := h.svc.Highlight(ctx, "console.log(1)", "javascript", "github-dark")
	assert.Equal(t, 1, h.fake.Renders(), "second call is served from cache")
	assert.Equal(t, 1, h.fake.LoadCalls(engine.KindLanguage, "javascript"))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, *h.builds)
}

func TestHighlight_AliasSharesCacheEntry(t *testing.T) {
	h := newHarness(t, defaultFake(), coreThemes)
	ctx := context.Background()

	assert.Equal(t, "javascript", h.svc.ResolveLanguage(ctx, "js"))
	viaAlias := h.svc.Highlight(ctx, "let x = 1", "js", "github-dark")
	viaName := h.svc.Highlight(ctx, "let x = 1", "JavaScript", "github-dark")

	assert.Equal(t, viaAlias, viaName)
	assert.Equal(t, 1, h.fake.Renders())
	assert.Contains(t, viaName, `data-language="javascript"`)
}

func TestHighlight_EmptyInput(t *testing.T) {
	h := newHarness(t, defaultFake(), coreThemes)
	out := h.svc.Highlight(context.Background(), "", "go", "github-dark")
	assert.Equal(t, EmptyMarkup, out)
	assert.True(t, engine.HasWrapper(out))
	assert.Zero(t, *h.builds, "empty input never builds the engine")
	assert.Zero(t, h.cache.Len())
}

func TestHighlight_LargeInputSkipsEngine(t *testing.T) {
	h := newHarness(t, defaultFake(), coreThemes)
	ctx := context.Background()

	big := strings.Repeat("<", DefaultLargeInputThreshold+1)
	out := h.svc.Highlight(ctx, big, "go", "github-dark")
	assert.Equal(t, PlainMarkup(big), out)
	assert.Contains(t, out, "&lt;&lt;&lt;")
	assert.Zero(t, h.fake.Renders())
	assert.Zero(t, *h.builds)

	atLimit := strings.Repeat("a", DefaultLargeInputThreshold)
	h.svc.Highlight(ctx, atLimit, "go", "github-dark")
	assert.Equal(t, 1, h.fake.Renders())
}

func TestHighlight_LargeInputCountsCharacters(t *testing.T) {
	h := newHarness(t, defaultFake(), coreThemes, WithLargeInputThreshold(10))
	// Ten multi-byte characters are within the limit.
	h.svc.Highlight(context.Background(), strings.Repeat("é", 10), "go", "github-dark")
	assert.Equal(t, 1, h.fake.Renders())
}

func TestHighlight_FallbacksNeverFail(t *testing.T) {
	code := `<script>alert("x")</script>`
	escaped := "&lt;script&gt;"

	t.Run("unknown language", func(t *testing.T) {
		h := newHarness(t, defaultFake(), coreThemes)
		out := h.svc.Highlight(context.Background(), code, "cobol-2099", "github-dark")
		assert.Contains(t, out, escaped)
		assert.Contains(t, out, `data-language="plaintext"`)
	})

	t.Run("unknown theme", func(t *testing.T) {
		h := newHarness(t, defaultFake(), coreThemes)
		out := h.svc.Highlight(context.Background(), code, "go", "nonexistent-theme")
		assert.Contains(t, out, escaped)
		assert.Contains(t, out, `data-theme="github-dark"`)
	})

	t.Run("render error", func(t *testing.T) {
		fake := defaultFake()
		fake.RenderErr = errors.New("grammar blew up")
		h := newHarness(t, fake, coreThemes)
		out := h.svc.Highlight(context.Background(), code, "go", "github-dark")
		assert.Equal(t, PlainMarkup(code), out)
		assert.Contains(t, out, escaped)
	})

	t.Run("render panic", func(t *testing.T) {
		fake := defaultFake()
		fake.RenderPanic = "index out of range"
		h := newHarness(t, fake, coreThemes)
		var out string
		require.NotPanics(t, func() {
			out = h.svc.Highlight(context.Background(), code, "go", "github-dark")
		})
		assert.Equal(t, PlainMarkup(code), out)
	})
}

func TestHighlight_FailedRenderIsNotCached(t *testing.T) {
	fake := defaultFake()
	fake.RenderErr = errors.New("transient")
	h := newHarness(t, fake, coreThemes)
	ctx := context.Background()

	h.svc.Highlight(ctx, "x := 1", "go", "github-dark")
	h.svc.Highlight(ctx, "x := 1", "go", "github-dark")
	assert.Equal(t, 2, fake.Renders())
	assert.Zero(t, h.cache.Len())
}

func TestHighlight_LanguageLoadFailureFallsBackAndRetries(t *testing.T) {
	fake := defaultFake()
	fake.SetFailLoad(engine.KindLanguage, "rust", errors.New("grammar fetch failed"))
	h := newHarness(t, fake, coreThemes)
	ctx := context.Background()

	out := h.svc.Highlight(ctx, "fn main() {}", "rust", "github-dark")
	assert.Contains(t, out, `data-language="plaintext"`)
	assert.Contains(t, out, "fn main() {}")

	fake.SetFailLoad(engine.KindLanguage, "rust", nil)
	out = h.svc.Highlight(ctx, "fn main() {}", "rust", "github-dark")
	assert.Contains(t, out, `data-language="rust"`)
	assert.Equal(t, 2, fake.LoadCalls(engine.KindLanguage, "rust"))
}

func TestHighlight_ThemeLoadFailureUsesCoreTheme(t *testing.T) {
	fake := defaultFake()
	fake.SetFailLoad(engine.KindTheme, "dracula", errors.New("theme fetch failed"))
	fake.SetFailLoad(engine.KindTheme, "solarized-light", errors.New("theme fetch failed"))
	h := newHarness(t, fake, coreThemes)
	ctx := context.Background()

	out := h.svc.Highlight(ctx, "x = 1", "python", "dracula")
	assert.Contains(t, out, `data-theme="github-dark"`)
	assert.Contains(t, out, `data-language="python"`)

	out = h.svc.Highlight(ctx, "x = 1", "python", "solarized-light")
	assert.Contains(t, out, `data-theme="github"`)
}

func TestHighlight_SubstituteHitCountsOneMiss(t *testing.T) {
	fake := defaultFake()
	fake.SetFailLoad(engine.KindTheme, "dracula", errors.New("theme fetch failed"))
	h := newHarness(t, fake, coreThemes)
	ctx := context.Background()

	first := h.svc.Highlight(ctx, "x = 1", "python", "dracula")
	second := h.svc.Highlight(ctx, "x = 1", "python", "dracula")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Renders(), "second call is served from the substitute entry")

	st := h.svc.CacheStats()
	assert.Equal(t, uint64(2), st.Misses, "one miss per request")
	assert.Equal(t, 1, st.Entries)
}

// bareEngine renders without the wrapper element.
type bareEngine struct{ *enginetest.Fake }

func (bareEngine) Render(context.Context, string, string, string) (string, error) {
	return "<span>unwrapped</span>", nil
}

func TestHighlight_OutputWithoutWrapperIsRejected(t *testing.T) {
	fake := defaultFake()
	factory := func(ctx context.Context, opts engine.Options) (engine.Engine, error) {
		eng, err := fake.Factory(nil)(ctx, opts)
		if err != nil {
			return nil, err
		}
		return bareEngine{eng.(*enginetest.Fake)}, nil
	}
	h := newHarnessWithFactory(t, fake, factory, coreThemes, nil)

	out := h.svc.Highlight(context.Background(), "a < b", "go", "github-dark")
	assert.Equal(t, PlainMarkup("a < b"), out)
	assert.Zero(t, h.cache.Len())
}

func TestHighlight_EngineBuildFailureRecovers(t *testing.T) {
	fake := defaultFake()
	attempts := 0
	factory := func(ctx context.Context, opts engine.Options) (engine.Engine, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("engine assets missing")
		}
		return fake.Factory(nil)(ctx, opts)
	}
	h := newHarnessWithFactory(t, fake, factory, coreThemes, nil)
	ctx := context.Background()

	out := h.svc.Highlight(ctx, "package main", "go", "github-dark")
	assert.Equal(t, PlainMarkup("package main"), out)

	out = h.svc.Highlight(ctx, "package main", "go", "github-dark")
	assert.Contains(t, out, `data-language="go"`)
	assert.Equal(t, 2, attempts)
}

func TestHighlight_CanceledCallerGetsPlainMarkup(t *testing.T) {
	fake := defaultFake()
	fake.Gate = make(chan struct{})
	h := newHarness(t, fake, coreThemes)
	t.Cleanup(func() { close(fake.Gate) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := h.svc.Highlight(ctx, "x", "rust", "github-dark")
	assert.Equal(t, PlainMarkup("x"), out)
}

func TestHighlight_ConcurrentCallersLoadOnce(t *testing.T) {
	fake := defaultFake()
	fake.Gate = make(chan struct{})
	h := newHarness(t, fake, coreThemes)
	ctx := context.Background()

	const n = 16
	outs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = h.svc.Highlight(ctx, "def f(): pass", "py", "github-dark")
		}(i)
	}
	require.Eventually(t, func() bool {
		return fake.LoadCalls(engine.KindLanguage, "python") == 1
	}, time.Second, 2*time.Millisecond)
	close(fake.Gate)
	wg.Wait()

	assert.Equal(t, 1, fake.LoadCalls(engine.KindLanguage, "python"))
	for _, out := range outs {
		assert.Contains(t, out, `data-language="python"`)
	}
}

func TestHighlight_Dispose(t *testing.T) {
	h := newHarness(t, defaultFake(), coreThemes)
	ctx := context.Background()

	h.svc.Highlight(ctx, "fmt.Println()", "go", "github-dark")
	require.Equal(t, 1, h.cache.Len())

	require.NoError(t, h.svc.Dispose())
	assert.True(t, h.fake.Closed())
	assert.Zero(t, h.cache.Len())

	out := h.svc.Highlight(ctx, "fmt.Println()", "go", "github-dark")
	assert.Contains(t, out, `data-language="go"`)
	assert.Equal(t, 2, *h.builds)
	assert.Equal(t, 2, h.fake.Renders())
	assert.Equal(t, 2, h.fake.LoadCalls(engine.KindLanguage, "go"), "new engine reloads")
}

type mapStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (m *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key, markup string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = markup
	return nil
}

func (m *mapStore) Clear(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.data)
	clear(m.data)
	return n, nil
}

func TestHighlight_ClearCacheClearsSharedTier(t *testing.T) {
	store := &mapStore{data: map[string]string{}}
	h := newHarness(t, defaultFake(), coreThemes, WithSharedStore(store))

	h.svc.Highlight(context.Background(), "a := 1", "go", "github-dark")
	require.Len(t, store.data, 1)

	h.svc.ClearCache()
	assert.Empty(t, store.data)
	assert.Equal(t, 0, h.svc.CacheStats().Entries)
}

func TestHighlight_SharedStore(t *testing.T) {
	store := &mapStore{data: map[string]string{}}
	h := newHarness(t, defaultFake(), coreThemes, WithSharedStore(store))
	ctx := context.Background()

	out := h.svc.Highlight(ctx, "a := 1", "go", "github-dark")
	assert.Equal(t, out, store.data[cache.Key("go", "github-dark", "a := 1")])

	shared := engine.Wrap("go", "github-dark", "<pre>from another replica</pre>")
	store.data[cache.Key("go", "github-dark", "b := 2")] = shared
	got := h.svc.Highlight(ctx, "b := 2", "go", "github-dark")
	assert.Equal(t, shared, got)
	assert.Equal(t, 1, h.fake.Renders())

	_, ok := h.cache.Get(cache.Key("go", "github-dark", "b := 2"))
	assert.True(t, ok, "shared hit fills the local cache")
}

func TestHighlight_SharedStoreErrorsAreMisses(t *testing.T) {
	store := &mapStore{data: map[string]string{}, err: errors.New("connection refused")}
	h := newHarness(t, defaultFake(), coreThemes, WithSharedStore(store))

	out := h.svc.Highlight(context.Background(), "a := 1", "go", "github-dark")
	assert.Contains(t, out, `data-language="go"`)
}

func TestHighlight_PublishesFallbackEvents(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	fake := defaultFake()
	fake.RenderErr = errors.New("boom")
	h := newHarness(t, fake, coreThemes, WithEventBus(bus))
	h.svc.Highlight(context.Background(), "x", "go", "github-dark")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventRenderFallback, events[0].Type)
	assert.Equal(t, eventbus.FallbackData{Reason: ReasonRenderError, Language: "go", Theme: "github-dark"}, events[0].Data)
}

// stuckConn never completes a write until released.
type stuckConn struct{ release chan struct{} }

func (c stuckConn) WriteJSON(any) error {
	<-c.release
	return nil
}

func TestHighlight_StalledSubscriberDoesNotDelayRender(t *testing.T) {
	bus := eventbus.New()
	hub := eventbus.NewHub(bus)
	conn := stuckConn{release: make(chan struct{})}
	t.Cleanup(func() {
		close(conn.release)
		hub.Close()
	})
	id := hub.RegisterClient(conn)
	require.NoError(t, hub.HandleMessage(id, []byte(`{"type":"subscribe","channel":"render"}`)))
	require.NoError(t, hub.HandleMessage(id, []byte(`{"type":"subscribe","channel":"resources"}`)))

	fake := defaultFake()
	fake.RenderErr = errors.New("boom")
	h := newHarness(t, fake, coreThemes, WithEventBus(bus))

	start := time.Now()
	for i := 0; i < 3*eventbus.DefaultClientQueue; i++ {
		out := h.svc.Highlight(context.Background(), "x", "go", "github-dark")
		require.Equal(t, PlainMarkup("x"), out)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.NotZero(t, hub.Dropped())
}

func TestThemeColors(t *testing.T) {
	t.Run("from engine", func(t *testing.T) {
		h := newHarness(t, defaultFake(), coreThemes)
		assert.Equal(t, h.fake.Colors, h.svc.ThemeColors(context.Background(), "dracula"))
		assert.Equal(t, 1, h.fake.LoadCalls(engine.KindTheme, "dracula"))
	})

	t.Run("incomplete colors fall back", func(t *testing.T) {
		fake := defaultFake()
		fake.Colors = engine.Colors{}
		h := newHarness(t, fake, coreThemes)
		ctx := context.Background()
		assert.Equal(t, DarkColors, h.svc.ThemeColors(ctx, "github-dark"))
		assert.Equal(t, LightColors, h.svc.ThemeColors(ctx, "github"))
		assert.Equal(t, LightColors, h.svc.ThemeColors(ctx, "solarized-light"))
	})

	t.Run("engine unavailable", func(t *testing.T) {
		factory := func(context.Context, engine.Options) (engine.Engine, error) {
			return nil, errors.New("no engine")
		}
		h := newHarnessWithFactory(t, defaultFake(), factory, coreThemes, nil)
		ctx := context.Background()
		assert.Equal(t, LightColors, h.svc.ThemeColors(ctx, "my-light-theme"))
		assert.Equal(t, DarkColors, h.svc.ThemeColors(ctx, "midnight"))
	})
}

func TestClearCache(t *testing.T) {
	h := newHarness(t, defaultFake(), coreThemes)
	ctx := context.Background()
	h.svc.Highlight(ctx, "a", "go", "github-dark")
	h.svc.Highlight(ctx, "b", "go", "github-dark")
	assert.Equal(t, 2, h.svc.CacheStats().Entries)

	h.svc.ClearCache()
	assert.Zero(t, h.svc.CacheStats().Entries)
}

func TestListings(t *testing.T) {
	h := newHarness(t, defaultFake(), coreThemes)
	langs := h.svc.ListLanguages()
	require.NotEmpty(t, langs)
	assert.True(t, langs[0].Core)
	assert.NotEmpty(t, h.svc.ListThemes())
	assert.Zero(t, *h.builds, "listing never builds the engine")
}
