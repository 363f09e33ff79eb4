package web

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/snipdeck/internal/cache"
	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/registry"
)

type highlightCall struct {
	code, language, theme string
}

type fakeHighlighter struct {
	mu      sync.Mutex
	calls   []highlightCall
	cleared int
}

func (f *fakeHighlighter) Highlight(_ context.Context, code, language, theme string) string {
	f.mu.Lock()
	f.calls = append(f.calls, highlightCall{code, language, theme})
	f.mu.Unlock()
	return `<div class="hl" data-lang="` + language + `" data-theme="` + theme + `">` + html.EscapeString(code) + `</div>`
}

func (f *fakeHighlighter) ThemeColors(_ context.Context, theme string) engine.Colors {
	if strings.Contains(theme, "light") {
		return engine.Colors{Background: "#ffffff", Foreground: "#24292f"}
	}
	return engine.Colors{Background: "#0d1117", Foreground: "#c9d1d9"}
}

func (f *fakeHighlighter) SearchLanguages(q string) []registry.Entry {
	all := []registry.Entry{
		{ID: "go", Label: "Go", Category: registry.CategoryCoreLanguages, Core: true},
		{ID: "python", Label: "Python", Category: registry.CategoryCoreLanguages, Core: true},
	}
	if q == "" {
		return all
	}
	var out []registry.Entry
	for _, e := range all {
		if strings.Contains(e.ID, q) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeHighlighter) SearchThemes(string) []registry.Entry {
	return []registry.Entry{{ID: "github-dark", Label: "GitHub Dark", Category: registry.CategoryCoreThemes, Core: true}}
}

func (f *fakeHighlighter) CacheStats() cache.Stats {
	return cache.Stats{Entries: 3, MaxEntries: 200, Hits: 7, Misses: 2}
}

func (f *fakeHighlighter) ClearCache() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeHighlighter) Calls() []highlightCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]highlightCall(nil), f.calls...)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeHighlighter) {
	t.Helper()
	fake := &fakeHighlighter{}
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Highlighter = fake
	srv := NewServer(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, fake
}

func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthzEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{Version: "1.2.3"})

	rr := serve(srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"ok":true`) {
		t.Fatalf("expected health response to contain ok=true, got: %s", body)
	}
	if !strings.Contains(body, `"version":"1.2.3"`) {
		t.Fatalf("expected health response to contain version, got: %s", body)
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	rr := serve(srv, http.MethodPost, "/healthz", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestHighlightBatch(t *testing.T) {
	srv, fake := newTestServer(t, Config{})

	body := `{"theme":"dracula","blocks":[
		{"code":"fmt.Println(1)","language":"go"},
		{"code":"<b>","language":"html","theme":"github"},
		{"code":"plain"}
	]}`
	rr := serve(srv, http.MethodPost, "/api/highlight", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Blocks []highlightResult `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Blocks, 3)
	assert.Contains(t, resp.Blocks[0].HTML, `data-lang="go"`)
	assert.Contains(t, resp.Blocks[1].HTML, "&lt;b&gt;")

	assert.Equal(t, []highlightCall{
		{"fmt.Println(1)", "go", "dracula"},
		{"<b>", "html", "github"},
		{"plain", "", "dracula"},
	}, fake.Calls())
}

func TestHighlightRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	tests := []struct {
		name   string
		method string
		body   string
		status int
		code   string
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest, "INVALID_REQUEST"},
		{"too many blocks", http.MethodPost, `{"blocks":[` + strings.Repeat(`{"code":"x"},`, maxBatchBlocks) + `{"code":"x"}]}`, http.StatusRequestEntityTooLarge, "TOO_MANY_BLOCKS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(srv, tt.method, "/api/highlight", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Body.String(), `"code":"`+tt.code+`"`)
		})
	}
}

func TestHighlightBodyLimit(t *testing.T) {
	srv, fake := newTestServer(t, Config{})

	body := `{"blocks":[{"code":"` + strings.Repeat("a", maxRequestBytes) + `"}]}`
	rr := serve(srv, http.MethodPost, "/api/highlight", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, fake.Calls())
}

func TestTokenAuthorization(t *testing.T) {
	srv, _ := newTestServer(t, Config{Token: "secret-token"})

	rr := serve(srv, http.MethodGet, "/api/languages", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"UNAUTHORIZED"`) {
		t.Fatalf("expected UNAUTHORIZED body, got: %s", rr.Body.String())
	}

	rr = serve(srv, http.MethodGet, "/api/languages?token=secret-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected query token to be accepted, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected bearer token to be accepted, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/languages?token=secret-token", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected bad bearer token to win over query token, got %d", rec.Code)
	}

	// Health stays open for probes.
	if rr := serve(srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected healthz without token, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 2})
	h := srv.Handler()

	var codes []int
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/themes", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "health is not rate limited")
}

func TestThemeColors(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	rr := serve(srv, http.MethodGet, "/api/theme-colors?theme=solarized-light", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var colors engine.Colors
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &colors))
	assert.Equal(t, engine.Colors{Background: "#ffffff", Foreground: "#24292f"}, colors)
}

func TestCatalogEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	var resp struct {
		Items []registry.Entry `json:"items"`
		Count int              `json:"count"`
	}

	rr := serve(srv, http.MethodGet, "/api/languages?q=py", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "python", resp.Items[0].ID)

	rr = serve(srv, http.MethodGet, "/api/languages?q=zzz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"items":[]`)

	rr = serve(srv, http.MethodGet, "/api/themes", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"github-dark"`)
}

func TestCacheEndpoints(t *testing.T) {
	srv, fake := newTestServer(t, Config{})

	rr := serve(srv, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 200, stats.MaxEntries)

	rr = serve(srv, http.MethodGet, "/api/cache", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = serve(srv, http.MethodDelete, "/api/cache", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, fake.cleared)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("snipdeck_up 1\n"))
		}),
	})

	rr := serve(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "snipdeck_up 1")
}

func TestStartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	assert.Empty(t, srv.Addr())

	require.NoError(t, srv.Start())
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = client.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}
