package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/asheshgoplani/snipdeck/internal/registry"
)

const (
	maxRequestBytes = 2 * 1024 * 1024
	maxBatchBlocks  = 256
)

type highlightBlock struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Theme    string `json:"theme"`
}

type highlightResult struct {
	HTML string `json:"html"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": s.cfg.Version,
	})
}

// handleHighlight highlights a batch of snippets. POST /api/highlight:
//
//	{"theme": "github-dark", "blocks": [{"code": "...", "language": "go"}]}
//
// A block's theme overrides the request theme. Every block gets markup; a
// snippet that cannot be highlighted comes back escaped.
func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req struct {
		Theme  string           `json:"theme"`
		Blocks []highlightBlock `json:"blocks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON")
		return
	}
	if len(req.Blocks) > maxBatchBlocks {
		writeAPIError(w, http.StatusRequestEntityTooLarge, "TOO_MANY_BLOCKS", "too many blocks")
		return
	}

	results := make([]highlightResult, len(req.Blocks))
	for i, b := range req.Blocks {
		theme := b.Theme
		if theme == "" {
			theme = req.Theme
		}
		results[i] = highlightResult{HTML: s.svc.Highlight(r.Context(), b.Code, b.Language, theme)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": results})
}

// handleThemeColors reports a theme's background and foreground.
// GET /api/theme-colors?theme=dracula
func (s *Server) handleThemeColors(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	theme := r.URL.Query().Get("theme")
	writeJSON(w, http.StatusOK, s.svc.ThemeColors(r.Context(), theme))
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	writeCatalog(w, s.svc.SearchLanguages(strings.TrimSpace(r.URL.Query().Get("q"))))
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	writeCatalog(w, s.svc.SearchThemes(strings.TrimSpace(r.URL.Query().Get("q"))))
}

func writeCatalog(w http.ResponseWriter, entries []registry.Entry) {
	if entries == nil {
		entries = []registry.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.CacheStats())
}

// handleCache clears the render cache. DELETE /api/cache
func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodDelete) {
		return
	}
	s.svc.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}
