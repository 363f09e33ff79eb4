// Package registry is the static catalog of languages and themes offered to
// users, partitioned into a core set that the engine loads eagerly and an
// extended set that is loaded on demand.
//
// The registry is for listing and UI grouping only. It never touches the
// engine or the render cache.
package registry

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Category labels used for UI grouping.
const (
	CategoryCoreLanguages = "Core Languages"
	CategoryWeb           = "Web"
	CategoryJVM           = "JVM Languages"
	CategorySystems       = "Systems"
	CategoryScripting     = "Scripting"
	CategoryData          = "Data & Config"
	CategoryShell         = "Shell"
	CategoryFunctional    = "Functional"
	CategoryOther         = "Other"

	CategoryCoreThemes  = "Core Themes"
	CategoryDarkThemes  = "Dark Themes"
	CategoryLightThemes = "Light Themes"
)

// Entry describes one language or theme.
type Entry struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category"`
	Core     bool   `json:"core"`
}

// Registry holds the sorted catalogs. It is immutable after New.
type Registry struct {
	languages []Entry
	themes    []Entry
}

// New builds a registry from the given entries. Duplicate ids keep the first
// occurrence.
func New(languages, themes []Entry) *Registry {
	return &Registry{
		languages: sortEntries(dedupe(languages)),
		themes:    sortEntries(dedupe(themes)),
	}
}

// Default returns the built-in catalog.
func Default() *Registry {
	return New(builtinLanguages, builtinThemes)
}

// ListLanguages returns every language, core entries first, then by
// category and label.
func (r *Registry) ListLanguages() []Entry {
	return clone(r.languages)
}

// ListThemes returns every theme, core entries first, then by category and
// label.
func (r *Registry) ListThemes() []Entry {
	return clone(r.themes)
}

// CoreLanguages returns the ids of the eagerly loaded languages.
func (r *Registry) CoreLanguages() []string {
	return coreIDs(r.languages)
}

// CoreThemes returns the ids of the eagerly loaded themes.
func (r *Registry) CoreThemes() []string {
	return coreIDs(r.themes)
}

// SearchLanguages fuzzy-filters the language catalog by id and label.
// An empty query returns the full list.
func (r *Registry) SearchLanguages(query string) []Entry {
	return search(r.languages, query)
}

// SearchThemes fuzzy-filters the theme catalog by id and label.
func (r *Registry) SearchThemes(query string) []Entry {
	return search(r.themes, query)
}

// entrySource adapts a slice of entries to fuzzy.Source.
type entrySource []Entry

func (s entrySource) String(i int) string { return s[i].Label + " " + s[i].ID }
func (s entrySource) Len() int            { return len(s) }

func search(entries []Entry, query string) []Entry {
	query = strings.TrimSpace(query)
	if query == "" {
		return clone(entries)
	}
	// FindFrom sorts stably by score, so equal scores keep catalog order.
	matches := fuzzy.FindFrom(query, entrySource(entries))
	out := make([]Entry, 0, len(matches))
	for _, m := range matches {
		out = append(out, entries[m.Index])
	}
	return out
}

func sortEntries(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Core != b.Core {
			return a.Core
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return strings.ToLower(a.Label) < strings.ToLower(b.Label)
	})
	return entries
}

func dedupe(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

func coreIDs(entries []Entry) []string {
	var ids []string
	for _, e := range entries {
		if e.Core {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func clone(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
