// Package engine defines the highlighting engine contract, a chroma-backed
// implementation, and the lazily constructed process-wide Handle that owns
// the engine instance.
package engine

import (
	"context"
	"errors"
	"html"
	"strings"
)

// PlainText is the canonical id of the neutral, always-available language.
const PlainText = "plaintext"

var (
	// ErrDisposed is returned when an engine (or the build producing it) was
	// released by Dispose.
	ErrDisposed = errors.New("engine: disposed")

	// ErrNotLoaded is returned by Render and ThemeColors for a resource that
	// has not been loaded into the engine.
	ErrNotLoaded = errors.New("engine: resource not loaded")

	// ErrUnknownResource is returned when an id is not known to the engine.
	ErrUnknownResource = errors.New("engine: unknown resource")
)

// Kind distinguishes languages from themes.
type Kind string

const (
	KindLanguage Kind = "language"
	KindTheme    Kind = "theme"
)

// Colors are the container colors of a theme, as CSS hex strings.
type Colors struct {
	Background string `json:"background"`
	Foreground string `json:"foreground"`
}

// Engine renders code to HTML markup. Resources must be loaded before they
// are used by Render or ThemeColors; PlainText is always loaded.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Languages returns the canonical ids of every language the engine knows.
	Languages() []string
	// Themes returns the canonical ids of every theme the engine knows.
	Themes() []string

	LoadLanguage(ctx context.Context, id string) error
	LoadTheme(ctx context.Context, id string) error

	// Render returns markup wrapped in the element produced by Wrap.
	Render(ctx context.Context, code, language, theme string) (string, error)
	ThemeColors(theme string) (Colors, error)

	Close() error
}

// Options configure engine construction.
type Options struct {
	CoreLanguages []string
	CoreThemes    []string
}

// Factory constructs an engine with the core resources already loaded.
type Factory func(ctx context.Context, opts Options) (Engine, error)

// WrapperClass is the class of the element surrounding every rendering.
const WrapperClass = "snippet-code"

// Wrap surrounds inner markup with the wrapper element that callers use to
// verify a rendering structurally.
func Wrap(language, theme, inner string) string {
	var b strings.Builder
	b.Grow(len(inner) + 96)
	b.WriteString(`<div class="`)
	b.WriteString(WrapperClass)
	b.WriteString(`" data-language="`)
	b.WriteString(html.EscapeString(language))
	b.WriteString(`"`)
	if theme != "" {
		b.WriteString(` data-theme="`)
		b.WriteString(html.EscapeString(theme))
		b.WriteString(`"`)
	}
	b.WriteString(`>`)
	b.WriteString(inner)
	b.WriteString(`</div>`)
	return b.String()
}

// HasWrapper reports whether markup starts with the wrapper element.
func HasWrapper(markup string) bool {
	return strings.HasPrefix(markup, `<div class="`+WrapperClass+`"`) && strings.HasSuffix(markup, `</div>`)
}

// PlainMarkup renders code as escaped, unhighlighted text.
func PlainMarkup(code string) string {
	return Wrap(PlainText, "", "<pre><code>"+html.EscapeString(code)+"</code></pre>")
}
