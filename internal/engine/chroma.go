package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Chroma is an Engine backed by github.com/alecthomas/chroma/v2. Output
// uses inline styles because the theme varies per call.
type Chroma struct {
	formatter *html.Formatter

	lexerIndex map[string]chroma.Lexer // canonical id -> registered lexer
	languages  []string
	themes     []string

	mu     sync.RWMutex
	lexers map[string]chroma.Lexer // loaded, coalesced
	styles map[string]*chroma.Style
	closed bool
}

var _ Engine = (*Chroma)(nil)

// NewChroma builds a chroma engine with opts' core resources loaded. It
// satisfies Factory.
func NewChroma(ctx context.Context, opts Options) (Engine, error) {
	c := &Chroma{
		formatter:  html.New(html.WithClasses(false), html.TabWidth(4)),
		lexerIndex: make(map[string]chroma.Lexer),
		lexers:     make(map[string]chroma.Lexer),
		styles:     make(map[string]*chroma.Style),
	}

	for _, l := range lexers.GlobalLexerRegistry.Lexers {
		id := LanguageID(l.Config().Name)
		if _, dup := c.lexerIndex[id]; !dup {
			c.lexerIndex[id] = l
		}
	}
	if _, ok := c.lexerIndex[PlainText]; !ok {
		c.lexerIndex[PlainText] = lexers.Fallback
	}
	for id := range c.lexerIndex {
		c.languages = append(c.languages, id)
	}
	sort.Strings(c.languages)
	c.themes = styles.Names()

	if err := c.LoadLanguage(ctx, PlainText); err != nil {
		return nil, err
	}
	for _, id := range opts.CoreLanguages {
		if err := c.LoadLanguage(ctx, id); err != nil {
			return nil, fmt.Errorf("engine: load core language %q: %w", id, err)
		}
	}
	for _, id := range opts.CoreThemes {
		if err := c.LoadTheme(ctx, id); err != nil {
			return nil, fmt.Errorf("engine: load core theme %q: %w", id, err)
		}
	}
	return c, nil
}

// LanguageID maps a chroma lexer name to its canonical id.
func LanguageID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// DetectLanguage maps a filename to a canonical language id, or "" when no
// lexer matches.
func DetectLanguage(filename string) string {
	l := lexers.Match(filename)
	if l == nil {
		return ""
	}
	return LanguageID(l.Config().Name)
}

func (c *Chroma) Languages() []string { return append([]string(nil), c.languages...) }
func (c *Chroma) Themes() []string    { return append([]string(nil), c.themes...) }

// LoadLanguage resolves the lexer and compiles its rules by tokenising an
// empty input, so the cost is paid here rather than on first render.
func (c *Chroma) LoadLanguage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	registered, ok := c.lexerIndex[id]
	if !ok {
		return fmt.Errorf("%w: language %q", ErrUnknownResource, id)
	}

	c.mu.RLock()
	_, loaded := c.lexers[id]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrDisposed
	}
	if loaded {
		return nil
	}

	lexer := chroma.Coalesce(registered)
	if _, err := lexer.Tokenise(nil, ""); err != nil {
		return fmt.Errorf("engine: compile language %q: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisposed
	}
	c.lexers[id] = lexer
	return nil
}

// LoadTheme resolves a chroma style by name.
func (c *Chroma) LoadTheme(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	style, ok := styles.Registry[id]
	if !ok {
		return fmt.Errorf("%w: theme %q", ErrUnknownResource, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisposed
	}
	c.styles[id] = style
	return nil
}

// Render tokenises code and formats it with the given theme.
func (c *Chroma) Render(ctx context.Context, code, language, theme string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.RLock()
	lexer, lok := c.lexers[language]
	style, sok := c.styles[theme]
	closed := c.closed
	c.mu.RUnlock()

	switch {
	case closed:
		return "", ErrDisposed
	case !lok:
		return "", fmt.Errorf("%w: language %q", ErrNotLoaded, language)
	case !sok:
		return "", fmt.Errorf("%w: theme %q", ErrNotLoaded, theme)
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", fmt.Errorf("engine: tokenise: %w", err)
	}
	var buf bytes.Buffer
	if err := c.formatter.Format(&buf, style, iterator); err != nil {
		return "", fmt.Errorf("engine: format: %w", err)
	}
	return Wrap(language, theme, buf.String()), nil
}

// ThemeColors reads the background entry of a loaded theme.
func (c *Chroma) ThemeColors(theme string) (Colors, error) {
	c.mu.RLock()
	style, ok := c.styles[theme]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return Colors{}, ErrDisposed
	}
	if !ok {
		return Colors{}, fmt.Errorf("%w: theme %q", ErrNotLoaded, theme)
	}

	bg := style.Get(chroma.Background)
	if !bg.Background.IsSet() {
		return Colors{}, fmt.Errorf("engine: theme %q defines no background", theme)
	}
	colors := Colors{Background: bg.Background.String()}
	if bg.Colour.IsSet() {
		colors.Foreground = bg.Colour.String()
	} else {
		colors.Foreground = contrastForeground(bg.Background)
	}
	return colors, nil
}

// Close releases loaded resources. Later calls fail with ErrDisposed.
func (c *Chroma) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	clear(c.lexers)
	clear(c.styles)
	return nil
}

func contrastForeground(bg chroma.Colour) string {
	if bg.Brightness() > 0.5 {
		return "#24292f"
	}
	return "#c9d1d9"
}
