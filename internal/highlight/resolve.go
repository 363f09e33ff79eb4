package highlight

import (
	"strings"

	"github.com/asheshgoplani/snipdeck/internal/engine"
)

// languageAliases maps common short names and file extensions to canonical
// language ids.
var languageAliases = map[string]string{
	"js":          "javascript",
	"mjs":         "javascript",
	"cjs":         "javascript",
	"node":        "javascript",
	"jsx":         "react",
	"ts":          "typescript",
	"mts":         "typescript",
	"tsx":         "typescript",
	"py":          "python",
	"py3":         "python",
	"python3":     "python",
	"golang":      "go",
	"rs":          "rust",
	"rb":          "ruby",
	"sh":          "bash",
	"shell":       "bash",
	"shellscript": "bash",
	"zsh":         "bash",
	"yml":         "yaml",
	"md":          "markdown",
	"htm":         "html",
	"xhtml":       "html",
	"h":           "c",
	"cpp":         "c++",
	"cxx":         "c++",
	"cc":          "c++",
	"hpp":         "c++",
	"cs":          "c#",
	"csharp":      "c#",
	"fs":          "fsharp",
	"f#":          "fsharp",
	"kt":          "kotlin",
	"kts":         "kotlin",
	"dockerfile":  "docker",
	"proto":       "protocol-buffer",
	"protobuf":    "protocol-buffer",
	"ps1":         "powershell",
	"pwsh":        "powershell",
	"tf":          "terraform",
	"hcl":         "terraform",
	"objc":        "objective-c",
	"ex":          "elixir",
	"exs":         "elixir",
	"erl":         "erlang",
	"hs":          "haskell",
	"ml":          "ocaml",
	"pl":          "perl",
	"jl":          "julia",
	"patch":       "diff",
	"postgres":    "sql",
	"postgresql":  "sql",
	"mysql":       "sql",
	"sass":        "scss",
	"gql":         "graphql",
	"cfg":         "ini",
	"conf":        "ini",
	"txt":         engine.PlainText,
	"text":        engine.PlainText,
	"plain":       engine.PlainText,
	"none":        engine.PlainText,
}

// themeAliases maps informal theme names to canonical theme ids.
var themeAliases = map[string]string{
	"github-light":     "github",
	"one-dark":         "onedark",
	"one-dark-pro":     "onedark",
	"solarized":        "solarized-dark",
	"gruvbox-dark":     "gruvbox",
	"tokyo-night":      "tokyonight-night",
	"tokyonight":       "tokyonight-night",
	"catppuccin":       "catppuccin-mocha",
	"rosepine":         "rose-pine",
	"rose-pine-moon":   "rose-pine",
	"visual-studio":    "vs",
	"monokai-light":    "monokailight",
	"catppuccin-light": "catppuccin-latte",
}

// minPartial is the shortest id or input considered for partial matching.
// Shorter strings ("c", "r") would match almost anything.
const minPartial = 2

// Resolver maps free-form language and theme names to canonical ids known
// to one engine. It is immutable and safe for concurrent use.
type Resolver struct {
	languages map[string]bool
	themes    map[string]bool
	langIDs   []string
	themeIDs  []string
	dark      string
	light     string
}

// NewResolver builds a Resolver over the given canonical ids. dark and
// light are the themes used when a theme name cannot be matched.
func NewResolver(languages, themes []string, dark, light string) *Resolver {
	r := &Resolver{
		languages: make(map[string]bool, len(languages)),
		themes:    make(map[string]bool, len(themes)),
		dark:      dark,
		light:     light,
	}
	for _, id := range languages {
		if !r.languages[id] {
			r.languages[id] = true
			r.langIDs = append(r.langIDs, id)
		}
	}
	for _, id := range themes {
		if !r.themes[id] {
			r.themes[id] = true
			r.themeIDs = append(r.themeIDs, id)
		}
	}
	return r
}

// Language resolves name by exact match, then alias, then partial match,
// and otherwise returns engine.PlainText.
func (r *Resolver) Language(name string) string {
	n := normalizeName(name)
	if n == "" {
		return engine.PlainText
	}
	if r.languages[n] {
		return n
	}
	if id, ok := languageAliases[n]; ok && r.languages[id] {
		return id
	}
	if id := partialMatch(n, r.langIDs); id != "" {
		return id
	}
	return engine.PlainText
}

// Theme resolves name by exact match, then alias, then partial match, and
// otherwise picks the dark or light default from the name.
func (r *Resolver) Theme(name string) string {
	n := normalizeName(name)
	if n == "" {
		return r.dark
	}
	if r.themes[n] {
		return n
	}
	if id, ok := themeAliases[n]; ok && r.themes[id] {
		return id
	}
	switch n {
	case "dark":
		return r.dark
	case "light":
		return r.light
	}
	if id := partialMatch(n, r.themeIDs); id != "" {
		return id
	}
	return r.DefaultTheme(n)
}

// DefaultTheme picks the dark or light default for a theme name. Names
// mentioning "dark" or "night" are dark, "light" is light, anything else
// is dark.
func (r *Resolver) DefaultTheme(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "dark"), strings.Contains(n, "night"):
		return r.dark
	case strings.Contains(n, "light"):
		return r.light
	default:
		return r.dark
	}
}

// IsLight reports whether a canonical theme id is a light theme.
func (r *Resolver) IsLight(theme string) bool {
	if theme == r.light {
		return true
	}
	if theme == r.dark {
		return false
	}
	for _, hint := range []string{"light", "day", "dawn", "latte"} {
		if strings.Contains(theme, hint) {
			return true
		}
	}
	return false
}

// partialMatch prefers the longest known id contained in n. Failing that,
// it returns the shortest known id that contains n. Ties go to the id
// listed first.
func partialMatch(n string, ids []string) string {
	best := ""
	for _, id := range ids {
		if len(id) >= minPartial && len(id) > len(best) && strings.Contains(n, id) {
			best = id
		}
	}
	if best != "" || len(n) < minPartial {
		return best
	}
	for _, id := range ids {
		if strings.Contains(id, n) && (best == "" || len(id) < len(best)) {
			best = id
		}
	}
	return best
}

func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	return strings.Join(strings.Fields(n), "-")
}
