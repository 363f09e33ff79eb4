package main

import (
	"context"
	"flag"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/snipdeck/internal/engine"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>body{margin:0;padding:1rem;background:{{.Colors.Background}};color:{{.Colors.Foreground}}}</style>
</head>
<body>
{{.Markup}}
</body>
</html>
`))

type highlightFlags struct {
	language string
	theme    string
	page     bool
	path     string
}

func parseHighlightFlags(args []string, stdout io.Writer) (highlightFlags, error) {
	var f highlightFlags
	fs := flag.NewFlagSet("highlight", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.StringVar(&f.language, "lang", "", "Language name or alias (default: detected from the file name)")
	fs.StringVar(&f.theme, "theme", "", "Theme name (default: the configured dark theme)")
	fs.BoolVar(&f.page, "page", false, "Emit a standalone HTML page")
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: snipdeck highlight [options] [FILE]")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Render FILE, or stdin when FILE is omitted or \"-\", as highlighted HTML.")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return f, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		f.path = fs.Arg(0)
	default:
		return f, fmt.Errorf("expected at most one file, got %v", fs.Args())
	}
	if f.path == "-" {
		f.path = ""
	}
	if f.language == "" && f.path != "" {
		f.language = engine.DetectLanguage(filepath.Base(f.path))
	}
	return f, nil
}

func runHighlight(configPath string, args []string, stdin io.Reader, stdout io.Writer) error {
	flags, err := parseHighlightFlags(args, stdout)
	if err != nil {
		return err
	}

	var code []byte
	if flags.path == "" {
		code, err = io.ReadAll(stdin)
	} else {
		code, err = os.ReadFile(flags.path)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, configPath, engine.NewChroma)
	if err != nil {
		return err
	}
	defer a.shutdown()

	return writeHighlighted(ctx, a, flags, string(code), stdout)
}

func writeHighlighted(ctx context.Context, a *app, flags highlightFlags, code string, w io.Writer) error {
	markup := a.service.Highlight(ctx, code, flags.language, flags.theme)
	if !flags.page {
		_, err := fmt.Fprintln(w, markup)
		return err
	}

	title := flags.path
	if title == "" {
		title = "snippet"
	}
	return pageTemplate.Execute(w, struct {
		Title  string
		Colors engine.Colors
		Markup template.HTML
	}{
		Title:  filepath.Base(title),
		Colors: a.service.ThemeColors(ctx, flags.theme),
		Markup: template.HTML(markup),
	})
}
