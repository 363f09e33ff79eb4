// Command snipdeck serves and renders syntax-highlighted code snippets.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const usage = `Usage: snipdeck [-config PATH] <command> [options]

Commands:
  serve       Run the HTTP API
  highlight   Render a file or stdin as highlighted HTML
  languages   List or search supported languages
  themes      List or search supported themes
  version     Print the version

Run "snipdeck <command> -h" for command options.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("snipdeck", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "Path to config.toml (default $SNIPDECK_CONFIG or ~/.config/snipdeck/config.toml)")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, cmdArgs := rest[0], rest[1:]
	var err error
	switch cmd {
	case "serve":
		err = runServe(*configPath, cmdArgs, stdout)
	case "highlight", "hl":
		err = runHighlight(*configPath, cmdArgs, stdin, stdout)
	case "languages", "langs":
		err = runCatalog(catalogLanguages, cmdArgs, stdout)
	case "themes":
		err = runCatalog(catalogThemes, cmdArgs, stdout)
	case "version":
		fmt.Fprintf(stdout, "snipdeck %s\n", Version)
	case "help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// normalizeArgs moves flags ahead of positional arguments so that
// "snipdeck highlight main.go --theme dracula" parses like the flag-first
// form. Arguments after "--" stay positional.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if strings.Contains(a, "=") {
			continue
		}
		name := strings.TrimLeft(a, "-")
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			continue
		}
		if i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	if len(positional) == 0 {
		return flags
	}
	return append(append(flags, "--"), positional...)
}
