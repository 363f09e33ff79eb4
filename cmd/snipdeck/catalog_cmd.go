package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/asheshgoplani/snipdeck/internal/registry"
)

type catalogKind int

const (
	catalogLanguages catalogKind = iota
	catalogThemes
)

func (k catalogKind) String() string {
	if k == catalogThemes {
		return "themes"
	}
	return "languages"
}

// runCatalog lists or fuzzy-searches the registry. It never builds an
// engine.
func runCatalog(kind catalogKind, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(kind.String(), flag.ContinueOnError)
	fs.SetOutput(stdout)
	asJSON := fs.Bool("json", false, "Output as JSON")
	coreOnly := fs.Bool("core", false, "Only entries loaded with the engine")
	fs.Usage = func() {
		fmt.Fprintf(stdout, "Usage: snipdeck %s [options] [QUERY]\n\n", kind)
		fmt.Fprintln(stdout, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return err
	}

	reg := registry.Default()
	query := strings.Join(fs.Args(), " ")
	var entries []registry.Entry
	if kind == catalogThemes {
		entries = reg.SearchThemes(query)
	} else {
		entries = reg.SearchLanguages(query)
	}
	if *coreOnly {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Core {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if *asJSON {
		if entries == nil {
			entries = []registry.Entry{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, e.Label, e.Category)
	}
	return tw.Flush()
}
