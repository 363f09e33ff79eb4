package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asheshgoplani/snipdeck/internal/config"
	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/web"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	listen      string
	token       string
	rateLimit   float64
	noRateLimit bool
	noWatch     bool
}

func parseServeFlags(args []string, stdout io.Writer) (serveFlags, error) {
	var f serveFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.StringVar(&f.listen, "listen", "", "Listen address (overrides server.listen)")
	fs.StringVar(&f.token, "token", "", "Bearer token for API/WS access (overrides server.token)")
	fs.Float64Var(&f.rateLimit, "rate-limit", 0, "API requests per second (overrides server.rate_limit)")
	fs.BoolVar(&f.noRateLimit, "no-rate-limit", false, "Disable API rate limiting")
	fs.BoolVar(&f.noWatch, "no-watch", false, "Do not reload the config file on change")
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: snipdeck serve [options]")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Run the highlighting HTTP API.")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Options:")
		fs.PrintDefaults()
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Examples:")
		fmt.Fprintln(stdout, "  snipdeck serve")
		fmt.Fprintln(stdout, "  snipdeck serve --listen 0.0.0.0:9000 --token s3cret")
		fmt.Fprintln(stdout, "  snipdeck -config ./snipdeck.toml serve --no-rate-limit")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.rateLimit < 0 {
		return f, fmt.Errorf("--rate-limit must be >= 0")
	}
	return f, nil
}

// serverConfig merges command-line overrides into the file settings.
func (f serveFlags) serverConfig(cfg config.ServerConfig) web.Config {
	out := web.Config{
		ListenAddr: cfg.ListenAddr,
		Token:      cfg.Token,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
		Version:    Version,
	}
	if f.listen != "" {
		out.ListenAddr = f.listen
	}
	if f.token != "" {
		out.Token = f.token
	}
	if f.rateLimit > 0 {
		out.RateLimit = f.rateLimit
		out.RateBurst = int(f.rateLimit) + 1
	}
	if f.noRateLimit || cfg.NoRateLimit {
		out.RateLimit = 0
	}
	return out
}

func runServe(configPath string, args []string, stdout io.Writer) error {
	flags, err := parseServeFlags(args, stdout)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, configPath, engine.NewChroma)
	if err != nil {
		return err
	}
	defer a.shutdown()

	go a.cache.Run(ctx)

	if path := watchPath(configPath); path != "" && !flags.noWatch {
		go func() {
			if err := config.Watch(ctx, path, a.applyConfig); err != nil {
				a.log.Warn("config_watch_unavailable", slog.String("error", err.Error()))
			}
		}()
	}

	wcfg := flags.serverConfig(a.cfg.Server)
	wcfg.Highlighter = a.service
	wcfg.EventBus = a.bus
	server := web.NewServer(wcfg)
	if err := server.Start(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "snipdeck %s listening on http://%s\n", Version, server.Addr())
	fmt.Fprintln(stdout, "Press Ctrl+C to stop.")

	<-ctx.Done()
	fmt.Fprintln(stdout, "\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// watchPath returns the config file to watch: the explicit path, or the
// default path when that file exists.
func watchPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	def := config.DefaultPath()
	if def == "" {
		return ""
	}
	if _, err := os.Stat(def); err != nil {
		return ""
	}
	return def
}
