// Package main provides the entry point for the gateway server. It loads
// the declarative configuration, builds the provider pool, and starts the
// reverse-proxy HTTP server described in the package documentation.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-gateway/gateway/internal/dispatch"
	"github.com/cliproxy-gateway/gateway/internal/forwarder"
	"github.com/cliproxy-gateway/gateway/internal/gwconfig"
	"github.com/cliproxy-gateway/gateway/internal/httpapi"
	"github.com/cliproxy-gateway/gateway/internal/logging"
	"github.com/cliproxy-gateway/gateway/internal/logsink"
	"github.com/cliproxy-gateway/gateway/internal/pool"
	"github.com/cliproxy-gateway/gateway/internal/statushub"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	addr := flag.String("addr", ":8317", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "optional path to rotate log output to")
	dataDir := flag.String("data-dir", "data", "directory for the flat-file request log")
	postgresDSN := flag.String("postgres-dsn", "", "optional Postgres DSN for the request log sink")
	printVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("gateway %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	logging.SetupBaseLogger(logging.Options{Level: *logLevel, FilePath: *logFile})

	if err := run(*configPath, *addr, *dataDir, *postgresDSN); err != nil {
		log.WithError(err).Fatal("gateway: fatal startup error")
	}
}

func run(configPath, addr, dataDir, postgresDSN string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := gwconfig.NewFileSource(configPath)
	bootstrap := gwconfig.NewWatcher(source, 2*time.Second, nil)

	cfg, err := bootstrap.LoadInitial(ctx)
	if err != nil {
		return fmt.Errorf("loading initial configuration: %w", err)
	}

	p := pool.New(&http.Client{Timeout: 30 * time.Second})
	p.Rebuild(cfg)
	p.HydrateAll(ctx)

	var mu sync.RWMutex
	apiKey := cfg.APIKey
	apiKeyFunc := func() string {
		mu.RLock()
		defer mu.RUnlock()
		return apiKey
	}

	hub := statushub.New()
	hub.Broadcast(statushub.Snapshot{At: time.Now(), Success: true, ProviderCount: len(cfg.Providers)})

	sink, err := buildSink(ctx, dataDir, postgresDSN)
	if err != nil {
		return fmt.Errorf("building log sink: %w", err)
	}
	defer sink.Close()

	fwd := forwarder.New(cfg.Preferences.Proxy)
	d := dispatch.NewDispatcher(p, fwd, time.Duration(cfg.Preferences.ModelTimeoutSeconds)*time.Second, httpapi.IsModelsListingPath)

	watcher := gwconfig.NewWatcher(source, 2*time.Second, func(r gwconfig.ReloadResult) {
		if r.Err != nil {
			log.WithError(r.Err).Warn("gwconfig: reload failed, current configuration retained")
			hub.Broadcast(statushub.Snapshot{At: time.Now(), Success: false, Error: r.Err.Error()})
			return
		}
		if !r.Changed {
			return
		}
		mu.Lock()
		apiKey = r.Config.APIKey
		mu.Unlock()

		p.Rebuild(r.Config)
		p.HydrateAll(ctx)
		d.SetTransport(forwarder.New(r.Config.Preferences.Proxy), time.Duration(r.Config.Preferences.ModelTimeoutSeconds)*time.Second)

		log.WithField("changes", r.Changes).Info("gwconfig: configuration reloaded")
		hub.Broadcast(statushub.Snapshot{
			At:            time.Now(),
			Success:       true,
			ProviderCount: len(r.Config.Providers),
			Changes:       r.Changes,
		})
	})
	go watcher.Run(ctx)

	server := httpapi.New(d, p, sink, hub, apiKeyFunc)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Engine(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("gateway: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildSink(ctx context.Context, dataDir, postgresDSN string) (logsink.Sink, error) {
	if postgresDSN != "" {
		return logsink.NewPostgresSink(ctx, postgresDSN)
	}
	return logsink.NewFileSink(dataDir, 5000)
}
