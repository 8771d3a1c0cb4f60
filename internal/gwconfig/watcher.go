package gwconfig

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// ReloadResult is delivered to Watcher's callback when a poll finds a
// changed fingerprint (Changed=true) or when the load fails (Err set); a
// poll that finds the source unchanged delivers nothing (spec §4.9).
type ReloadResult struct {
	Config  *AppConfig
	Changed bool
	Changes []string
	Err     error
}

// Watcher polls a Source at a fixed interval (spec §4.9: "approximately 2
// seconds"), reloading and validating on change, grounded on the
// teacher's file-watcher + polling-fallback idiom: fsnotify drives the
// fast path for FileSource, a ticker is the backstop for every Source
// (including ObjectStoreSource, which has no filesystem events to watch).
type Watcher struct {
	source   Source
	interval time.Duration
	onReload func(ReloadResult)

	lastFingerprint string
	lastConfig      *AppConfig
}

// NewWatcher builds a Watcher. onReload is invoked from the Watcher's own
// goroutine; callers that mutate shared state from it must synchronize
// themselves (e.g. via Pool.Rebuild's atomic swap).
func NewWatcher(source Source, interval time.Duration, onReload func(ReloadResult)) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{source: source, interval: interval, onReload: onReload}
}

// LoadInitial performs the first load synchronously, so the caller can
// fail fast on startup rather than running with no configuration.
func (w *Watcher) LoadInitial(ctx context.Context) (*AppConfig, error) {
	cfg, fp, err := w.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	w.lastFingerprint = fp
	w.lastConfig = cfg
	return cfg, nil
}

// Run polls until ctx is canceled. For a FileSource it also watches the
// file's directory with fsnotify so a write is picked up immediately
// instead of waiting for the next tick; the ticker remains the source of
// truth either way, since fsnotify can coalesce or miss events across
// editors that write-then-rename.
func (w *Watcher) Run(ctx context.Context) {
	var notify chan struct{}
	if fs, ok := w.source.(*FileSource); ok {
		if nw, err := newFsnotifyNudge(fs.Path); err == nil {
			notify = nw.events
			defer nw.Close()
		} else {
			log.WithError(err).Debug("gwconfig: fsnotify unavailable, relying on poll interval")
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		case <-notify:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	cfg, fp, err := w.source.Load(ctx)
	if err != nil {
		log.WithError(err).Warn("gwconfig: reload failed, keeping current configuration")
		w.onReload(ReloadResult{Config: w.lastConfig, Changed: false, Err: err})
		return
	}
	if fp == w.lastFingerprint {
		return
	}

	changes, _ := DiffProviders(providersOf(w.lastConfig), cfg.Providers)
	w.lastFingerprint = fp
	w.lastConfig = cfg
	w.onReload(ReloadResult{Config: cfg, Changed: true, Changes: changes})
}

func providersOf(cfg *AppConfig) []ProviderConfig {
	if cfg == nil {
		return nil
	}
	return cfg.Providers
}

type fsnotifyNudge struct {
	watcher *fsnotify.Watcher
	events  chan struct{}
}

func newFsnotifyNudge(path string) (*fsnotifyNudge, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	n := &fsnotifyNudge{watcher: w, events: make(chan struct{}, 1)}
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case n.events <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return n, nil
}

func (n *fsnotifyNudge) Close() error {
	return n.watcher.Close()
}
