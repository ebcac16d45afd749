package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Reloader keeps the active configuration and re-reads the file when it
// changes on disk or, on Unix, when the process receives SIGHUP.
//
// Only rate_limit takes effect on reload. The luis section seeds the
// settings store once and stays its reset target; every other section is
// read at startup only.
type Reloader struct {
	path   string
	logger *slog.Logger

	current atomic.Pointer[Config]

	mu        sync.Mutex
	callbacks []func(*Config)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReloader creates a Reloader for path holding initial as the active
// configuration. An empty path disables reloading.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	r := &Reloader{path: path, logger: logger, stopCh: make(chan struct{})}
	r.current.Store(initial)
	return r
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers fn to run with every successfully reloaded config.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// Start begins watching for changes. Bursts of file events are coalesced
// into one reload.
func (r *Reloader) Start() {
	if r.path == "" {
		r.logger.Info("no config file given, hot reload disabled")
		return
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w, err := r.watch(); err != nil {
		r.logger.Error("config file watcher unavailable", "path", r.path, "error", err)
	} else {
		r.watcher = w
		events, errs = w.Events, w.Errors
	}

	hup, stopHup := hangupSignals()
	go r.run(events, errs, hup, stopHup)

	r.logger.Info("config reload enabled", "path", r.path, "file_watch", events != nil, "sighup", hup != nil)
}

// watch observes the file's directory so that editors replacing the file
// by rename are seen too.
func (r *Reloader) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (r *Reloader) run(events <-chan fsnotify.Event, errs <-chan error, hup <-chan os.Signal, stopHup func()) {
	defer stopHup()

	target := filepath.Clean(r.path)
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Error("config file watcher error", "error", err)
		case <-hup:
			r.logger.Info("SIGHUP received, reloading config", "path", r.path)
			r.Reload() //nolint:errcheck
		case <-timer.C:
			r.Reload() //nolint:errcheck
		case <-r.stopCh:
			timer.Stop()
			return
		}
	}
}

// Stop ends watching. Safe to call more than once.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// Reload reads and validates the file. An invalid file leaves the active
// configuration in place and no callback runs.
func (r *Reloader) Reload() error {
	if r.path == "" {
		return errors.New("no config file to reload")
	}

	next, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed, keeping current", "path", r.path, "error", err)
		return err
	}
	prev := r.current.Swap(next)

	changed := changedSections(prev, next)
	r.logger.Info("configuration reloaded", "path", r.path, "changed", changed)
	if restart := slices.DeleteFunc(slices.Clone(changed), func(s string) bool { return s == "rate_limit" }); len(restart) > 0 {
		r.logger.Warn("config sections apply on restart only; use POST /config for runtime backend changes",
			"sections", restart)
	}

	r.mu.Lock()
	callbacks := slices.Clone(r.callbacks)
	r.mu.Unlock()
	for _, cb := range callbacks {
		cb(next)
	}
	return nil
}

// changedSections names the top-level sections that differ.
func changedSections(prev, next *Config) []string {
	var out []string
	if !equalServer(prev.Server, next.Server) {
		out = append(out, "server")
	}
	if prev.LUIS != next.LUIS {
		out = append(out, "luis")
	}
	if prev.Metrics.IsEnabled() != next.Metrics.IsEnabled() || prev.Metrics.Path != next.Metrics.Path {
		out = append(out, "metrics")
	}
	if prev.Logging != next.Logging {
		out = append(out, "logging")
	}
	if prev.RateLimit.RequestsPerSecond != next.RateLimit.RequestsPerSecond ||
		prev.RateLimit.BurstSize != next.RateLimit.BurstSize ||
		!slices.Equal(prev.RateLimit.Overrides, next.RateLimit.Overrides) {
		out = append(out, "rate_limit")
	}
	if prev.Admin.Enabled != next.Admin.Enabled || !slices.Equal(prev.Admin.IPAllowlist, next.Admin.IPAllowlist) {
		out = append(out, "admin")
	}
	return out
}

func equalServer(a, b ServerConfig) bool {
	return a.Port == b.Port &&
		a.ReadTimeout == b.ReadTimeout &&
		a.WriteTimeout == b.WriteTimeout &&
		a.ShutdownTimeout == b.ShutdownTimeout &&
		a.MaxBodyBytes == b.MaxBodyBytes &&
		a.TLS == b.TLS &&
		slices.Equal(a.TrustedProxies, b.TrustedProxies)
}
