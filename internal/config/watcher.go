package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher reloads the config file while the server runs, so log levels and
// provider settings can change mid-campaign without dropping live sessions.
// It polls rather than using inotify: the config may live on a bind mount or
// network filesystem where file events are unreliable.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	logger   *slog.Logger

	mu       sync.Mutex
	current  *Config
	last     fileState
	done     chan struct{}
	stopOnce sync.Once
}

// fileState is the last seen content hash and mtime, used to skip reparsing
// unchanged files.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload and error messages.
// Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. onChange runs with the previous and the freshly loaded config
// whenever the file's content changes and still parses.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.last = st

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep reloads the file when it looks changed. An unparseable file keeps the
// previous config in effect and only logs a warning, so a half-saved edit
// cannot take down a running game.
func (w *Watcher) sweep() {
	// mtime gate: skip hashing when the file has not been touched.
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	seen := w.last.mtime
	w.mu.Unlock()
	if info.ModTime().Equal(seen) {
		return
	}

	cfg, st, err := w.load()
	if err != nil {
		w.logger.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if st.hash == w.last.hash {
		// Touched but identical content.
		w.last.mtime = st.mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.last = st
	w.mu.Unlock()

	w.logger.Info("config watcher: configuration reloaded", "path", w.path)

	// The callback runs outside the lock so it may call Current().
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load reads and parses the config file once, returning it with the file state
// observed for change detection.
func (w *Watcher) load() (*Config, fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
