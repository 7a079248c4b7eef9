package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// Watcher keeps the trickplay section current while the process runs.
// Generation runs read one Snapshot at start, so a reload only affects
// runs that begin afterwards.
type Watcher struct {
	v       *viper.Viper
	current atomic.Pointer[TrickplayConfig]

	mu        sync.Mutex
	listeners []func(TrickplayConfig, error)
}

// NewWatcher loads configPath and returns the full config plus a watcher
// over its trickplay section.
func NewWatcher(configPath string) (*Watcher, *Config, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, nil, err
	}

	w := &Watcher{v: v}
	tp := cfg.Trickplay
	w.current.Store(&tp)
	return w, cfg, nil
}

// Start begins watching the config file for changes
func (w *Watcher) Start() {
	w.v.OnConfigChange(func(fsnotify.Event) {
		w.Reload()
	})
	w.v.WatchConfig()
}

// Reload re-decodes the current viper state. An invalid file leaves the
// previous settings in place.
func (w *Watcher) Reload() error {
	cfg, err := decode(w.v)
	if err == nil {
		tp := cfg.Trickplay
		w.current.Store(&tp)
	}

	w.mu.Lock()
	listeners := append([]func(TrickplayConfig, error){}, w.listeners...)
	w.mu.Unlock()

	current := *w.current.Load()
	for _, fn := range listeners {
		fn(current, err)
	}
	return err
}

// OnChange registers fn to run after every reload attempt
func (w *Watcher) OnChange(fn func(TrickplayConfig, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Trickplay returns the current trickplay section
func (w *Watcher) Trickplay() TrickplayConfig {
	return *w.current.Load()
}

// Snapshot returns the current generation parameters
func (w *Watcher) Snapshot() models.GenerationConfig {
	return w.current.Load().Generation()
}

// Fixed is a generation config source that never changes
type Fixed models.GenerationConfig

// Snapshot returns the fixed parameters
func (f Fixed) Snapshot() models.GenerationConfig {
	return models.GenerationConfig(f)
}
