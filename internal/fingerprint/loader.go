package fingerprint

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	yaml "gopkg.in/yaml.v2"
)

// LoadRules parses a rule database file. YAML and JSON files both parse
// through the YAML decoder.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule database: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rule database %s: %w", path, err)
	}
	return rules, nil
}

// Watcher serves the current engine and swaps it when the rule file changes
// on disk. A file that fails to parse keeps the previous engine.
type Watcher struct {
	mu     sync.RWMutex
	engine *Engine
	path   string
	fsw    *fsnotify.Watcher
	logger *log.Logger
	done   chan struct{}
}

// NewWatcher loads the file and starts watching its directory. Editors that
// replace-by-rename still produce events this way. A missing file starts an
// empty engine and waits for the file to appear.
func NewWatcher(path string) (*Watcher, error) {
	logger := log.New(log.Writer(), "[FINGERPRINT] ", log.LstdFlags)
	rules, err := LoadRules(path)
	if err != nil {
		logger.Printf("rule database unavailable, starting empty: %v", err)
		rules = nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		engine: NewEngine(rules),
		path:   path,
		fsw:    fsw,
		logger: logger,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Engine returns the current engine snapshot.
func (w *Watcher) Engine() *Engine {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.engine
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Printf("reload failed, keeping previous rules: %v", err)
		return
	}
	engine := NewEngine(rules)
	w.mu.Lock()
	w.engine = engine
	w.mu.Unlock()
	w.logger.Printf("rules reloaded: %d entries", engine.RuleCount())
}

// Process-wide engine used by scan handlers. Initialized lazily from the
// configured rule path.
var (
	defaultMu      sync.Mutex
	defaultWatcher *Watcher
	defaultPath    string
)

// SetDefaultPath configures the rule file for the lazy default watcher.
func SetDefaultPath(path string) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultPath = path
}

// Default returns the shared engine, starting the watcher on first use.
// With no configured path it serves an empty engine.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultWatcher == nil {
		if defaultPath == "" {
			return NewEngine(nil)
		}
		w, err := NewWatcher(defaultPath)
		if err != nil {
			log.New(log.Writer(), "[FINGERPRINT] ", log.LstdFlags).
				Printf("default watcher unavailable: %v", err)
			return NewEngine(nil)
		}
		defaultWatcher = w
	}
	return defaultWatcher.Engine()
}

// ResetForTest tears down the shared watcher.
func ResetForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultWatcher != nil {
		defaultWatcher.Close()
		defaultWatcher = nil
	}
	defaultPath = ""
}
