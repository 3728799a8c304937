package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/muster-scenario-core/internal/scenario"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// entry pairs a parsed Document with the version stamp its source file
// carried at load time (the file's mtime, formatted, when Document.Version
// is left blank).
type entry struct {
	doc     *scenario.Document
	version string
}

// Storage is a YAML-file-backed scenario.TemplateRegistry: every *.yaml or
// *.yml file directly under dir is loaded as one named template, with the
// filename minus extension as the template name submitters use. It is a
// read-mostly, watch-capable cache rather than a read/write CRUD surface,
// since scenario templates are operator-authored files rather than
// API-managed entities.
type Storage struct {
	mu        sync.RWMutex
	dir       string
	templates map[string]entry

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewStorage loads every template found directly under dir. An empty dir
// or a missing directory is not an error (an empty registry is returned) so
// that a MemStore-only dev setup without TEMPLATE_DIR still starts cleanly;
// a file that fails to parse is logged and skipped.
func NewStorage(dir string) (*Storage, error) {
	s := &Storage{dir: dir, templates: make(map[string]entry)}
	if dir == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements scenario.TemplateRegistry.
func (s *Storage) Get(name string) (*scenario.Document, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.templates[name]
	if !ok {
		return nil, "", fmt.Errorf("template %q not found", name)
	}
	return e.doc, e.version, nil
}

// Names returns the currently loaded template names, sorted by the
// underlying map's iteration (callers needing stable order should sort).
func (s *Storage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for n := range s.templates {
		names = append(names, n)
	}
	return names
}

// reload re-scans s.dir from scratch, replacing the in-memory set
// atomically. A parse failure in one file is logged and skipped rather
// than aborting the whole reload, so one author's typo does not take down
// every other template.
func (s *Storage) reload() error {
	matches, err := s.listTemplateFiles()
	if err != nil {
		return err
	}

	fresh := make(map[string]entry, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		doc, version, err := loadDocument(path)
		if err != nil {
			logging.Warn("config.Storage", "skipping template %s: %v", path, err)
			continue
		}
		fresh[name] = entry{doc: doc, version: version}
	}

	s.mu.Lock()
	s.templates = fresh
	s.mu.Unlock()

	logging.Info("config.Storage", "loaded %d scenario templates from %s", len(fresh), s.dir)
	return nil
}

func (s *Storage) listTemplateFiles() ([]string, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil, nil
	}
	var matches []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		found, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		matches = append(matches, found...)
	}
	return matches, nil
}

func loadDocument(path string) (*scenario.Document, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}

	var doc scenario.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}

	version := doc.Version
	if version == "" {
		info, err := os.Stat(path)
		if err == nil {
			version = info.ModTime().UTC().Format(time.RFC3339Nano)
		}
	}
	return &doc, version, nil
}

// Watch starts an fsnotify watch on s.dir, reloading the whole directory
// (debounced) on any create/write/remove/rename event. Individual file
// events are coalesced into one reload after debounceInterval of quiet,
// since editors typically emit several events per save.
func (s *Storage) Watch() error {
	if s.dir == "" {
		return fmt.Errorf("config.Storage: cannot watch an empty directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.watchLoop(watcher, stopCh)
	logging.Info("config.Storage", "watching %s for template changes", s.dir)
	return nil
}

const debounceInterval = 300 * time.Millisecond

func (s *Storage) watchLoop(watcher *fsnotify.Watcher, stopCh chan struct{}) {
	var debounce *time.Timer
	reload := func() {
		if err := s.reload(); err != nil {
			logging.Warn("config.Storage", "reload after fs event failed: %v", err)
		}
	}

	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config.Storage", "watcher error: %v", err)
		}
	}
}

// Stop halts the fsnotify watch started by Watch. Safe to call even if
// Watch was never called.
func (s *Storage) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}
