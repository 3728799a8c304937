// Package app bootstraps the orchestrator's process-level dependencies
// (store, template registry, service, janitor) from a config.Config so
// every cmd/ subcommand shares one initialisation sequence instead of
// duplicating it.
package app

import (
	"fmt"
	"io"
	"os"

	"github.com/giantswarm/muster-scenario-core/internal/config"
	"github.com/giantswarm/muster-scenario-core/internal/janitor"
	"github.com/giantswarm/muster-scenario-core/internal/scenario"
	"github.com/giantswarm/muster-scenario-core/internal/store"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// App holds the wired, ready-to-use orchestrator dependencies for one
// process lifetime.
type App struct {
	Config  config.Config
	Store   store.Store
	Storage *config.Storage
	Service *scenario.Service
	Janitor *janitor.Janitor
}

// New wires a store, template registry, scenario.Service, and
// janitor.Janitor from cfg. Logging is initialised first as a side effect,
// so every subsequent step can log.
func New(cfg config.Config, output io.Writer) (*App, error) {
	if output == nil {
		output = os.Stdout
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat, output)

	st, err := newStore(cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("initialising store: %w", err)
	}

	storage, err := config.NewStorage(cfg.TemplateDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading scenario templates: %w", err)
	}
	if cfg.TemplateDir != "" {
		if err := storage.Watch(); err != nil {
			logging.Warn("Bootstrap", "template hot-reload disabled: %v", err)
		}
	}

	svc := scenario.NewService(st, storage)
	svc.RestrictServices(cfg.ServiceNames)
	j := janitor.New(svc.Dispatcher, cfg.JanitorInterval, cfg.JanitorTimeout)

	logging.Info("Bootstrap", "orchestrator ready (store=%s template_dir=%s)", storeDescription(cfg.StoreURL), cfg.TemplateDir)
	return &App{Config: cfg, Store: st, Storage: storage, Service: svc, Janitor: j}, nil
}

// newStore returns a ValkeyStore when url is set, otherwise an in-process
// MemStore with its script handlers registered — the "development / test
// mode, no server needed" path documented on config.Config.StoreURL.
func newStore(url string) (store.Store, error) {
	if url == "" {
		m := store.NewMemStore()
		scenario.RegisterScripts(m)
		return m, nil
	}
	return store.NewValkeyStore(url)
}

func storeDescription(url string) string {
	if url == "" {
		return "in-memory"
	}
	return url
}

// Close releases the store connection and stops the template watcher.
func (a *App) Close() error {
	a.Storage.Stop()
	return a.Store.Close()
}
