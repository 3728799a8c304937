package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// Config is the orchestrator's process configuration, read entirely from
// the environment. There is no config file for process settings; scenario
// templates are a separate, file-backed concern handled by Storage below.
type Config struct {
	// StoreURL is the Valkey/Redis connection URL. Empty means "use the
	// in-process MemStore" (development / test mode, no server needed).
	StoreURL string

	// TemplateDir is the directory Storage loads scenario template YAML
	// documents from, and watches for changes when non-empty.
	TemplateDir string

	// ServiceNames is the list of recognised worker services. When set,
	// template expansion rejects tasks naming any other service; the
	// dispatcher itself accepts any service name a worker claims against.
	ServiceNames []string

	// JanitorInterval is how often the janitor sweeps for stuck tasks.
	JanitorInterval time.Duration

	// JanitorTimeout is how long a task may stay PROCESSING before the
	// janitor reclaims it.
	JanitorTimeout time.Duration

	// LogLevel filters the structured logger's output.
	LogLevel logging.LogLevel

	// LogFormat selects text or JSON log output.
	LogFormat logging.LogFormat
}

// defaultConfig collects every fallback value in one place rather than
// scattering magic numbers through Load.
func defaultConfig() Config {
	return Config{
		StoreURL:        "",
		TemplateDir:     "",
		ServiceNames:    nil,
		JanitorInterval: 30 * time.Second,
		JanitorTimeout:  5 * time.Minute,
		LogLevel:        logging.LevelInfo,
		LogFormat:       logging.FormatText,
	}
}

// Load builds a Config from environment variables, falling back to
// defaultConfig for anything unset. Recognised variables:
//
//	STORE_URL         Valkey/Redis connection URL
//	TEMPLATE_DIR      scenario template directory (enables hot reload)
//	SERVICE_NAMES     comma-separated list of known consumer services
//	JANITOR_INTERVAL  Go duration string (e.g. "30s")
//	JANITOR_TIMEOUT   Go duration string (e.g. "5m")
//	LOG_LEVEL         debug|info|warn|error
//	LOG_FORMAT        text|json (text is also accepted as "cli")
func Load() (Config, error) {
	cfg := defaultConfig()

	if v := os.Getenv("STORE_URL"); v != "" {
		cfg.StoreURL = v
	}
	if v := os.Getenv("TEMPLATE_DIR"); v != "" {
		cfg.TemplateDir = v
	}
	if v := os.Getenv("SERVICE_NAMES"); v != "" {
		cfg.ServiceNames = splitAndTrim(v)
	}
	if v := os.Getenv("JANITOR_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("JANITOR_INTERVAL: %w", err)
		}
		cfg.JanitorInterval = d
	}
	if v := os.Getenv("JANITOR_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("JANITOR_TIMEOUT: %w", err)
		}
		cfg.JanitorTimeout = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl, err := parseLogLevel(v)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = lvl
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		format, err := parseLogFormat(v)
		if err != nil {
			return Config{}, err
		}
		cfg.LogFormat = format
	}

	return cfg, nil
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(v string) (logging.LogLevel, error) {
	switch strings.ToLower(v) {
	case "debug":
		return logging.LevelDebug, nil
	case "info":
		return logging.LevelInfo, nil
	case "warn", "warning":
		return logging.LevelWarn, nil
	case "error":
		return logging.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL: unrecognised level %q", v)
	}
}

func parseLogFormat(v string) (logging.LogFormat, error) {
	switch strings.ToLower(v) {
	case "text", "cli":
		return logging.FormatText, nil
	case "json":
		return logging.FormatJSON, nil
	default:
		return 0, fmt.Errorf("LOG_FORMAT: unrecognised format %q", v)
	}
}
