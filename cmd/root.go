// Package cmd implements the orchestrator's operator-facing CLI: submit a
// scenario, inspect tasks/scenarios/queues, run the janitor, and serve the
// worker-facing HTTP protocol.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/app"
	"github.com/giantswarm/muster-scenario-core/internal/config"
)

// Exit codes kept distinct so wrapper scripts can branch on them.
const (
	ExitCodeSuccess        = 0
	ExitCodeError          = 1
	ExitCodeStoreRetryable = 2
)

var rootCmd = &cobra.Command{
	Use:   "muster-scenario-core",
	Short: "Scenario-driven task orchestration core for an AI content-generation pipeline",
	Long: `muster-scenario-core materialises scenario templates into a task DAG,
persists it in a shared store, and dispatches tasks to worker queues as
their dependencies complete.

Use 'muster-scenario-core serve' to expose the worker-facing HTTP protocol,
or the submit/task/scenario/queue/janitor subcommands for one-shot
operator actions against the same store.`,
	// SilenceUsage keeps a failed command from dumping its usage text.
	// SilenceErrors is set because every RunE already reports its own error
	// via printError before returning it; cobra's default printer would
	// otherwise repeat the same line.
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Persistent flags that override their STORE_URL/TEMPLATE_DIR environment
// counterparts when set.
var (
	flagStoreURL    string
	flagTemplateDir string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStoreURL, "store-url", "", "Valkey/Redis connection URL (overrides STORE_URL; empty uses an in-memory store)")
	rootCmd.PersistentFlags().StringVar(&flagTemplateDir, "template-dir", "", "scenario template directory (overrides TEMPLATE_DIR)")
}

// loadConfig builds a config.Config from the environment, then applies any
// command-line overrides on top.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flagStoreURL != "" {
		cfg.StoreURL = flagStoreURL
	}
	if flagTemplateDir != "" {
		cfg.TemplateDir = flagTemplateDir
	}
	return cfg, nil
}

// bootstrap loads configuration and wires a full App for one command
// invocation. Callers must defer a.Close().
func bootstrap(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, cmd.OutOrStdout())
}

// SetVersion sets the version string shown by --version, injected by
// main.main at build time.
func SetVersion(v string) { rootCmd.Version = v }

// Execute runs the CLI, translating a returned error into the process's
// exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "muster-scenario-core version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps the orchestrator's error taxonomy onto a process exit
// code: a retryable store error gets its own code so wrapper scripts can
// distinguish "try again" from "this request is wrong".
func getExitCode(err error) int {
	if apierrors.IsStoreUnavailable(err) {
		return ExitCodeStoreRetryable
	}
	return ExitCodeError
}

// printError writes err to stderr in a single line, matching cobra's own
// "Error: %s" convention so automated log scraping stays consistent.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
}
