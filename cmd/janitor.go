package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Run the stuck-task reclaim sweep",
}

var janitorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single reclaim sweep and exit",
	Long: `Scans tasks stuck in PROCESSING past the configured timeout (JANITOR_TIMEOUT)
and transitions them to FAILED with a synthetic timeout error, freeing
scenarios whose workers crashed mid-task. Consumers are left untouched (no
cascade). See 'muster-scenario-core serve' for the long-running
ticker-driven sweep.`,
	Args: cobra.NoArgs,
	RunE: runJanitorRun,
}

func init() {
	rootCmd.AddCommand(janitorCmd)
	janitorCmd.AddCommand(janitorRunCmd)
}

func runJanitorRun(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		printError(err)
		return err
	}
	defer a.Close()

	n, err := a.Janitor.RunOnce(cmd.Context())
	if err != nil {
		printError(err)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d task(s)\n", n)
	return nil
}
