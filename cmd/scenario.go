package cmd

import (
	"encoding/json"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var scenarioOutputFormat string

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Query scenario records",
}

var scenarioGetCmd = &cobra.Command{
	Use:   "get <scenario-id>",
	Short: "Get a scenario's record and per-status task summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenarioGet,
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.AddCommand(scenarioGetCmd)
	scenarioCmd.PersistentFlags().StringVarP(&scenarioOutputFormat, "output", "o", "table", "output format (table, json)")
}

func runScenarioGet(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		printError(err)
		return err
	}
	defer a.Close()

	progress, err := a.Service.Query.GetScenario(cmd.Context(), args[0])
	if err != nil {
		printError(err)
		return err
	}

	if scenarioOutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(progress)
	}

	w := table.NewWriter()
	w.SetOutputMirror(cmd.OutOrStdout())
	w.SetStyle(table.StyleRounded)
	w.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("FIELD"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("VALUE"),
	})
	w.AppendRow(table.Row{"scenario_id", progress.Scenario.ScenarioID})
	w.AppendRow(table.Row{"template_name", progress.Scenario.TemplateName})
	w.AppendRow(table.Row{"template_version", progress.Scenario.TemplateVersion})
	w.AppendRow(table.Row{"tasks", len(progress.Scenario.TaskIDs)})
	w.AppendRow(table.Row{"pending", progress.Counts.Pending})
	w.AppendRow(table.Row{"queued", progress.Counts.Queued})
	w.AppendRow(table.Row{"processing", progress.Counts.Processing})
	w.AppendRow(table.Row{"success", text.Colors{text.FgHiGreen}.Sprint(progress.Counts.Success)})
	w.AppendRow(table.Row{"failed", text.Colors{text.FgHiRed}.Sprint(progress.Counts.Failed)})
	stuck := "no"
	if progress.Stuck {
		stuck = text.Colors{text.FgHiRed, text.Bold}.Sprint("yes")
	}
	w.AppendRow(table.Row{"stuck", stuck})
	w.Render()
	return nil
}
