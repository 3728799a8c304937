package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/muster-scenario-core/internal/task"
	pkgstrings "github.com/giantswarm/muster-scenario-core/pkg/strings"
)

var taskOutputFormat string

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Query task records",
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Get the full record for a task by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.PersistentFlags().StringVarP(&taskOutputFormat, "output", "o", "table", "output format (table, json)")
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		printError(err)
		return err
	}
	defer a.Close()

	t, err := a.Service.Query.GetTask(cmd.Context(), args[0])
	if err != nil {
		printError(err)
		return err
	}

	return formatTask(cmd, t, taskOutputFormat)
}

func formatTask(cmd *cobra.Command, t task.Task, format string) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}

	w := table.NewWriter()
	w.SetOutputMirror(cmd.OutOrStdout())
	w.SetStyle(table.StyleRounded)
	w.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("FIELD"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("VALUE"),
	})
	w.AppendRow(table.Row{"id", t.ID})
	w.AppendRow(table.Row{"scenario_id", t.ScenarioID})
	w.AppendRow(table.Row{"service", t.Service})
	w.AppendRow(table.Row{"name", t.Name})
	w.AppendRow(table.Row{"status", statusColor(t.Status).Sprint(t.Status)})
	w.AppendRow(table.Row{"pending_count", t.PendingCount})
	w.AppendRow(table.Row{"consumers", fmt.Sprintf("%v", t.Consumers)})
	if t.Prompt != "" {
		w.AppendRow(table.Row{"prompt", pkgstrings.TruncateOneLine(t.Prompt, pkgstrings.DefaultPromptMaxLen)})
	}
	if t.ResultRef != "" {
		w.AppendRow(table.Row{"result_ref", t.ResultRef})
	}
	if t.Error != "" {
		w.AppendRow(table.Row{"error", text.Colors{text.FgHiRed}.Sprint(pkgstrings.TruncateOneLine(t.Error, pkgstrings.DefaultPromptMaxLen))})
	}
	w.AppendRow(table.Row{"created_at", t.CreatedAt.Format("2006-01-02T15:04:05Z07:00")})
	w.AppendRow(table.Row{"updated_at", t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")})
	w.Render()
	return nil
}

func statusColor(s task.Status) text.Colors {
	switch s {
	case task.StatusSuccess:
		return text.Colors{text.FgHiGreen, text.Bold}
	case task.StatusFailed:
		return text.Colors{text.FgHiRed, text.Bold}
	case task.StatusProcessing:
		return text.Colors{text.FgHiYellow, text.Bold}
	case task.StatusQueued:
		return text.Colors{text.FgHiCyan, text.Bold}
	default:
		return text.Colors{text.FgWhite}
	}
}
