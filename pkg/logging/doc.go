// Package logging provides the subsystem-tagged structured logging used by
// every orchestrator component, built directly on log/slog.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("Expander", "expanded scenario %s into %d tasks", scenarioID, len(tasks))
//	logging.Error("Dispatcher", err, "succeed(%s) failed", taskID)
//	logging.Audit(logging.AuditEvent{Action: "submit_scenario", Outcome: "success", ScenarioID: scenarioID})
//
// Every call site names a subsystem (e.g. "Expander", "Publisher",
// "Dispatcher", "Janitor", "Store") so operators can filter the log by
// component. There is no TUI mode: every process built from this module
// (cobra commands, the `serve` worker-protocol server, the janitor) is either
// a one-shot command or a headless process with a single log output stream.
// Init selects text or JSON output for that stream; InitForCLI is the
// text-only shorthand.
package logging
