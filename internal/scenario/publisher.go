package scenario

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/store"
	"github.com/giantswarm/muster-scenario-core/internal/task"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// Publisher writes an Expansion to the Store as one atomic batch: every
// task:{id} hash, the scenario:{id} index, and the initial queue pushes for
// every task whose pending_count is already 0. It is the only writer that
// ever creates a task or scenario record.
type Publisher struct {
	store store.Store
}

// NewPublisher returns a Publisher backed by s.
func NewPublisher(s store.Store) *Publisher {
	return &Publisher{store: s}
}

// Publish persists exp atomically. Readers must never observe a scenario
// index whose tasks are partially written; the single RunScript call below
// is the mechanism that guarantees that.
func (p *Publisher) Publish(ctx context.Context, exp *Expansion) error {
	payload := publishPayload{
		ScenarioKey: scenarioKey(exp.Scenario.ScenarioID),
		Scenario:    encodeScenario(exp.Scenario),
		Tasks:       make([]publishTaskEntry, 0, len(exp.Tasks)),
	}

	keys := []string{payload.ScenarioKey}
	for _, t := range exp.Tasks {
		fields := encodeTask(t)
		ready := t.PendingCount == 0 && t.Status == task.StatusPending
		if ready {
			fields["status"] = string(task.StatusQueued)
		}
		payload.Tasks = append(payload.Tasks, publishTaskEntry{
			Key:     taskKey(t.ID),
			ID:      t.ID,
			Service: t.Service,
			Ready:   ready,
			Fields:  fields,
		})
		keys = append(keys, taskKey(t.ID), queueKey(t.Service))
	}

	argsJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding publish payload: %w", err)
	}

	result, err := p.store.RunScript(ctx, publishScript, keys, []string{string(argsJSON)})
	if err != nil {
		return apierrors.NewStoreUnavailableError(err)
	}
	if len(result) == 0 || result[0] != "OK" {
		return apierrors.NewStoreUnavailableError(fmt.Errorf("unexpected publish result: %v", result))
	}

	readyCount := 0
	for _, t := range payload.Tasks {
		if t.Ready {
			readyCount++
		}
	}
	logging.Audit(logging.AuditEvent{
		Action:     "submit_scenario",
		Outcome:    "success",
		ScenarioID: exp.Scenario.ScenarioID,
		Details:    fmt.Sprintf("template=%s tasks=%d ready=%d", exp.Scenario.TemplateName, len(exp.Tasks), readyCount),
	})
	return nil
}
