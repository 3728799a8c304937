package scenario

import (
	"context"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/store"
	"github.com/giantswarm/muster-scenario-core/internal/task"
)

// Query is the read-only side of the API: task/scenario lookups and queue
// depth reporting. These reads are not linearised against ongoing
// transitions; callers tolerate a slightly stale view.
type Query struct {
	store store.Store
}

// NewQuery returns a Query backed by s.
func NewQuery(s store.Store) *Query {
	return &Query{store: s}
}

// GetTask returns the full record for id.
func (q *Query) GetTask(ctx context.Context, id string) (task.Task, error) {
	fields, ok, err := q.store.HashGetAll(ctx, taskKey(id))
	if err != nil {
		return task.Task{}, apierrors.NewStoreUnavailableError(err)
	}
	if !ok {
		return task.Task{}, apierrors.NewUnknownTaskError(id)
	}
	return decodeTask(fields)
}

// GetScenario returns the scenario record and a per-status summary of its
// tasks, including whether the scenario's progress is stuck
// (a failed task with no remaining queued or processing work).
func (q *Query) GetScenario(ctx context.Context, id string) (task.ScenarioProgress, error) {
	fields, ok, err := q.store.HashGetAll(ctx, scenarioKey(id))
	if err != nil {
		return task.ScenarioProgress{}, apierrors.NewStoreUnavailableError(err)
	}
	if !ok {
		return task.ScenarioProgress{}, apierrors.NewUnknownScenarioError(id)
	}
	scn, err := decodeScenario(fields)
	if err != nil {
		return task.ScenarioProgress{}, err
	}

	var counts task.StatusCounts
	for _, id := range scn.TaskIDs {
		t, err := q.GetTask(ctx, id)
		if err != nil {
			if apierrors.IsUnknownTask(err) {
				continue
			}
			return task.ScenarioProgress{}, err
		}
		switch t.Status {
		case task.StatusPending:
			counts.Pending++
		case task.StatusQueued:
			counts.Queued++
		case task.StatusProcessing:
			counts.Processing++
		case task.StatusSuccess:
			counts.Success++
		case task.StatusFailed:
			counts.Failed++
		}
	}

	return task.ScenarioProgress{Scenario: scn, Counts: counts, Stuck: counts.Stuck()}, nil
}

// QueueDepth reports the current length of service's queue.
func (q *Query) QueueDepth(ctx context.Context, service string) (int64, error) {
	n, err := q.store.LLen(ctx, queueKey(service))
	if err != nil {
		return 0, apierrors.NewStoreUnavailableError(err)
	}
	return n, nil
}
