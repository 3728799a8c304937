package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/store"
	"github.com/giantswarm/muster-scenario-core/internal/task"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// Dispatcher is the worker-facing protocol: claim a task off a service
// queue, transition it through PROCESSING, and on succeed run the consumer
// fan-out that makes downstream tasks eligible. It is also the status
// controller: apart from the Publisher's initial PENDING -> QUEUED for tasks
// with no upstream, every status mutation in this module happens inside
// Claim, Succeed, Fail, or ReclaimStuck, and anything else fails
// INVALID_TRANSITION.
type Dispatcher struct {
	store store.Store
	subs  []chan<- FanOutEvent
}

// FanOutEvent is published whenever a Succeed call enqueues at least one
// downstream task, letting an in-process observer (e.g. a metrics
// exporter) react without polling the store. A slow
// subscriber loses events rather than blocking the dispatch path.
type FanOutEvent struct {
	UpstreamTaskID string
	Enqueued       []string
	Timestamp      time.Time
}

// NewDispatcher returns a Dispatcher backed by s.
func NewDispatcher(s store.Store) *Dispatcher {
	return &Dispatcher{store: s}
}

// Subscribe registers a channel that receives every FanOutEvent produced by
// Succeed from this point on. The returned channel is buffered; callers that
// don't want to miss events must keep it drained.
func (d *Dispatcher) Subscribe() <-chan FanOutEvent {
	ch := make(chan FanOutEvent, 64)
	d.subs = append(d.subs, ch)
	return ch
}

func (d *Dispatcher) publish(event FanOutEvent) {
	for _, ch := range d.subs {
		select {
		case ch <- event:
		default:
			logging.Warn("Dispatcher", "dropping fan-out event for subscriber: channel full")
		}
	}
}

// Claim performs a blocking pop from service's queue (up to timeout) and
// atomically transitions the returned task QUEUED -> PROCESSING. If the
// popped id turns out to be stale (status is no longer QUEUED, a late
// artefact of a crashed worker's re-enqueue), it is silently dropped and the
// next id is claimed instead; dispatch is at-least-once and workers must be
// idempotent by task id. Returns ok=false if timeout elapses with nothing
// claimable.
func (d *Dispatcher) Claim(ctx context.Context, service string, timeout time.Duration) (task.Task, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return task.Task{}, false, nil
			}
		}

		_, id, ok, err := d.store.BLPop(ctx, []string{queueKey(service)}, remaining)
		if err != nil {
			return task.Task{}, false, apierrors.NewStoreUnavailableError(err)
		}
		if !ok {
			return task.Task{}, false, nil
		}

		now := time.Now()
		result, err := d.store.RunScript(ctx, claimTransitionScript,
			[]string{taskKey(id), processingIndexKey()},
			[]string{now.Format(time.RFC3339Nano), id})
		if err != nil {
			return task.Task{}, false, apierrors.NewStoreUnavailableError(err)
		}
		if len(result) == 0 || result[0] == "STALE" {
			logging.Warn("Dispatcher", "dropping stale claim for task %s (not QUEUED)", id)
			continue
		}

		fields, ok, err := d.store.HashGetAll(ctx, taskKey(id))
		if err != nil {
			return task.Task{}, false, apierrors.NewStoreUnavailableError(err)
		}
		if !ok {
			return task.Task{}, false, apierrors.NewUnknownTaskError(id)
		}
		t, err := decodeTask(fields)
		if err != nil {
			return task.Task{}, false, fmt.Errorf("decoding claimed task %s: %w", id, err)
		}
		logging.Info("Dispatcher", "claimed task %s (service=%s)", id, service)
		return t, true, nil
	}
}

// Succeed is the central fan-out operation: transition taskID to SUCCESS,
// then decrement every consumer's pending_count and enqueue any that reach
// zero. The whole operation runs as a single RunScript call so concurrent
// Succeed calls on siblings of the same downstream task cannot lose a
// wake-up: whichever call observes the count reach zero performs the
// enqueue.
func (d *Dispatcher) Succeed(ctx context.Context, taskID, resultRef string) error {
	now := time.Now().Format(time.RFC3339Nano)
	result, err := d.store.RunScript(ctx, succeedScript,
		[]string{taskKey(taskID), processingIndexKey()},
		[]string{taskID, resultRef, now})
	if err != nil {
		return apierrors.NewStoreUnavailableError(err)
	}
	if len(result) == 0 || result[0] != "OK" {
		return apierrors.NewInvalidTransitionError(taskID, "PROCESSING", "SUCCESS")
	}

	var enqueued []string
	if len(result) > 1 && result[1] != "" {
		if err := json.Unmarshal([]byte(result[1]), &enqueued); err != nil {
			return fmt.Errorf("decoding succeed fan-out result for %s: %w", taskID, err)
		}
	}

	logging.Audit(logging.AuditEvent{
		Action:  "succeed",
		Outcome: "success",
		TaskID:  taskID,
		Details: fmt.Sprintf("result_ref=%s enqueued=%d", resultRef, len(enqueued)),
	})
	if len(enqueued) > 0 {
		d.publish(FanOutEvent{UpstreamTaskID: taskID, Enqueued: enqueued, Timestamp: time.Now()})
	}
	return nil
}

// ReclaimStuck is the Janitor's sweep primitive: any task that has been
// PROCESSING for longer than timeout is transitioned to FAILED with a
// synthetic timeout error, on the assumption its worker crashed or was
// killed mid-processing without reporting succeed/fail. Failure never
// cascades: consumers are left untouched, and an operator may resubmit or
// repair and replay. Returns the number of tasks actually reclaimed.
func (d *Dispatcher) ReclaimStuck(ctx context.Context, timeout time.Duration) (int, error) {
	index, ok, err := d.store.HashGetAll(ctx, processingIndexKey())
	if err != nil {
		return 0, apierrors.NewStoreUnavailableError(err)
	}
	if !ok {
		return 0, nil
	}

	now := time.Now()
	reclaimed := 0
	for id, claimedAtStr := range index {
		claimedAt, err := time.Parse(time.RFC3339Nano, claimedAtStr)
		if err != nil {
			logging.Warn("Dispatcher", "processing index has unparseable timestamp for %s: %v", id, err)
			continue
		}
		if now.Sub(claimedAt) < timeout {
			continue
		}

		result, err := d.store.RunScript(ctx, reclaimScript,
			[]string{taskKey(id), processingIndexKey()},
			[]string{id, now.Format(time.RFC3339Nano), reclaimErrMsg})
		if err != nil {
			return reclaimed, apierrors.NewStoreUnavailableError(err)
		}
		if len(result) > 0 && result[0] == "OK" {
			reclaimed++
			logging.Audit(logging.AuditEvent{
				Action: "janitor_reclaim", Outcome: "success", TaskID: id,
				Details: fmt.Sprintf("stuck in PROCESSING since %s", claimedAtStr),
			})
		}
	}
	return reclaimed, nil
}

// Fail sets taskID's status to FAILED with the given error. Failure does not
// cascade: downstream tasks are left untouched, still PENDING with their
// pending_count intact.
func (d *Dispatcher) Fail(ctx context.Context, taskID, errMsg string) error {
	now := time.Now().Format(time.RFC3339Nano)
	result, err := d.store.RunScript(ctx, failScript,
		[]string{taskKey(taskID), processingIndexKey()},
		[]string{taskID, errMsg, now})
	if err != nil {
		return apierrors.NewStoreUnavailableError(err)
	}
	if len(result) == 0 || result[0] != "OK" {
		return apierrors.NewInvalidTransitionError(taskID, "PROCESSING", "FAILED")
	}
	logging.Audit(logging.AuditEvent{Action: "fail", Outcome: "success", TaskID: taskID, Details: errMsg})
	return nil
}
