package scenario

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/store"
	"github.com/giantswarm/muster-scenario-core/internal/task"
)

func newTestStore() *store.MemStore {
	m := store.NewMemStore()
	RegisterScripts(m)
	return m
}

func diamondDoc() *Document {
	return &Document{
		Name: "diamond",
		Tasks: []TaskTemplate{
			{Label: "a", Service: "svc", Name: "A"},
			{Label: "b", Service: "svc", Name: "B", InputRefs: map[string]interface{}{"a_id": "a"}},
			{Label: "c", Service: "svc", Name: "C", InputRefs: map[string]interface{}{"a_id": "a"}},
			{
				Label: "d", Service: "svc", Name: "D",
				InputRefs: map[string]interface{}{"b_id": "b", "c_id": "c"},
			},
		},
	}
}

func publishDiamond(t *testing.T, s store.Store, scenarioID string) map[string]task.Task {
	t.Helper()
	exp, err := newExpander().Expand(diamondDoc(), "v1", scenarioID, nil)
	require.NoError(t, err)
	require.NoError(t, NewPublisher(s).Publish(context.Background(), exp))

	byName := map[string]task.Task{}
	for _, tk := range exp.Tasks {
		byName[tk.Name] = tk
	}
	return byName
}

// TestDiamond_ConcurrentSucceed_EnqueuesDOnce: succeed(B) and succeed(C)
// racing must enqueue D exactly once regardless of interleaving.
func TestDiamond_ConcurrentSucceed_EnqueuesDOnce(t *testing.T) {
	s := newTestStore()
	byName := publishDiamond(t, s, "scn-diamond")
	ctx := context.Background()
	disp := NewDispatcher(s)

	claimed, ok, err := disp.Claim(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byName["A"].ID, claimed.ID)
	require.NoError(t, disp.Succeed(ctx, byName["A"].ID, "out/a"))

	// B and C are now both QUEUED; claim both before racing their succeeds.
	cb, ok, err := disp.Claim(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	cc, ok, err := disp.Claim(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- disp.Succeed(ctx, cb.ID, "out/b")
	}()
	go func() {
		defer wg.Done()
		errs <- disp.Succeed(ctx, cc.ID, "out/c")
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	depth, err := NewQuery(s).QueueDepth(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth, "D must be enqueued exactly once")

	d, err := NewQuery(s).GetTask(ctx, byName["D"].ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, d.Status)
	assert.Equal(t, 0, d.PendingCount)
}

func TestSucceed_TwiceFailsIdempotently(t *testing.T) {
	s := newTestStore()
	byName := publishDiamond(t, s, "scn-idempotent")
	ctx := context.Background()
	disp := NewDispatcher(s)

	_, ok, err := disp.Claim(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, disp.Succeed(ctx, byName["A"].ID, "out/a"))
	err = disp.Succeed(ctx, byName["A"].ID, "out/a-again")
	require.Error(t, err)
	assert.True(t, apierrors.IsInvalidTransition(err))
}

func TestFail_DoesNotCascade(t *testing.T) {
	// A failed middle task leaves downstream PENDING with its pending_count
	// untouched; the scenario is reported stuck.
	s := newTestStore()
	doc := &Document{
		Name: "linear-three",
		Tasks: []TaskTemplate{
			{Label: "a", Service: "svc", Name: "A"},
			{Label: "b", Service: "svc", Name: "B", InputRefs: map[string]interface{}{"a_id": "a"}},
			{Label: "c", Service: "svc", Name: "C", InputRefs: map[string]interface{}{"b_id": "b"}},
		},
	}
	exp, err := newExpander().Expand(doc, "v1", "scn-fail", nil)
	require.NoError(t, err)
	require.NoError(t, NewPublisher(s).Publish(context.Background(), exp))

	byName := map[string]task.Task{}
	for _, tk := range exp.Tasks {
		byName[tk.Name] = tk
	}

	ctx := context.Background()
	disp := NewDispatcher(s)
	q := NewQuery(s)

	claimed, ok, err := disp.Claim(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, disp.Succeed(ctx, claimed.ID, "out/a"))

	claimedB, ok, err := disp.Claim(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, disp.Fail(ctx, claimedB.ID, "model timeout"))

	c, err := q.GetTask(ctx, byName["C"].ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, c.Status)
	assert.Equal(t, 1, c.PendingCount)

	progress, err := q.GetScenario(ctx, "scn-fail")
	require.NoError(t, err)
	assert.True(t, progress.Stuck)
}

func TestClaim_DropsStaleRequeue(t *testing.T) {
	s := newTestStore()
	byName := publishDiamond(t, s, "scn-stale")
	ctx := context.Background()
	disp := NewDispatcher(s)

	claimed, ok, err := disp.Claim(ctx, "svc", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byName["A"].ID, claimed.ID)

	// Simulate a crashed worker's re-enqueue racing a legitimate claim: push
	// the already-PROCESSING id back onto the queue.
	require.NoError(t, s.RPush(ctx, queueKey("svc"), claimed.ID))
	// Nothing else is ready yet, so the only poppable id is the stale one;
	// Claim must drop it and report no task available within the timeout.
	_, ok, err = disp.Claim(ctx, "svc", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}
