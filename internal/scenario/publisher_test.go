package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/muster-scenario-core/internal/task"
)

// Linear chain end-to-end: publish, expect queue:text-service to hold
// CreateText's id and CreateVoice.pending_count == 1; succeed CreateText and
// expect CreateVoice to become QUEUED on queue:audio-service.
func TestPublishAndDispatch_LinearChainEndToEnd(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc := &Document{
		Name: "linear-chain",
		Tasks: []TaskTemplate{
			{Label: "create_text", Service: "text-service", Name: "CreateText"},
			{
				Label: "create_voice", Service: "audio-service", Name: "CreateVoice",
				InputRefs: map[string]interface{}{"text_task_id": "create_text"},
			},
		},
	}
	exp, err := newExpander().Expand(doc, "v1", "scn-a", nil)
	require.NoError(t, err)
	require.NoError(t, NewPublisher(s).Publish(ctx, exp))

	var textID, voiceID string
	for _, tk := range exp.Tasks {
		switch tk.Name {
		case "CreateText":
			textID = tk.ID
		case "CreateVoice":
			voiceID = tk.ID
		}
	}

	q := NewQuery(s)
	textDepth, err := q.QueueDepth(ctx, "text-service")
	require.NoError(t, err)
	assert.Equal(t, int64(1), textDepth)

	voice, err := q.GetTask(ctx, voiceID)
	require.NoError(t, err)
	assert.Equal(t, 1, voice.PendingCount)
	assert.Equal(t, task.StatusPending, voice.Status)

	disp := NewDispatcher(s)
	claimed, ok, err := disp.Claim(ctx, "text-service", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, textID, claimed.ID)

	require.NoError(t, disp.Succeed(ctx, textID, "out/text/a.txt"))

	voice, err = q.GetTask(ctx, voiceID)
	require.NoError(t, err)
	assert.Equal(t, 0, voice.PendingCount)
	assert.Equal(t, task.StatusQueued, voice.Status)

	audioDepth, err := q.QueueDepth(ctx, "audio-service")
	require.NoError(t, err)
	assert.Equal(t, int64(1), audioDepth)
}

// Publishing a scenario then reading its tasks back yields records
// equivalent to what was expanded (ignoring the
// PENDING->QUEUED transition the publisher itself performs for ready tasks).
func TestPublish_RoundTripsTaskFields(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc := &Document{
		Name: "round-trip",
		Tasks: []TaskTemplate{
			{
				Label: "create_text", Service: "text-service", Name: "CreateText",
				Prompt: "a story", Params: map[string]interface{}{"model": "gpt-4"},
			},
		},
	}
	exp, err := newExpander().Expand(doc, "v1", "scn-roundtrip", nil)
	require.NoError(t, err)
	require.NoError(t, NewPublisher(s).Publish(ctx, exp))

	got, err := NewQuery(s).GetTask(ctx, exp.Tasks[0].ID)
	require.NoError(t, err)

	want := exp.Tasks[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Service, got.Service)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Prompt, got.Prompt)
	assert.Equal(t, want.Params, got.Params)
	assert.Equal(t, want.ScenarioID, got.ScenarioID)
	// The publisher transitions a ready task PENDING -> QUEUED; the expander
	// itself leaves every task PENDING.
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestGetScenario_UnknownReturnsError(t *testing.T) {
	s := newTestStore()
	_, err := NewQuery(s).GetScenario(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestGetTask_UnknownReturnsError(t *testing.T) {
	s := newTestStore()
	_, err := NewQuery(s).GetTask(context.Background(), "does-not-exist")
	require.Error(t, err)
}
