package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/task"
	"github.com/giantswarm/muster-scenario-core/internal/template"
)

func newExpander() *Expander {
	return NewExpander(template.New())
}

func TestExpand_LinearChain(t *testing.T) {
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
	require.Len(t, exp.Tasks, 2)

	byLabelService := map[string]task.Task{}
	for _, tk := range exp.Tasks {
		byLabelService[tk.Service] = tk
	}

	text := byLabelService["text-service"]
	voice := byLabelService["audio-service"]

	assert.Equal(t, 0, text.PendingCount)
	assert.Equal(t, task.StatusPending, text.Status)
	assert.Equal(t, []string{voice.ID}, text.Consumers)

	assert.Equal(t, 1, voice.PendingCount)
	assert.Equal(t, text.ID, voice.InputRefs["text_task_id"])
}

func fanOutFanInDoc() *Document {
	return &Document{
		Name: "fan-out-fan-in",
		Tasks: []TaskTemplate{
			{Label: "create_text", Service: "text-service", Name: "CreateText"},
			{
				Label: "create_voice", Service: "audio-service", Name: "CreateVoice",
				InputRefs: map[string]interface{}{"text_task_id": "create_text"},
			},
			{
				Label: "create_slide_prompt", Service: "text-service", Name: "CreateSlidePrompt", Count: "3",
				InputRefs: map[string]interface{}{"text_task_id": "create_text"},
			},
			{
				Label: "create_slide", Service: "image-service", Name: "CreateSlide", Count: "3",
				InputRefs: map[string]interface{}{"slide_prompt_id": "create_slide_prompt"},
			},
			{
				Label: "create_video", Service: "video-service", Name: "CreateVideo",
				InputRefs: map[string]interface{}{
					"slide_ids":     "create_slide",
					"voice_track_id": "create_voice",
				},
			},
		},
	}
}

func TestExpand_FanOutFanIn(t *testing.T) {
	exp, err := newExpander().Expand(fanOutFanInDoc(), "v1", "scn-b", nil)
	require.NoError(t, err)
	require.Len(t, exp.Tasks, 9)

	var text, voice, video task.Task
	var slidePrompts, slides []task.Task
	for _, tk := range exp.Tasks {
		switch tk.Name {
		case "CreateText":
			text = tk
		case "CreateVoice":
			voice = tk
		case "CreateVideo":
			video = tk
		case "CreateSlidePrompt":
			slidePrompts = append(slidePrompts, tk)
		case "CreateSlide":
			slides = append(slides, tk)
		}
	}

	require.Len(t, slidePrompts, 3)
	require.Len(t, slides, 3)

	assert.Equal(t, 0, text.PendingCount)
	for _, sp := range slidePrompts {
		assert.Equal(t, 1, sp.PendingCount)
		assert.Equal(t, text.ID, sp.InputRefs["text_task_id"])
	}
	for _, s := range slides {
		assert.Equal(t, 1, s.PendingCount)
	}
	assert.Equal(t, 4, video.PendingCount)

	slideIDs, ok := video.InputRefs["slide_ids"].([]interface{})
	require.True(t, ok)
	assert.Len(t, slideIDs, 3)
	assert.Equal(t, voice.ID, video.InputRefs["voice_track_id"])
}

// A reference to a count=0 label fails DANGLING_REFERENCE and nothing is
// persisted (Expand returns an error before Publish is ever called).
func TestExpand_MultiplierZero_DanglingReference(t *testing.T) {
	doc := &Document{
		Name: "zero-multiplier",
		Tasks: []TaskTemplate{
			{Label: "create_slide_prompt", Service: "text-service", Name: "CreateSlidePrompt", Count: "0"},
			{
				Label: "create_slide", Service: "image-service", Name: "CreateSlide",
				InputRefs: map[string]interface{}{"slide_prompt_id": "create_slide_prompt"},
			},
		},
	}

	_, err := newExpander().Expand(doc, "v1", "scn-c", nil)
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.KindDanglingReference))
}

func TestExpand_Cycle_Rejected(t *testing.T) {
	doc := &Document{
		Name: "cyclic",
		Tasks: []TaskTemplate{
			{
				Label: "a", Service: "text-service", Name: "A",
				InputRefs: map[string]interface{}{"b_id": "b"},
			},
			{
				Label: "b", Service: "text-service", Name: "B",
				InputRefs: map[string]interface{}{"a_id": "a"},
			},
		},
	}

	_, err := newExpander().Expand(doc, "v1", "scn-d", nil)
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.KindCyclicTemplate))
}

// A template with several broken references reports every one of them in a
// single ValidationErrorCollection, not just the first found.
func TestExpand_ReportsAllValidationErrors(t *testing.T) {
	doc := &Document{
		Name: "many-problems",
		Tasks: []TaskTemplate{
			{Label: "create_slide_prompt", Service: "text-service", Name: "CreateSlidePrompt", Count: "3"},
			{
				Label: "create_video", Service: "video-service", Name: "CreateVideo",
				InputRefs: map[string]interface{}{
					"voice_track_id":  "create_voice",
					"text_task_id":    "create_text",
					"slide_prompt_id": "create_slide_prompt",
				},
			},
		},
	}

	_, err := newExpander().Expand(doc, "v1", "scn-many", nil)
	require.Error(t, err)

	var collection *apierrors.ValidationErrorCollection
	require.ErrorAs(t, err, &collection)
	require.Equal(t, 3, collection.Count())

	grouped := collection.ByKind()
	assert.Len(t, grouped[apierrors.KindDanglingReference], 2)
	assert.Len(t, grouped[apierrors.KindAmbiguousReference], 1)
}

func TestExpand_AmbiguousReference(t *testing.T) {
	doc := &Document{
		Name: "ambiguous",
		Tasks: []TaskTemplate{
			{Label: "create_slide_prompt", Service: "text-service", Name: "CreateSlidePrompt", Count: "3"},
			{
				Label: "create_video", Service: "video-service", Name: "CreateVideo",
				InputRefs: map[string]interface{}{"slide_prompt_id": "create_slide_prompt"},
			},
		},
	}

	_, err := newExpander().Expand(doc, "v1", "scn-e", nil)
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.KindAmbiguousReference))
}

func TestExpand_VariableSubstitution(t *testing.T) {
	doc := &Document{
		Name:      "parameterised",
		Variables: map[string]interface{}{"model": "default-model"},
		Tasks: []TaskTemplate{
			{
				Label: "create_text", Service: "text-service", Name: "CreateText",
				Prompt: "{{ prompt }}",
				Params: map[string]interface{}{"model": "{{ model }}"},
			},
		},
	}

	exp, err := newExpander().Expand(doc, "v1", "scn-f", map[string]interface{}{"prompt": "a story about a fox"})
	require.NoError(t, err)
	require.Len(t, exp.Tasks, 1)
	assert.Equal(t, "a story about a fox", exp.Tasks[0].Prompt)
	assert.Equal(t, "default-model", exp.Tasks[0].Params["model"])
}

func TestExpand_StableAcrossCallsSameScenario(t *testing.T) {
	doc := &Document{
		Name: "stable-ids",
		Tasks: []TaskTemplate{
			{Label: "create_text", Service: "text-service", Name: "CreateText"},
		},
	}
	e := newExpander()
	a, err := e.Expand(doc, "v1", "scn-stable", nil)
	require.NoError(t, err)
	b, err := e.Expand(doc, "v1", "scn-stable", nil)
	require.NoError(t, err)
	assert.Equal(t, a.Tasks[0].ID, b.Tasks[0].ID)

	c, err := e.Expand(doc, "v1", "scn-other", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Tasks[0].ID, c.Tasks[0].ID)
}
