package scenario

// Document is a parsed scenario template: the textual format described in
// the external interfaces — a name, a variables section with defaults, and
// an ordered list of task templates. Documents are loaded from YAML by
// internal/config and handed to the Expander unchanged.
type Document struct {
	Name      string                 `yaml:"name"`
	Version   string                 `yaml:"version,omitempty"`
	Variables map[string]interface{} `yaml:"variables"`
	Tasks     []TaskTemplate         `yaml:"tasks"`
}

// TaskTemplate is one entry of a Document's tasks list before expansion.
//
// Label is the stable, template-scoped name other task templates use to
// refer to this one (in InputRefs values); it is never a rendered
// expression. ID, if set, lets an author pin an explicit {{ UUID ... }} /
// {{ SHORT_UUID ... }} expression instead of letting the Expander derive one
// from Label — most templates leave it empty and let the Expander assign
// `SHORT_UUID(label)` (or `SHORT_UUID(label + "." + n)` for a replica)
// automatically.
//
// InputRefs values are Label references, not ids: a scalar field (name not
// ending in "_ids", e.g. text_task_id, voice_track_id, slide_prompt_id)
// resolves to a single task id; a list field (name ending in "_ids", e.g.
// slide_ids) resolves to the referenced label's full alias list. Both kinds
// of value may themselves be `{{ }}` variable expressions (e.g. a label
// built from a parameter), rendered before resolution.
type TaskTemplate struct {
	Label     string                 `yaml:"label"`
	ID        string                 `yaml:"id,omitempty"`
	Service   string                 `yaml:"service"`
	Name      string                 `yaml:"name"`
	Count     string                 `yaml:"count,omitempty"`
	Prompt    string                 `yaml:"prompt,omitempty"`
	Params    map[string]interface{} `yaml:"params,omitempty"`
	InputRefs map[string]interface{} `yaml:"input_refs,omitempty"`
}
