package scenario

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/graph"
	"github.com/giantswarm/muster-scenario-core/internal/task"
	"github.com/giantswarm/muster-scenario-core/internal/template"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// maxIDCollisionRetries bounds the salted-retry loop when two labels hash to
// the same id. A real collision under SHA1-derived ids is effectively
// impossible, so this only guards against a pathological template reusing
// the same label twice.
const maxIDCollisionRetries = 5

// Expansion is the output of expanding one (template, parameters) pair: a
// materialised task list plus the owning scenario record, ready for
// publication.
type Expansion struct {
	Scenario task.Scenario
	Tasks    []task.Task
}

// Expander turns a parsed Document and caller parameters into an Expansion.
// The steps run in a fixed order: substitute, multiply, alias, rewrite
// references, compute edges, check for cycles, validate. Each validation
// pass reports every problem it finds as one ValidationErrorCollection, not
// just the first, so a submitter can fix a template in one round.
type Expander struct {
	engine          *template.Engine
	allowedServices map[string]bool
}

// NewExpander returns an Expander backed by the given template engine.
func NewExpander(engine *template.Engine) *Expander {
	return &Expander{engine: engine}
}

// restrictServices limits expansion to the given worker service names; a
// template naming any other service fails INVALID_TEMPLATE. An empty list
// (the default) accepts any service name.
func (e *Expander) restrictServices(names []string) {
	if len(names) == 0 {
		e.allowedServices = nil
		return
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	e.allowedServices = m
}

// replica is one materialised copy of a TaskTemplate.
type replica struct {
	tmpl  *TaskTemplate
	index int // 1-based; 1 when the template was not multiplied
	count int // the template's rendered count (0, 1, or k)
	id    string
}

// Expand materialises doc against parameters into a full
// task graph scoped to scenarioID. Nothing is persisted here; see Publisher
// for the atomic write.
func (e *Expander) Expand(doc *Document, templateVersion string, scenarioID string, parameters map[string]interface{}) (*Expansion, error) {
	vars := mergeVariables(doc.Variables, parameters)
	ctx := template.NewContext(scenarioID, vars)

	replicas, aliasTable, err := e.multiply(doc, ctx)
	if err != nil {
		return nil, err
	}

	tasks, idSet, err := e.materialise(doc, ctx, replicas)
	if err != nil {
		return nil, err
	}

	if err := e.rewriteReferences(tasks, replicas, aliasTable, ctx); err != nil {
		return nil, err
	}

	if err := computeEdgesAndCheckCycles(tasks, doc.Name); err != nil {
		return nil, err
	}

	if err := validateAllReferencesResolved(tasks, idSet, doc.Name); err != nil {
		return nil, err
	}

	taskIDs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		taskIDs = append(taskIDs, t.ID)
	}

	now := time.Now()
	scn := task.Scenario{
		ScenarioID:      scenarioID,
		TemplateName:    doc.Name,
		TemplateVersion: templateVersion,
		TaskIDs:         taskIDs,
		CreatedAt:       now,
	}
	for i := range tasks {
		tasks[i].CreatedAt = now
		tasks[i].UpdatedAt = now
		tasks[i].ScenarioID = scenarioID
		tasks[i].Status = task.StatusPending
	}

	logging.Info("Expander", "expanded scenario %s (template %s) into %d tasks", scenarioID, doc.Name, len(tasks))
	return &Expansion{Scenario: scn, Tasks: tasks}, nil
}

func mergeVariables(defaults, overrides map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// multiply renders each task template's count expression and builds the
// alias table mapping a label to its ordered list of replica ids. IDs are
// assigned here, with the salted-retry collision fallback, since the alias
// table needs final ids before reference rewriting can run.
func (e *Expander) multiply(doc *Document, ctx *template.Context) ([]replica, map[string][]string, error) {
	aliasTable := make(map[string][]string)
	usedIDs := make(map[string]bool)
	var replicas []replica
	errs := apierrors.NewValidationErrorCollection()

	for ti := range doc.Tasks {
		t := &doc.Tasks[ti]
		label, err := e.engine.RenderString(t.Label, ctx)
		if err != nil {
			errs.Add(apierrors.NewInvalidTemplateError(doc.Name, fmt.Sprintf("rendering label %q: %v", t.Label, err)))
			continue
		}
		if label == "" {
			errs.Add(apierrors.NewInvalidTemplateError(doc.Name, "task template is missing a label"))
			continue
		}

		count := 1
		if t.Count != "" {
			count, err = e.engine.RenderCount(t.Count, ctx)
			if err != nil {
				errs.Add(apierrors.NewInvalidTemplateError(doc.Name, fmt.Sprintf("rendering count for %q: %v", label, err)))
				continue
			}
		}

		ids := make([]string, 0, count)
		for n := 1; n <= count; n++ {
			idLabel := label
			if count > 1 {
				idLabel = fmt.Sprintf("%s.%d", label, n)
			}
			id, oerr := e.assignID(t, idLabel, ctx, usedIDs)
			if oerr != nil {
				errs.Add(oerr)
				continue
			}
			usedIDs[id] = true
			ids = append(ids, id)
			replicas = append(replicas, replica{tmpl: t, index: n, count: count, id: id})
		}
		aliasTable[label] = ids
	}

	if errs.HasErrors() {
		return nil, nil, errs
	}
	return replicas, aliasTable, nil
}

// assignID resolves one materialised task's id: an explicit {{ }} expression
// in TaskTemplate.ID if present, otherwise SHORT_UUID(idLabel). Retries with
// a salted label on collision, failing ID_COLLISION once retries run out.
func (e *Expander) assignID(t *TaskTemplate, idLabel string, ctx *template.Context, usedIDs map[string]bool) (string, *apierrors.OrchestratorError) {
	base := idLabel
	for attempt := 0; attempt <= maxIDCollisionRetries; attempt++ {
		salted := base
		if attempt > 0 {
			salted = fmt.Sprintf("%s#%d", base, attempt)
		}

		var id string
		if t.ID != "" {
			rendered, err := e.engine.RenderString(t.ID, ctx)
			if err != nil {
				return "", apierrors.NewInvalidTemplateError(t.Label, fmt.Sprintf("rendering id: %v", err))
			}
			if attempt == 0 {
				id = rendered
			} else {
				id = ctx.ShortUUID(salted)
			}
		} else {
			id = ctx.ShortUUID(salted)
		}

		if !usedIDs[id] {
			return id, nil
		}
	}
	return "", apierrors.NewIDCollisionError(base)
}

// materialise builds the concrete Task record for every replica: everything
// but resolved references, which rewriteReferences fills in afterwards.
func (e *Expander) materialise(doc *Document, ctx *template.Context, replicas []replica) ([]task.Task, map[string]bool, error) {
	tasks := make([]task.Task, 0, len(replicas))
	idSet := make(map[string]bool, len(replicas))
	errs := apierrors.NewValidationErrorCollection()

	for _, r := range replicas {
		service, err := e.engine.RenderString(r.tmpl.Service, ctx)
		if err != nil {
			errs.Add(apierrors.NewInvalidTemplateError(doc.Name, fmt.Sprintf("rendering service for %q: %v", r.tmpl.Label, err)))
			continue
		}
		if e.allowedServices != nil && !e.allowedServices[service] {
			errs.Add(apierrors.NewInvalidTemplateError(doc.Name, fmt.Sprintf("task %q names unrecognised service %q", r.tmpl.Label, service)))
			continue
		}
		name, err := e.engine.RenderString(r.tmpl.Name, ctx)
		if err != nil {
			errs.Add(apierrors.NewInvalidTemplateError(doc.Name, fmt.Sprintf("rendering name for %q: %v", r.tmpl.Label, err)))
			continue
		}
		prompt, err := e.engine.RenderString(r.tmpl.Prompt, ctx)
		if err != nil {
			errs.Add(apierrors.NewInvalidTemplateError(doc.Name, fmt.Sprintf("rendering prompt for %q: %v", r.tmpl.Label, err)))
			continue
		}
		params, err := e.renderValue(r.tmpl.Params, ctx)
		if err != nil {
			errs.Add(apierrors.NewInvalidTemplateError(doc.Name, fmt.Sprintf("rendering params for %q: %v", r.tmpl.Label, err)))
			continue
		}

		t := task.Task{
			ID:        r.id,
			Service:   service,
			Name:      name,
			Prompt:    prompt,
			Params:    asMap(params),
			InputRefs: make(map[string]interface{}),
			Consumers: []string{},
		}
		tasks = append(tasks, t)
		idSet[t.ID] = true
	}

	if errs.HasErrors() {
		return nil, nil, errs
	}
	return tasks, idSet, nil
}

func asMap(v interface{}) map[string]interface{} {
	if v == nil {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

// renderValue recursively renders {{ }} expressions inside strings, slices,
// and maps, leaving every other scalar type untouched.
func (e *Expander) renderValue(v interface{}, ctx *template.Context) (interface{}, error) {
	switch vv := v.(type) {
	case string:
		return e.engine.RenderString(vv, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, item := range vv {
			rendered, err := e.renderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, item := range vv {
			rendered, err := e.renderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// rewriteReferences resolves every input_refs value from a template label to
// concrete task ids: scalar fields resolve to a single id (requiring a
// matching replica index when the referenced label is itself multiplied),
// list fields resolve to the referenced label's full alias list.
func (e *Expander) rewriteReferences(tasks []task.Task, replicas []replica, aliasTable map[string][]string, ctx *template.Context) error {
	errs := apierrors.NewValidationErrorCollection()
	for i, r := range replicas {
		for field, raw := range r.tmpl.InputRefs {
			label, ok := raw.(string)
			if !ok {
				errs.Add(apierrors.NewInvalidTemplateError(r.tmpl.Label, fmt.Sprintf("input_refs.%s must be a label string", field)))
				continue
			}

			rendered, err := e.engine.RenderString(label, ctx)
			if err != nil {
				errs.Add(apierrors.NewInvalidTemplateError(r.tmpl.Label, fmt.Sprintf("rendering input_refs.%s: %v", field, err)))
				continue
			}

			aliasList, ok := aliasTable[rendered]
			if !ok || len(aliasList) == 0 {
				errs.Add(apierrors.NewDanglingReferenceError(rendered))
				continue
			}

			if isListField(field) {
				list := make([]interface{}, len(aliasList))
				for j, id := range aliasList {
					list[j] = id
				}
				tasks[i].InputRefs[field] = list
				continue
			}

			switch {
			case len(aliasList) == 1:
				tasks[i].InputRefs[field] = aliasList[0]
			case r.count == len(aliasList):
				tasks[i].InputRefs[field] = aliasList[r.index-1]
			default:
				errs.Add(apierrors.NewAmbiguousReferenceError(rendered, field))
			}
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// isListField applies the naming convention that distinguishes a list
// reference field (slide_ids) from a scalar one (slide_prompt_id,
// text_task_id, voice_track_id): the plural "_ids" suffix.
func isListField(field string) bool {
	return strings.HasSuffix(field, "_ids")
}

// computeEdgesAndCheckCycles collects each task's upstream set, sets
// pending_count, populates consumers, and rejects the expansion if the
// resulting graph has a cycle.
func computeEdgesAndCheckCycles(tasks []task.Task, templateName string) error {
	byID := make(map[string]int, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = i
	}

	g := graph.New()
	for _, t := range tasks {
		g.AddNode(t.ID)
	}

	for i := range tasks {
		upstream := upstreamIDs(tasks[i].InputRefs)
		tasks[i].PendingCount = len(upstream)
		for _, u := range upstream {
			if err := g.AddEdge(u, tasks[i].ID); err != nil {
				return apierrors.NewCyclicTemplateError(templateName)
			}
			if ui, ok := byID[u]; ok {
				tasks[ui].Consumers = append(tasks[ui].Consumers, tasks[i].ID)
			}
		}
	}

	// Fan-out enqueues consumers in stored order, so that order must be
	// deterministic; sort by id so the stored order does not depend on the
	// order in which tasks appear in the template.
	for i := range tasks {
		sort.Strings(tasks[i].Consumers)
	}
	return nil
}

// upstreamIDs collects the deduplicated set of task ids a task's input_refs
// reference, across both scalar and list fields.
func upstreamIDs(inputRefs map[string]interface{}) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, v := range inputRefs {
		switch vv := v.(type) {
		case string:
			add(vv)
		case []interface{}:
			for _, item := range vv {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// validateAllReferencesResolved checks that every id referenced by some
// task's input_refs exists among the materialised tasks. By construction
// this only fails if a bug elsewhere let an unknown id slip through
// rewriteReferences.
func validateAllReferencesResolved(tasks []task.Task, idSet map[string]bool, templateName string) error {
	errs := apierrors.NewValidationErrorCollection()
	for _, t := range tasks {
		for _, id := range upstreamIDs(t.InputRefs) {
			if !idSet[id] {
				errs.Add(apierrors.NewDanglingReferenceError(id))
			}
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
