package scenario

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/giantswarm/muster-scenario-core/internal/task"
)

// Structured fields (consumers, params, input_refs) round-trip through the
// store as JSON text; the succeed script decodes the same encoding
// server-side with cjson.

func encodeTask(t task.Task) map[string]string {
	consumers, _ := json.Marshal(t.Consumers)
	params, _ := json.Marshal(t.Params)
	inputRefs, _ := json.Marshal(t.InputRefs)
	return map[string]string{
		"id":            t.ID,
		"scenario_id":   t.ScenarioID,
		"service":       t.Service,
		"name":          t.Name,
		"pending_count": strconv.Itoa(t.PendingCount),
		"status":        string(t.Status),
		"consumers":     string(consumers),
		"prompt":        t.Prompt,
		"params":        string(params),
		"input_refs":    string(inputRefs),
		"result_ref":    t.ResultRef,
		"error":         t.Error,
		"created_at":    t.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    t.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func decodeTask(fields map[string]string) (task.Task, error) {
	var t task.Task
	t.ID = fields["id"]
	t.ScenarioID = fields["scenario_id"]
	t.Service = fields["service"]
	t.Name = fields["name"]
	t.Status = task.Status(fields["status"])
	t.Prompt = fields["prompt"]
	t.ResultRef = fields["result_ref"]
	t.Error = fields["error"]

	pc, err := strconv.Atoi(fields["pending_count"])
	if err != nil {
		return task.Task{}, fmt.Errorf("decoding pending_count: %w", err)
	}
	t.PendingCount = pc

	if fields["consumers"] != "" {
		if err := json.Unmarshal([]byte(fields["consumers"]), &t.Consumers); err != nil {
			return task.Task{}, fmt.Errorf("decoding consumers: %w", err)
		}
	}
	if fields["params"] != "" {
		if err := json.Unmarshal([]byte(fields["params"]), &t.Params); err != nil {
			return task.Task{}, fmt.Errorf("decoding params: %w", err)
		}
	}
	if fields["input_refs"] != "" {
		if err := json.Unmarshal([]byte(fields["input_refs"]), &t.InputRefs); err != nil {
			return task.Task{}, fmt.Errorf("decoding input_refs: %w", err)
		}
	}
	if v := fields["created_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return task.Task{}, fmt.Errorf("decoding created_at: %w", err)
		}
		t.CreatedAt = ts
	}
	if v := fields["updated_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return task.Task{}, fmt.Errorf("decoding updated_at: %w", err)
		}
		t.UpdatedAt = ts
	}
	return t, nil
}

func encodeScenario(s task.Scenario) map[string]string {
	taskIDs, _ := json.Marshal(s.TaskIDs)
	return map[string]string{
		"scenario_id":      s.ScenarioID,
		"template_name":    s.TemplateName,
		"template_version": s.TemplateVersion,
		"task_ids":         string(taskIDs),
		"created_at":       s.CreatedAt.Format(time.RFC3339Nano),
	}
}

func decodeScenario(fields map[string]string) (task.Scenario, error) {
	var s task.Scenario
	s.ScenarioID = fields["scenario_id"]
	s.TemplateName = fields["template_name"]
	s.TemplateVersion = fields["template_version"]
	if fields["task_ids"] != "" {
		if err := json.Unmarshal([]byte(fields["task_ids"]), &s.TaskIDs); err != nil {
			return task.Scenario{}, fmt.Errorf("decoding task_ids: %w", err)
		}
	}
	if v := fields["created_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return task.Scenario{}, fmt.Errorf("decoding created_at: %w", err)
		}
		s.CreatedAt = ts
	}
	return s, nil
}

func taskKey(id string) string       { return "task:" + id }
func scenarioKey(id string) string   { return "scenario:" + id }
func queueKey(service string) string { return "queue:" + service }

// processingIndexKey names the hash the Dispatcher maintains as a side
// index of every task currently PROCESSING, mapping id -> the RFC3339Nano
// timestamp it was claimed at. internal/janitor scans this instead of the
// whole keyspace to find reclaim candidates.
func processingIndexKey() string { return "index:processing" }
