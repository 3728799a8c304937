// Package template substitutes variables and stable identifier generators
// inside a scenario document before expansion. It is purely functional and
// deterministic for a given (template, parameters, scenario id) triple.
package template

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
)

// simpleVarPattern matches plain {{ name }} / {{ .name.path }} placeholders
// that do not need the full text/template machinery.
var simpleVarPattern = regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_.-]*)\s*\}\}`)

// Engine renders scenario template documents. One Engine instance is reused
// across scenario submissions; per-expansion state (the UUID cache) lives in
// a Context created per call.
type Engine struct{}

// New returns a ready Engine.
func New() *Engine { return &Engine{} }

// Context carries the caller-supplied variables plus the scenario-scoped
// identifier cache for one expansion call. Two invocations of UUID(label)
// against the same Context return the same value; a fresh Context (a new
// scenario) never reuses a previous one's generated ids.
type Context struct {
	ScenarioID string
	Variables  map[string]interface{}

	mu    sync.Mutex
	cache map[string]string
}

// NewContext creates an expansion context scoped to one scenario id.
func NewContext(scenarioID string, variables map[string]interface{}) *Context {
	return &Context{ScenarioID: scenarioID, Variables: variables, cache: make(map[string]string)}
}

// uuidFor returns the scenario-scoped id for label, generating and caching
// it on first use.
func (c *Context) uuidFor(label string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.cache[label]; ok {
		return id
	}
	// Deterministic within the call, unique across scenarios: derive from
	// a v5 namespace UUID seeded with the scenario id, so two scenarios
	// never collide on the same label by construction.
	ns := uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.ScenarioID))
	id := uuid.NewSHA1(ns, []byte(label)).String()
	c.cache[label] = id
	return id
}

// UUID returns the scenario-scoped identifier for label directly, without
// going through template rendering. The Scenario Expander uses this to
// assign a materialised task's id from its template-level label.
func (c *Context) UUID(label string) string { return c.uuidFor(label) }

// ShortUUID is the truncated form of UUID(label).
func (c *Context) ShortUUID(label string) string { return shortForm(c.uuidFor(label)) }

func shortForm(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) > 12 {
		return clean[:12]
	}
	return clean
}

// funcMap builds the sprig function map plus the UUID/SHORT_UUID identifier
// generators, scoped to one expansion Context.
func (c *Context) funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["UUID"] = func(label string) string { return c.uuidFor(label) }
	fm["SHORT_UUID"] = func(label string) string { return shortForm(c.uuidFor(label)) }
	return fm
}

// RenderString substitutes all {{ }} expressions in value against ctx. Plain
// dot-path variable references are resolved without invoking the full
// template engine; anything containing a function call (UUID(...),
// sprig helpers, arithmetic, conditionals) is rendered with text/template.
func (e *Engine) RenderString(value string, ctx *Context) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}
	if isSimpleExpression(value) {
		return e.renderSimple(value, ctx)
	}
	return e.RenderGoTemplate(value, ctx)
}

// isSimpleExpression reports whether value contains only plain variable
// placeholders (no function calls, no pipes).
func isSimpleExpression(value string) bool {
	matches := simpleVarPattern.FindAllStringIndex(value, -1)
	if matches == nil {
		return false
	}
	// If every {{ ... }} occurrence is captured by the simple pattern,
	// treat it as simple. A mismatch in count means something more
	// complex (a function call, a pipe) is present.
	braces := strings.Count(value, "{{")
	return len(matches) == braces
}

func (e *Engine) renderSimple(value string, ctx *Context) (string, error) {
	matches := simpleVarPattern.FindAllStringSubmatch(value, -1)
	var missing []string
	result := value
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		path := match[1]
		resolved, err := resolvePath(path, ctx.Variables)
		if err != nil {
			missing = append(missing, path)
			continue
		}
		replacement := fmt.Sprintf("%v", resolved)
		for _, form := range []string{
			fmt.Sprintf("{{ %s }}", path),
			fmt.Sprintf("{{.%s}}", path),
			fmt.Sprintf("{{ .%s }}", path),
			fmt.Sprintf("{{%s}}", path),
		} {
			result = strings.ReplaceAll(result, form, replacement)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

func resolvePath(path string, vars map[string]interface{}) (interface{}, error) {
	parts := strings.Split(path, ".")
	root, ok := vars[parts[0]]
	if !ok {
		return nil, fmt.Errorf("variable %q not found", parts[0])
	}
	current := root
	for _, part := range parts[1:] {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot access property %q on non-object", part)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("property %q not found", part)
		}
	}
	return current, nil
}

// RenderGoTemplate renders a full Go template (arithmetic, loops,
// conditionals, identifier generators) against ctx's variables, with
// UUID/SHORT_UUID bound to ctx's scenario-scoped cache.
func (e *Engine) RenderGoTemplate(templateStr string, ctx *Context) (string, error) {
	tmpl, err := template.New("scenario").Funcs(ctx.funcMap()).Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template %q: %w", templateStr, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx.Variables); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}

// RenderCount evaluates a task's count expression (an integer literal or a
// template expression resolving to one) and returns the replica count.
func (e *Engine) RenderCount(raw string, ctx *Context) (int, error) {
	rendered, err := e.RenderString(raw, ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(rendered), "%d", &n); err != nil {
		return 0, fmt.Errorf("count expression %q did not evaluate to an integer: %w", raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("count expression %q evaluated to a negative number", raw)
	}
	return n, nil
}
