// Package tasks provides the concrete task kinds a workflow file can declare:
// shell commands, LLM prompts and constant values.
package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/kballard/go-shellquote"

	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// OutputFormat says how a task's textual result becomes a value.
type OutputFormat string

const (
	// OutputText publishes the text as a string, minus trailing newlines.
	OutputText OutputFormat = "text"
	// OutputJSON parses the text as JSON.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a format name. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Parse converts text into a value.
func (f OutputFormat) Parse(text string) (models.Value, error) {
	if f != OutputJSON {
		return models.String(strings.TrimRight(text, "\r\n")), nil
	}
	body := stripFences(strings.TrimSpace(text))
	if body == "" {
		return models.Value{}, fmt.Errorf("expected JSON output, got nothing")
	}
	v, err := models.FromJSON([]byte(body))
	if err != nil {
		return models.Value{}, fmt.Errorf("parsing JSON output: %w", err)
	}
	return v, nil
}

// stripFences removes a surrounding markdown code fence, as LLMs like to add.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
	"quote": func(v any) string {
		if s, ok := v.(string); ok {
			return shellquote.Join(s)
		}
		return shellquote.Join(fmt.Sprint(v))
	},
	"trim": strings.TrimSpace,
}

// parseTemplate compiles a task template. Unknown keys fail at render time.
func parseTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %s template: %w", name, err)
	}
	return tmpl, nil
}

// templateData is what task templates see.
type templateData struct {
	RunID   string
	TaskID  string
	Attempt int
	Relaxed bool
	// Deps holds dependency outputs by task ID as plain Go data.
	Deps map[string]any
	// Missing lists optional dependencies replaced by their defaults.
	Missing map[string]bool
	Globals map[string]any
}

func dataFor(in *task.Input) templateData {
	d := templateData{
		RunID:   in.RunID,
		TaskID:  in.TaskID,
		Attempt: in.Attempt,
		Relaxed: in.Relaxed,
		Deps:    make(map[string]any),
		Missing: make(map[string]bool),
		Globals: make(map[string]any),
	}
	for id, v := range in.Dependencies() {
		d.Deps[id] = v.Plain()
		if in.Missing(id) {
			d.Missing[id] = true
		}
	}
	for k, v := range in.Globals() {
		d.Globals[k] = v.Plain()
	}
	return d
}

func render(tmpl *template.Template, in *task.Input) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, dataFor(in)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// inputDocument is the JSON document command tasks receive on stdin.
func inputDocument(in *task.Input) ([]byte, error) {
	return json.Marshal(dataFor(in))
}

// checkInput validates templates against the input and the declared
// expectations on dependency outputs. Failures are validation errors.
func checkInput(in *task.Input, expect models.Schema, templates ...*template.Template) error {
	if len(expect) > 0 {
		if err := expect.Check(models.Map(in.Dependencies())); err != nil {
			return task.Invalid(in.TaskID, "dependency outputs: %v", err)
		}
	}
	for _, tmpl := range templates {
		if tmpl == nil {
			continue
		}
		if _, err := render(tmpl, in); err != nil {
			return task.Invalid(in.TaskID, "rendering %s: %v", tmpl.Name(), err)
		}
	}
	return nil
}

// envFor turns a map into sorted KEY=VALUE pairs.
func envFor(vars map[string]string) []string {
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
