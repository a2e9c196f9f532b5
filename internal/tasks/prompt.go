package tasks

import (
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/ShayCichocki/pipewright/internal/llm"
	"github.com/ShayCichocki/pipewright/internal/task"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// PromptConfig configures an LLM prompt task.
type PromptConfig struct {
	ID string
	// Prompt and System are text/templates rendered with the task input.
	Prompt string
	System string
	// FallbackPrompt is an optional simpler prompt for the relaxed fallback pass.
	FallbackPrompt string
	// Model and MaxTokens override the client defaults when set.
	Model     string
	MaxTokens int
	Output    OutputFormat
	Expect    models.Schema
	Client    llm.Completer
}

// Prompt asks an LLM to complete a rendered prompt.
type Prompt struct {
	id        string
	prompt    *template.Template
	system    *template.Template
	fallback  *template.Template
	model     string
	maxTokens int
	output    OutputFormat
	expect    models.Schema
	client    llm.Completer
}

// NewPrompt compiles the task's templates.
func NewPrompt(cfg PromptConfig) (*Prompt, error) {
	if cfg.Prompt == "" {
		return nil, fmt.Errorf("prompt task %s: prompt is required", cfg.ID)
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("prompt task %s: no LLM client configured", cfg.ID)
	}
	output, err := ParseOutputFormat(string(cfg.Output))
	if err != nil {
		return nil, fmt.Errorf("prompt task %s: %w", cfg.ID, err)
	}

	p := &Prompt{
		id:        cfg.ID,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		output:    output,
		expect:    cfg.Expect,
		client:    cfg.Client,
	}
	if p.prompt, err = parseTemplate(cfg.ID+".prompt", cfg.Prompt); err != nil {
		return nil, err
	}
	if p.system, err = parseTemplate(cfg.ID+".system", cfg.System); err != nil {
		return nil, err
	}
	if p.fallback, err = parseTemplate(cfg.ID+".fallback_prompt", cfg.FallbackPrompt); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateInput implements task.Task.
func (p *Prompt) ValidateInput(in *task.Input) error {
	return checkInput(in, p.expect, p.prompt, p.system)
}

// Execute implements task.Task.
func (p *Prompt) Execute(ctx context.Context, in *task.Input) (any, error) {
	return p.complete(ctx, p.prompt, in)
}

// ExecuteFallback implements task.Fallback.
func (p *Prompt) ExecuteFallback(ctx context.Context, in *task.Input) (any, error) {
	if p.fallback == nil {
		return nil, task.Permanentf("task %s has no fallback", p.id)
	}
	return p.complete(ctx, p.fallback, in)
}

// HasFallback reports whether a fallback prompt was configured.
func (p *Prompt) HasFallback() bool {
	return p.fallback != nil
}

// FormatOutput implements task.Task.
func (p *Prompt) FormatOutput(raw any) (models.Value, error) {
	resp, ok := raw.(*llm.Response)
	if !ok || resp == nil {
		return models.Value{}, fmt.Errorf("unexpected result type %T", raw)
	}
	return p.output.Parse(resp.Text)
}

func (p *Prompt) complete(ctx context.Context, tmpl *template.Template, in *task.Input) (any, error) {
	req := llm.Request{Model: p.model, MaxTokens: p.maxTokens}

	var err error
	if req.Prompt, err = render(tmpl, in); err != nil {
		return nil, task.Permanent(fmt.Errorf("rendering prompt: %w", err))
	}
	if p.system != nil {
		if req.System, err = render(p.system, in); err != nil {
			return nil, task.Permanent(fmt.Errorf("rendering system prompt: %w", err))
		}
	}

	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		return nil, classifyLLMError(err)
	}
	return resp, nil
}

func classifyLLMError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return task.Timeout(err)
	case llm.Retryable(err):
		return task.Transient(err)
	default:
		return task.Permanent(err)
	}
}

var (
	_ task.Task     = (*Prompt)(nil)
	_ task.Fallback = (*Prompt)(nil)
)
