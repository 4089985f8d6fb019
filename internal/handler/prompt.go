// Package handler contains the example job handler shipped with the
// worker binary. Real deployments embed the worker and supply their own
// job.Handler.
package handler

import (
	"context"
	"fmt"
	"os"

	"github.com/aescanero/dago-serverless-worker/internal/download"
	"github.com/aescanero/dago-serverless-worker/internal/eval/cel"
	"github.com/aescanero/dago-serverless-worker/internal/eval/template"
	"github.com/aescanero/dago-serverless-worker/internal/job"
	"go.uber.org/zap"
)

// Rule is a CEL condition the job input must satisfy.
type Rule struct {
	Condition string
	Message   string
}

// DefaultRules require a string prompt.
var DefaultRules = []Rule{
	{Condition: "has(input.prompt)", Message: "input.prompt is required"},
	{Condition: "type(input.prompt) == string", Message: "input.prompt must be a string"},
}

// Fetcher downloads job artifacts.
type Fetcher interface {
	FetchAll(ctx context.Context, jobID string, urls []string) []download.Result
}

// PromptHandler validates the input, renders input.prompt as a Handlebars
// template against the input and downloads any input.files.
//
// Input:
//   - prompt (string): template, required; may use the uppercase,
//     lowercase, trim and join helpers
//   - files ([]string): URLs to download
//   - refresh_worker (bool): retire the worker after this job
//
// Output:
//   - prompt (string): rendered prompt
//   - files ([]map): url and size of each downloaded file
type PromptHandler struct {
	rules     []Rule
	evaluator *cel.Evaluator
	templates *template.Engine
	fetcher   Fetcher
	logger    *zap.Logger
}

// NewPromptHandler creates a new prompt handler. A nil fetcher disables
// downloads.
func NewPromptHandler(rules []Rule, fetcher Fetcher, logger *zap.Logger) (*PromptHandler, error) {
	evaluator := cel.NewEvaluator()
	for i, rule := range rules {
		if err := evaluator.ValidateExpression(rule.Condition); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}

	return &PromptHandler{
		rules:     rules,
		evaluator: evaluator,
		templates: template.NewEngine(),
		fetcher:   fetcher,
		logger:    logger,
	}, nil
}

// Handle implements job.Handler. Invalid input is reported through the
// "error" key so it reaches the control plane as a job error.
func (h *PromptHandler) Handle(ctx context.Context, j *job.Job) (any, error) {
	input, ok := j.Input.(map[string]any)
	if !ok {
		return map[string]any{"error": "input must be an object"}, nil
	}

	if msg := h.validate(ctx, input); msg != "" {
		return map[string]any{"error": msg}, nil
	}

	prompt, err := h.templates.Render(input["prompt"].(string), input)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	output := map[string]any{"prompt": prompt}

	if urls := stringList(input["files"]); len(urls) > 0 {
		files, err := h.download(ctx, j.ID, urls)
		if err != nil {
			return map[string]any{"error": err.Error()}, nil
		}
		output["files"] = files
	}

	if refresh, _ := input["refresh_worker"].(bool); refresh {
		output["refresh_worker"] = true
	}

	return output, nil
}

// validate evaluates rules in order and returns the first failure message
func (h *PromptHandler) validate(ctx context.Context, input map[string]any) string {
	for i, rule := range h.rules {
		ok, err := h.evaluator.EvaluateBool(ctx, rule.Condition, input)
		if err != nil {
			h.logger.Warn("rule evaluation error",
				zap.Int("rule_index", i),
				zap.String("condition", rule.Condition),
				zap.Error(err),
			)
			return rule.Message
		}
		if !ok {
			return rule.Message
		}
	}
	return ""
}

// download fetches urls and reports each file's size
func (h *PromptHandler) download(ctx context.Context, jobID string, urls []string) ([]map[string]any, error) {
	if h.fetcher == nil {
		return nil, fmt.Errorf("downloads are not enabled")
	}

	var files []map[string]any
	for _, r := range h.fetcher.FetchAll(ctx, jobID, urls) {
		if r.Err != nil {
			return nil, fmt.Errorf("failed to download %s: %v", r.URL, r.Err)
		}
		info, err := os.Stat(r.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %v", r.Path, err)
		}
		files = append(files, map[string]any{"url": r.URL, "bytes": info.Size()})
	}
	return files, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
