// Package agent drives the model <-> tool loop for one request.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/log"
	"github.com/mkalas/ragline/internal/stream"
	"github.com/mkalas/ragline/internal/tools"
)

// Emitter receives lifecycle events as the loop executes. The stream
// session is the production implementation; tests use a recorder.
type Emitter interface {
	ToolStart(info stream.ToolInfo)
	ToolEnd(info stream.ToolInfo)
	Artifact(a stream.Artifact)
}

type Orchestrator struct {
	provider ai.ToolProvider
	registry *tools.Registry
	logger   log.Logger
}

func NewOrchestrator(provider ai.ToolProvider, registry *tools.Registry, logger log.Logger) *Orchestrator {
	return &Orchestrator{provider: provider, registry: registry, logger: logger}
}

// HasTools reports whether any registered tool is enabled for the given
// selection. Callers use it to pick between the tool loop and plain
// streaming generation.
func (o *Orchestrator) HasTools(enabled []string) bool {
	return len(o.registry.Definitions(enabled)) > 0
}

// Input is everything one run needs; settings are an explicit snapshot, not
// ambient configuration.
type Input struct {
	SystemPrompt string
	History      []ai.Message
	UserMessage  string
	EnabledTools []string
	Settings     config.GenerationSettings
}

// Output carries the final assistant content. Warning is set when the
// iteration cap forced finalization; it is recoverable, not an error.
type Output struct {
	Content  string
	Usage    ai.Usage
	ToolRuns []stream.ToolInfo
	Warning  string
}

// Run loops model call -> tool execution until the model answers with
// content or the iteration cap trips. Tool failures are reported back to
// the model and never abort the run; only a model call failure does.
func (o *Orchestrator) Run(ctx context.Context, in Input, emit Emitter) (*Output, error) {
	msgs := make([]ai.Message, 0, len(in.History)+2)
	if in.SystemPrompt != "" {
		msgs = append(msgs, ai.Message{Role: "system", Content: in.SystemPrompt})
	}
	msgs = append(msgs, in.History...)
	msgs = append(msgs, ai.Message{Role: "user", Content: in.UserMessage})

	defs := o.registry.Definitions(in.EnabledTools)

	out := &Output{}
	maxIter := in.Settings.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 5
	}

	for iter := 0; ; iter++ {
		if iter >= maxIter {
			out.Warning = fmt.Sprintf("tool iteration cap (%d) reached, finalizing with partial result", maxIter)
			o.logger.Warn("tool loop hit iteration cap", "cap", maxIter)
			return out, nil
		}

		comp, err := o.provider.Complete(ctx, msgs, defs)
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}
		out.Usage.PromptTokens += comp.Usage.PromptTokens
		out.Usage.CompletionTokens += comp.Usage.CompletionTokens

		if len(comp.ToolCalls) == 0 {
			out.Content = comp.Content
			return out, nil
		}

		out.Content = comp.Content
		msgs = append(msgs, ai.Message{Role: "assistant", Content: comp.Content, ToolCalls: comp.ToolCalls})

		for _, tc := range comp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			reply, info := o.runTool(ctx, tc, in.Settings.ToolTimeout, emit)
			out.ToolRuns = append(out.ToolRuns, info)
			msgs = append(msgs, reply)
		}
	}
}

// runTool executes one invocation with its own timeout. A start event is
// emitted before execution and exactly one end event after, whatever
// happens in between.
func (o *Orchestrator) runTool(ctx context.Context, tc ai.ToolCall, timeout time.Duration, emit Emitter) (ai.Message, stream.ToolInfo) {
	info := stream.ToolInfo{Name: tc.Name}

	tool, lookupErr := o.registry.Get(tc.Name)
	if lookupErr == nil {
		info.DisplayName = tool.DisplayName()
	}
	info.Status = "running"
	emit.ToolStart(info)

	start := time.Now()
	var content string

	switch {
	case lookupErr != nil:
		info.Status = "error"
		info.Error = lookupErr.Error()
		content = fmt.Sprintf("tool %s is not available", tc.Name)
	default:
		res, err := o.executeSafe(ctx, tool, tc, timeout)
		if err != nil {
			info.Status = "error"
			info.Error = err.Error()
			content = fmt.Sprintf("tool %s failed: %v", tc.Name, err)
			o.logger.Warn("tool execution failed", "tool", tc.Name, "error", err)
		} else {
			info.Status = "success"
			content = res.Content
			if res.Artifact != nil {
				emit.Artifact(*res.Artifact)
			}
		}
	}

	info.DurationMS = time.Since(start).Milliseconds()
	emit.ToolEnd(info)

	return ai.Message{
		Role:       "tool",
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Content:    content,
	}, info
}

// executeSafe bounds the call with its own deadline and converts a panic
// into an error so the end event still fires.
func (o *Orchestrator) executeSafe(ctx context.Context, tool tools.Tool, tc ai.ToolCall, timeout time.Duration) (res *tools.Result, err error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	return tool.Execute(tctx, tc.Arguments)
}
