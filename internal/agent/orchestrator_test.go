package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/config"
	applog "github.com/mkalas/ragline/internal/log"
	"github.com/mkalas/ragline/internal/stream"
	"github.com/mkalas/ragline/internal/tools"
)

// scriptedProvider returns one completion per call, in order, and records
// the message list it received each time.
type scriptedProvider struct {
	script []ai.Completion
	errAt  int // 1-based call index that fails, 0 means never
	calls  int
	seen   [][]ai.Message
}

func (p *scriptedProvider) Complete(ctx context.Context, msgs []ai.Message, defs []ai.ToolDef) (*ai.Completion, error) {
	_ = ctx
	_ = defs
	p.calls++
	p.seen = append(p.seen, append([]ai.Message(nil), msgs...))
	if p.errAt > 0 && p.calls == p.errAt {
		return nil, errors.New("upstream 502")
	}
	if p.calls > len(p.script) {
		return &ai.Completion{Content: "fallback"}, nil
	}
	c := p.script[p.calls-1]
	return &c, nil
}

type fakeTool struct {
	name    string
	execute func(ctx context.Context, args json.RawMessage) (*tools.Result, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) DisplayName() string { return t.name }
func (t *fakeTool) Definition() ai.ToolDef {
	return ai.ToolDef{Name: t.name, Parameters: json.RawMessage(`{}`)}
}
func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	return t.execute(ctx, args)
}

type recordingEmitter struct {
	starts    []stream.ToolInfo
	ends      []stream.ToolInfo
	artifacts []stream.Artifact
}

func (e *recordingEmitter) ToolStart(info stream.ToolInfo) { e.starts = append(e.starts, info) }
func (e *recordingEmitter) ToolEnd(info stream.ToolInfo)   { e.ends = append(e.ends, info) }
func (e *recordingEmitter) Artifact(a stream.Artifact)     { e.artifacts = append(e.artifacts, a) }

func settings() config.GenerationSettings {
	return config.GenerationSettings{MaxToolIterations: 5, ToolTimeout: time.Second}
}

func newRegistry(ts ...tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.Register(t)
	}
	return reg
}

func TestRun_NoToolsDirectAnswer(t *testing.T) {
	prov := &scriptedProvider{script: []ai.Completion{{Content: "42"}}}
	o := NewOrchestrator(prov, newRegistry(), applog.NewNop())

	out, err := o.Run(context.Background(), Input{UserMessage: "meaning of life", Settings: settings()}, &recordingEmitter{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Content != "42" {
		t.Fatalf("content = %q", out.Content)
	}
	if prov.calls != 1 {
		t.Fatalf("expected a single model call, got %d", prov.calls)
	}
}

func TestRun_ToolCycleFeedsResultBack(t *testing.T) {
	tool := &fakeTool{name: "lookup", execute: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
		return &tools.Result{Content: "sunny, 21C"}, nil
	}}
	prov := &scriptedProvider{script: []ai.Completion{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"q":"weather"}`)}}},
		{Content: "It is sunny."},
	}}
	emit := &recordingEmitter{}
	o := NewOrchestrator(prov, newRegistry(tool), applog.NewNop())

	out, err := o.Run(context.Background(), Input{UserMessage: "weather?", Settings: settings()}, emit)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Content != "It is sunny." {
		t.Fatalf("content = %q", out.Content)
	}

	if len(emit.starts) != 1 || len(emit.ends) != 1 {
		t.Fatalf("lifecycle events: starts=%d ends=%d, want 1/1", len(emit.starts), len(emit.ends))
	}
	if emit.starts[0].Status != "running" || emit.ends[0].Status != "success" {
		t.Fatalf("statuses: start=%q end=%q", emit.starts[0].Status, emit.ends[0].Status)
	}

	// second model call must contain the tool reply keyed to the call id
	second := prov.seen[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "c1" || last.Content != "sunny, 21C" {
		t.Fatalf("tool reply not fed back: %+v", last)
	}
}

func TestRun_ToolErrorReportedNotFatal(t *testing.T) {
	tool := &fakeTool{name: "flaky", execute: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
		return nil, errors.New("backend down")
	}}
	prov := &scriptedProvider{script: []ai.Completion{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "flaky"}}},
		{Content: "done without it"},
	}}
	emit := &recordingEmitter{}
	o := NewOrchestrator(prov, newRegistry(tool), applog.NewNop())

	out, err := o.Run(context.Background(), Input{UserMessage: "go", Settings: settings()}, emit)
	if err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	if out.Content != "done without it" {
		t.Fatalf("content = %q", out.Content)
	}
	if len(emit.ends) != 1 || emit.ends[0].Status != "error" {
		t.Fatalf("expected one error end event, got %+v", emit.ends)
	}
	second := prov.seen[1]
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "failed") {
		t.Fatalf("error not reported to model: %+v", last)
	}
}

func TestRun_PanicStillEmitsEnd(t *testing.T) {
	tool := &fakeTool{name: "boom", execute: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
		panic("nil map write")
	}}
	prov := &scriptedProvider{script: []ai.Completion{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "boom"}}},
		{Content: "recovered"},
	}}
	emit := &recordingEmitter{}
	o := NewOrchestrator(prov, newRegistry(tool), applog.NewNop())

	out, err := o.Run(context.Background(), Input{UserMessage: "go", Settings: settings()}, emit)
	if err != nil {
		t.Fatalf("panic must be contained: %v", err)
	}
	if out.Content != "recovered" {
		t.Fatalf("content = %q", out.Content)
	}
	if len(emit.starts) != 1 || len(emit.ends) != 1 {
		t.Fatalf("expected paired start/end despite panic, got %d/%d", len(emit.starts), len(emit.ends))
	}
	if emit.ends[0].Status != "error" || !strings.Contains(emit.ends[0].Error, "panicked") {
		t.Fatalf("end event = %+v", emit.ends[0])
	}
}

func TestRun_UnknownToolReported(t *testing.T) {
	prov := &scriptedProvider{script: []ai.Completion{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "ghost"}}},
		{Content: "ok"},
	}}
	emit := &recordingEmitter{}
	o := NewOrchestrator(prov, newRegistry(), applog.NewNop())

	if _, err := o.Run(context.Background(), Input{UserMessage: "go", Settings: settings()}, emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	second := prov.seen[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "not available") {
		t.Fatalf("unknown tool not reported to model: %q", last.Content)
	}
	if len(emit.ends) != 1 || emit.ends[0].Status != "error" {
		t.Fatalf("expected error end event for unknown tool")
	}
}

func TestRun_IterationCap(t *testing.T) {
	tool := &fakeTool{name: "loop", execute: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
		return &tools.Result{Content: "again"}, nil
	}}
	// model never stops asking for the tool
	script := make([]ai.Completion, 10)
	for i := range script {
		script[i] = ai.Completion{ToolCalls: []ai.ToolCall{{ID: "c", Name: "loop"}}}
	}
	prov := &scriptedProvider{script: script}
	o := NewOrchestrator(prov, newRegistry(tool), applog.NewNop())

	out, err := o.Run(context.Background(), Input{
		UserMessage: "go",
		Settings:    config.GenerationSettings{MaxToolIterations: 3, ToolTimeout: time.Second},
	}, &recordingEmitter{})
	if err != nil {
		t.Fatalf("cap must finalize, not error: %v", err)
	}
	if out.Warning == "" {
		t.Fatalf("expected a cap warning")
	}
	if prov.calls != 3 {
		t.Fatalf("model calls = %d, want 3", prov.calls)
	}
}

func TestRun_ToolTimeout(t *testing.T) {
	tool := &fakeTool{name: "slow", execute: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &tools.Result{Content: "too late"}, nil
		}
	}}
	prov := &scriptedProvider{script: []ai.Completion{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "slow"}}},
		{Content: "moved on"},
	}}
	emit := &recordingEmitter{}
	o := NewOrchestrator(prov, newRegistry(tool), applog.NewNop())

	out, err := o.Run(context.Background(), Input{
		UserMessage: "go",
		Settings:    config.GenerationSettings{MaxToolIterations: 5, ToolTimeout: 20 * time.Millisecond},
	}, emit)
	if err != nil {
		t.Fatalf("timeout must not abort the run: %v", err)
	}
	if out.Content != "moved on" {
		t.Fatalf("content = %q", out.Content)
	}
	if emit.ends[0].Status != "error" {
		t.Fatalf("expected error end after timeout, got %+v", emit.ends[0])
	}
}

func TestRun_ModelErrorAborts(t *testing.T) {
	prov := &scriptedProvider{errAt: 1}
	o := NewOrchestrator(prov, newRegistry(), applog.NewNop())

	if _, err := o.Run(context.Background(), Input{UserMessage: "go", Settings: settings()}, &recordingEmitter{}); err == nil {
		t.Fatalf("model failure must surface as an error")
	}
}

func TestRun_ArtifactForwarded(t *testing.T) {
	tool := &fakeTool{name: "chart", execute: func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
		return &tools.Result{
			Content:  "chart ready",
			Artifact: &stream.Artifact{Type: "chart", MIME: "application/json", Data: json.RawMessage(`{"x":1}`)},
		}, nil
	}}
	prov := &scriptedProvider{script: []ai.Completion{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "chart"}}},
		{Content: "here is your chart"},
	}}
	emit := &recordingEmitter{}
	o := NewOrchestrator(prov, newRegistry(tool), applog.NewNop())

	if _, err := o.Run(context.Background(), Input{UserMessage: "plot it", Settings: settings()}, emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(emit.artifacts) != 1 || emit.artifacts[0].Type != "chart" {
		t.Fatalf("artifact not forwarded: %+v", emit.artifacts)
	}
}
