// Package tools defines the callable tools the model may invoke and the
// registry the orchestrator draws definitions from.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/stream"
)

// Result is what a tool hands back: content for the model plus an optional
// artifact surfaced to the client mid-stream.
type Result struct {
	Content  string
	Artifact *stream.Artifact
}

type Tool interface {
	Name() string
	DisplayName() string
	Definition() ai.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return t, nil
}

// Definitions returns tool defs for the given enablement list, or all
// registered tools when enabled is nil. Output order is stable.
func (r *Registry) Definitions(enabled []string) []ai.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	if enabled == nil {
		for name := range r.tools {
			names = append(names, name)
		}
	} else {
		for _, name := range enabled {
			if _, ok := r.tools[name]; ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	defs := make([]ai.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}
