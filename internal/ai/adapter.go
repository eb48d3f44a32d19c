package ai

import "context"

// ToolCapable returns a ToolProvider view of p. Providers with native tool
// support are used directly; the rest answer content-only and the loop
// finishes in one turn.
func ToolCapable(p Provider) ToolProvider {
	if tp, ok := p.(ToolProvider); ok {
		return tp
	}
	return chatOnlyAdapter{p: p}
}

type chatOnlyAdapter struct {
	p Provider
}

func (a chatOnlyAdapter) Complete(ctx context.Context, messages []Message, tools []ToolDef) (*Completion, error) {
	_ = tools
	content, err := a.p.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &Completion{Content: content}, nil
}
