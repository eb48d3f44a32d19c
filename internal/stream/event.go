// Package stream owns the server-push event protocol: the tagged event
// union, per-request phase sequencing and the SSE encoding.
package stream

import "encoding/json"

type EventType string

const (
	EventStatus    EventType = "status"
	EventSources   EventType = "sources"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventArtifact  EventType = "artifact"
	EventChunk     EventType = "chunk"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventKeepalive EventType = "keepalive"
)

// Phase values are strictly ordered; a session never moves backwards.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseRAG
	PhaseTools
	PhaseGenerating
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseRAG:
		return "rag"
	case PhaseTools:
		return "tools"
	case PhaseGenerating:
		return "generating"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Source mirrors the citation attached to the persisted assistant message.
type Source struct {
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// ToolInfo reports one tool invocation's lifecycle.
type ToolInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Status      string `json:"status"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Artifact is a generated side-output surfaced mid-stream.
type Artifact struct {
	Type  string          `json:"type"`
	Title string          `json:"title,omitempty"`
	MIME  string          `json:"mime,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is the tagged union sent over the wire. Exactly one payload group
// is set per type; everything else marshals away under omitempty.
type Event struct {
	Type      EventType `json:"type"`
	Phase     string    `json:"phase,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
	Tool      *ToolInfo `json:"tool,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Delta     string    `json:"delta,omitempty"`
	MessageID uint64    `json:"message_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
}
