package chat

import (
	"strings"
	"time"
)

// Tenant is the isolation boundary for quotas, retrieval scope and tool
// enablement. Mode decides which route family may touch it.
type Tenant struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	Name         string `gorm:"type:varchar(128);not null" json:"name"`
	Mode         string `gorm:"type:varchar(16);not null" json:"mode"` // embed | workspace
	WidgetKey    string `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	WidgetSecret string `gorm:"type:varchar(64)" json:"-"`

	// Comma-separated category ids scoping retrieval for this tenant.
	Categories string `gorm:"type:text" json:"-"`

	// Comma-separated tool names; empty enables every registered tool.
	EnabledTools string `gorm:"type:text" json:"-"`

	SystemPrompt string `gorm:"type:text" json:"-"`

	// 0 falls back to the configured defaults.
	DailyLimit   int `gorm:"not null;default:0" json:"-"`
	SessionLimit int `gorm:"not null;default:0" json:"-"`

	RetrievalVersion int `gorm:"not null;default:1" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

func (t *Tenant) CategoryIDs() []string {
	return splitCSV(t.Categories)
}

func (t *Tenant) ToolNames() []string {
	out := splitCSV(t.EnabledTools)
	if len(out) == 0 {
		return nil // nil means all registered tools
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Session anchors one visitor's or user's conversation inside a tenant.
// Expired sessions are rejected on the next message, never hard-deleted.
type Session struct {
	ID          uint64  `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID   string  `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	TenantID    uint64  `gorm:"index;not null" json:"-"`
	UserID      *uint64 `gorm:"index" json:"-"`                 // workspace mode
	VisitorHash string  `gorm:"type:varchar(64);index" json:"-"` // embed mode

	MessageCount   int        `gorm:"not null;default:0" json:"message_count"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	// Summarization state for embed sessions (no thread container).
	SummaryText       string `gorm:"type:text" json:"-"`
	SummarizedThrough uint64 `gorm:"not null;default:0" json:"-"`
}

func (Session) TableName() string { return "chat_sessions" }

// Thread is a named conversation within a workspace session.
type Thread struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ThreadID  string `gorm:"type:varchar(26);uniqueIndex;not null" json:"thread_id"`
	SessionID string `gorm:"type:varchar(26);index;not null" json:"session_id"`
	Title     string `gorm:"type:varchar(255)" json:"title"`
	Archived  bool   `gorm:"not null;default:false" json:"archived"`

	SummaryText       string `gorm:"type:text" json:"-"`
	SummarizedThrough uint64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Thread) TableName() string { return "chat_threads" }

// Message is append-only; rows are never updated after insert except for
// the one-way archived flag set by summarization.
type Message struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  uint64  `gorm:"index;not null" json:"-"`
	SessionID string  `gorm:"type:varchar(26);not null;index:idx_msg_session_id,priority:1" json:"session_id"`
	ThreadID  *string `gorm:"type:varchar(26);index" json:"thread_id,omitempty"`
	Role      string  `gorm:"type:varchar(16);not null" json:"role"`
	Content   string  `gorm:"type:text;not null" json:"content"`

	Sources []Source `gorm:"foreignKey:MessageID" json:"sources,omitempty"`

	LatencyMS        int64 `gorm:"not null;default:0" json:"latency_ms,omitempty"`
	PromptTokens     int   `gorm:"not null;default:0" json:"prompt_tokens,omitempty"`
	CompletionTokens int   `gorm:"not null;default:0" json:"completion_tokens,omitempty"`

	Archived bool `gorm:"not null;default:false;index" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Source is a citation row attached to an assistant message; write-once.
type Source struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID    uint64  `gorm:"index;not null" json:"-"`
	DocumentName string  `gorm:"type:varchar(255);not null" json:"document_name"`
	PageNumber   int     `gorm:"not null;default:0" json:"page_number"`
	ChunkText    string  `gorm:"type:text;not null" json:"chunk_text"`
	Score        float64 `gorm:"not null;default:0" json:"score"`
}

func (Source) TableName() string { return "chat_sources" }
