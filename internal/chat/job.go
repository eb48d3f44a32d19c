package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// SummaryJob asks the worker to collapse older messages of one scope into
// a summary. Queued through RabbitMQ, state tracked here.
type SummaryJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	TenantID  uint64  `gorm:"index;not null"`
	SessionID string  `gorm:"size:26;index;not null"`
	ThreadID  *string `gorm:"size:26;index"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SummaryJob) TableName() string { return "summary_jobs" }
