package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Scope identifies where messages live: an embed session, or a thread
// inside a workspace session.
type Scope struct {
	TenantID  uint64
	SessionID string
	ThreadID  *string
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateTenant(ctx context.Context, t *Tenant) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repo) GetTenantByID(ctx context.Context, id uint64) (*Tenant, error) {
	var t Tenant
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repo) GetTenantByWidgetKey(ctx context.Context, key string) (*Tenant, error) {
	var t Tenant
	if err := r.db.WithContext(ctx).First(&t, "widget_key = ?", key).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// TouchSession bumps the activity counters on each message.
func (r *Repo) TouchSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"message_count":    gorm.Expr("message_count + 1"),
			"last_activity_at": time.Now(),
		}).Error
}

func (r *Repo) CreateThread(ctx context.Context, t *Thread) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repo) GetThreadByThreadID(ctx context.Context, threadID string) (*Thread, error) {
	var t Thread
	if err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// SetThreadTitle fills the auto-derived title on first use.
func (r *Repo) SetThreadTitle(ctx context.Context, threadID, title string) error {
	return r.db.WithContext(ctx).Model(&Thread{}).
		Where("thread_id = ?", threadID).
		Update("title", title).Error
}

// SetThreadArchived flips the archived flag. Archived threads are hidden
// from ListThreads and reject new turns.
func (r *Repo) SetThreadArchived(ctx context.Context, threadID string, archived bool) error {
	return r.db.WithContext(ctx).Model(&Thread{}).
		Where("thread_id = ?", threadID).
		Update("archived", archived).Error
}

func (r *Repo) ListThreads(ctx context.Context, sessionID string) ([]Thread, error) {
	var threads []Thread
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND archived = ?", sessionID, false).
		Order("id DESC").
		Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessageByID(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).Preload("Sources").First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) scoped(ctx context.Context, scope Scope) *gorm.DB {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? AND session_id = ?", scope.TenantID, scope.SessionID)
	if scope.ThreadID != nil {
		q = q.Where("thread_id = ?", *scope.ThreadID)
	} else {
		q = q.Where("thread_id IS NULL")
	}
	return q
}

// ListRecentMessagesDesc returns the most recent non-archived messages in
// DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, scope Scope, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.scoped(ctx, scope).
		Where("archived = ?", false).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessages pages through history in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, scope Scope, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.scoped(ctx, scope).
		Preload("Sources").
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetArchivedMessages returns summarized-out messages verbatim, oldest first.
func (r *Repo) GetArchivedMessages(ctx context.Context, scope Scope) ([]Message, error) {
	var msgs []Message
	if err := r.scoped(ctx, scope).
		Where("archived = ?", true).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ActiveContentLength sums content length over the non-archived messages of
// a scope; the history resolver derives its token estimate from it.
func (r *Repo) ActiveContentLength(ctx context.Context, scope Scope) (int64, error) {
	var total int64
	err := r.scoped(ctx, scope).
		Model(&Message{}).
		Where("archived = ?", false).
		Select("COALESCE(SUM(LENGTH(content)), 0)").
		Scan(&total).Error
	return total, err
}

// ArchiveThrough flags every message up to and including throughID.
// One-directional: archived rows never come back into the active window.
func (r *Repo) ArchiveThrough(ctx context.Context, scope Scope, throughID uint64) error {
	return r.scoped(ctx, scope).
		Model(&Message{}).
		Where("archived = ? AND id <= ?", false, throughID).
		Update("archived", true).Error
}

// SetSummary stores the generated summary on the owning thread or session.
func (r *Repo) SetSummary(ctx context.Context, scope Scope, text string, throughID uint64) error {
	updates := map[string]any{
		"summary_text":       text,
		"summarized_through": throughID,
	}
	if scope.ThreadID != nil {
		return r.db.WithContext(ctx).Model(&Thread{}).
			Where("thread_id = ?", *scope.ThreadID).
			Updates(updates).Error
	}
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", scope.SessionID).
		Updates(updates).Error
}

// Summary jobs

func (r *Repo) CreateSummaryJob(ctx context.Context, job *SummaryJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetSummaryJobByID(ctx context.Context, id string) (*SummaryJob, error) {
	var j SummaryJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// PendingSummaryJobExists prevents the resolver from enqueueing duplicates
// while a job is still in flight.
func (r *Repo) PendingSummaryJobExists(ctx context.Context, scope Scope) (bool, error) {
	q := r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("tenant_id = ? AND session_id = ? AND status IN ?",
			scope.TenantID, scope.SessionID, []JobStatus{JobQueued, JobRunning})
	if scope.ThreadID != nil {
		q = q.Where("thread_id = ?", *scope.ThreadID)
	} else {
		q = q.Where("thread_id IS NULL")
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&SummaryJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
