package chat

import (
	"context"

	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/common"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/log"
)

// JobEnqueuer hands summary jobs to the queue; the RabbitMQ publisher is
// the production implementation.
type JobEnqueuer interface {
	PublishSummaryJob(ctx context.Context, jobID string) error
}

// HistoryView is what the model sees: a raw recent window, or a summary of
// the archived past plus a smaller tail once the token threshold trips.
type HistoryView struct {
	Messages   []ai.Message // chronological, oldest -> newest
	Summary    string
	Summarized bool
}

// HistoryResolver decides between raw history and summary+tail. It also
// triggers summarization lazily: the expensive generation runs on the
// worker, so the threshold check here only enqueues.
type HistoryResolver struct {
	repo     *Repo
	settings config.HistorySettings
	enqueue  JobEnqueuer
	logger   log.Logger
}

func NewHistoryResolver(repo *Repo, settings config.HistorySettings, enqueue JobEnqueuer, logger log.Logger) *HistoryResolver {
	return &HistoryResolver{repo: repo, settings: settings, enqueue: enqueue, logger: logger}
}

// Resolve returns the conversation view for scope. sess is required; thread
// is nil in embed mode.
func (h *HistoryResolver) Resolve(ctx context.Context, scope Scope, sess *Session, thread *Thread) (*HistoryView, error) {
	summary := sess.SummaryText
	if thread != nil {
		summary = thread.SummaryText
	}

	window := h.settings.WindowSize
	if summary != "" {
		window = h.settings.RetainedTail
	}

	recentDesc, err := h.repo.ListRecentMessagesDesc(ctx, scope, window)
	if err != nil {
		return nil, err
	}

	view := &HistoryView{
		Messages:   make([]ai.Message, 0, len(recentDesc)),
		Summary:    summary,
		Summarized: summary != "",
	}
	// reverse to ASC (oldest -> newest)
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		view.Messages = append(view.Messages, ai.Message{Role: m.Role, Content: m.Content})
	}

	h.checkThreshold(ctx, scope)

	return view, nil
}

// checkThreshold enqueues a summary job once cumulative tokens cross the
// configured threshold. Best-effort: a failure here never fails the request.
func (h *HistoryResolver) checkThreshold(ctx context.Context, scope Scope) {
	if h.enqueue == nil || h.settings.TokenThreshold <= 0 {
		return
	}

	total, err := h.repo.ActiveContentLength(ctx, scope)
	if err != nil {
		h.logger.Warn("token threshold check failed", "error", err)
		return
	}
	if estimateTokensFromLength(total) <= h.settings.TokenThreshold {
		return
	}

	pending, err := h.repo.PendingSummaryJobExists(ctx, scope)
	if err != nil || pending {
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		return
	}
	job := &SummaryJob{
		ID:        jobID,
		TenantID:  scope.TenantID,
		SessionID: scope.SessionID,
		ThreadID:  scope.ThreadID,
		Status:    JobQueued,
	}
	if err := h.repo.CreateSummaryJob(ctx, job); err != nil {
		h.logger.Warn("create summary job failed", "error", err)
		return
	}
	if err := h.enqueue.PublishSummaryJob(ctx, jobID); err != nil {
		h.logger.Warn("publish summary job failed", "job_id", jobID, "error", err)
	}
}

// estimateTokensFromLength is deliberately conservative: bytes/2 holds up
// for both English and CJK text.
func estimateTokensFromLength(n int64) int {
	return int(n / 2)
}
