package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkalas/ragline/internal/agent"
	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/common"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/log"
	"github.com/mkalas/ragline/internal/retrieval"
	"github.com/mkalas/ragline/internal/stream"
	"gorm.io/gorm"
)

// Stream error codes surfaced to clients.
const (
	CodeValidation = "VALIDATION"
	CodeRateLimit  = "RATE_LIMITED"
	CodeModelError = "MODEL_ERROR"
	CodeInternal   = "INTERNAL"
)

const (
	// interChunkDelay paces chunk events so the widget renders smoothly.
	interChunkDelay = 10 * time.Millisecond

	chunkRunes = 48

	defaultSystemPrompt = "You are a helpful assistant answering questions using the provided knowledge base context. Cite the context when it is relevant and say so when it does not cover the question."

	embedSessionTTL = 30 * 24 * time.Hour
)

var ErrSessionExpired = errors.New("session expired")

// Service wires the pipeline per request: history, retrieval, the tool
// loop, streaming and persistence.
type Service struct {
	repo         *Repo
	assembler    *retrieval.Assembler
	orchestrator *agent.Orchestrator
	history      *HistoryResolver
	provider     ai.Provider

	retrievalDefaults config.RetrievalSettings
	generation        config.GenerationSettings
	historySettings   config.HistorySettings

	logger log.Logger
}

func NewService(
	repo *Repo,
	assembler *retrieval.Assembler,
	orchestrator *agent.Orchestrator,
	history *HistoryResolver,
	provider ai.Provider,
	cfg config.Config,
	logger log.Logger,
) *Service {
	return &Service{
		repo:              repo,
		assembler:         assembler,
		orchestrator:      orchestrator,
		history:           history,
		provider:          provider,
		retrievalDefaults: cfg.Retrieval,
		generation:        cfg.Generation,
		historySettings:   cfg.History,
		logger:            logger,
	}
}

// NewSummaryService builds the slimmed-down service the worker binary
// needs. Only RunSummaryJob is usable on it.
func NewSummaryService(repo *Repo, provider ai.Provider, cfg config.Config) *Service {
	return &Service{
		repo:            repo,
		provider:        provider,
		historySettings: cfg.History,
		logger:          log.NewNop(),
	}
}

// StreamRequest is one validated inbound chat turn.
type StreamRequest struct {
	Tenant      *Tenant
	SessionID   string
	ThreadID    string // workspace mode only
	Message     string
	VisitorHash string // embed mode only; must match the session's visitor
	Categories  []string
}

// CreateSession opens a session for a tenant. Embed sessions carry the
// visitor hash and an expiry; workspace sessions carry the user id.
func (s *Service) CreateSession(ctx context.Context, tenant *Tenant, userID *uint64, visitorHash string) (*Session, error) {
	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		SessionID:      sid,
		TenantID:       tenant.ID,
		UserID:         userID,
		VisitorHash:    visitorHash,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if tenant.Mode == "embed" {
		exp := now.Add(embedSessionTTL)
		sess.ExpiresAt = &exp
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) CreateThread(ctx context.Context, sessionID, title string) (*Thread, error) {
	if _, err := s.repo.GetSessionBySessionID(ctx, sessionID); err != nil {
		return nil, err
	}
	tid, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	thread := &Thread{ThreadID: tid, SessionID: sessionID, Title: title}
	if err := s.repo.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *Service) ListThreads(ctx context.Context, sessionID string) ([]Thread, error) {
	return s.repo.ListThreads(ctx, sessionID)
}

// ArchiveThread hides a thread from listings and closes it to new turns.
// Its history stays readable through ListMessages.
func (s *Service) ArchiveThread(ctx context.Context, sessionID, threadID string) error {
	thread, err := s.repo.GetThreadByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.SessionID != sessionID {
		return gorm.ErrRecordNotFound
	}
	return s.repo.SetThreadArchived(ctx, threadID, true)
}

func (s *Service) ListMessages(ctx context.Context, scope Scope, limit int, beforeID uint64) ([]Message, error) {
	return s.repo.ListMessages(ctx, scope, limit, beforeID)
}

func (s *Service) GetArchivedMessages(ctx context.Context, scope Scope) ([]Message, error) {
	return s.repo.GetArchivedMessages(ctx, scope)
}

// ValidateSession checks tenant ownership and expiry before any cost is
// spent. Returns the session for reuse by the pipeline.
func (s *Service) ValidateSession(ctx context.Context, tenant *Tenant, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != tenant.ID {
		return nil, gorm.ErrRecordNotFound
	}
	if sess.ExpiresAt != nil && sess.ExpiresAt.Before(time.Now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// StreamReply starts the pipeline and returns its event stream. The caller
// consumes events until the channel closes; cancelling ctx stops the
// pipeline at its next suspension point.
func (s *Service) StreamReply(ctx context.Context, req StreamRequest) *stream.Session {
	ss := stream.NewSession(64)
	go s.run(ctx, req, ss)
	return ss
}

func (s *Service) run(ctx context.Context, req StreamRequest, ss *stream.Session) {
	start := time.Now()
	tenant := req.Tenant

	sess, err := s.ValidateSession(ctx, tenant, req.SessionID)
	if err != nil {
		ss.Fail(CodeValidation, "session not found or expired")
		return
	}
	// An embed session is bound to the visitor that opened it.
	if req.VisitorHash != "" && sess.VisitorHash != "" && req.VisitorHash != sess.VisitorHash {
		ss.Fail(CodeValidation, "session not found or expired")
		return
	}

	scope := Scope{TenantID: tenant.ID, SessionID: req.SessionID}
	var thread *Thread
	if req.ThreadID != "" {
		thread, err = s.repo.GetThreadByThreadID(ctx, req.ThreadID)
		if err != nil || thread.SessionID != req.SessionID {
			ss.Fail(CodeValidation, "thread not found")
			return
		}
		if thread.Archived {
			ss.Fail(CodeValidation, "thread is archived")
			return
		}
		scope.ThreadID = &thread.ThreadID
	}

	// The view is resolved before persisting the new turn so the
	// orchestrator appends the user message exactly once.
	view, err := s.history.Resolve(ctx, scope, sess, thread)
	if err != nil {
		s.failOrQuit(ctx, ss, CodeInternal, "failed to load history")
		return
	}

	userMsg := &Message{
		TenantID:  tenant.ID,
		SessionID: req.SessionID,
		ThreadID:  scope.ThreadID,
		Role:      "user",
		Content:   req.Message,
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		s.failOrQuit(ctx, ss, CodeInternal, "failed to persist message")
		return
	}
	if err := s.repo.TouchSession(ctx, req.SessionID); err != nil {
		s.logger.Warn("touch session failed", "session_id", req.SessionID, "error", err)
	}
	if thread != nil && thread.Title == "" {
		if err := s.repo.SetThreadTitle(ctx, thread.ThreadID, deriveTitle(req.Message)); err != nil {
			s.logger.Warn("set thread title failed", "thread_id", thread.ThreadID, "error", err)
		}
	}

	// RAG phase
	if err := ss.Advance(stream.PhaseRAG); err != nil {
		return
	}
	settings := s.retrievalDefaults
	if tenant.RetrievalVersion > 0 {
		settings.Version = tenant.RetrievalVersion
	}
	res, err := s.assembler.Assemble(ctx, req.Message, req.Categories, settings)
	if err != nil {
		// only context cancellation escapes the assembler
		ss.Cancel()
		return
	}
	if len(res.Chunks) > 0 {
		ss.Sources(toStreamSources(res.Chunks))
	}

	// Tool phase
	if err := ss.Advance(stream.PhaseTools); err != nil {
		return
	}
	systemPrompt := buildSystemPrompt(tenant, res.Context, view.Summary)
	enabled := tenant.ToolNames()

	var content string
	var usage ai.Usage

	sp, streams := s.provider.(ai.StreamProvider)
	if streams && !s.orchestrator.HasTools(enabled) {
		// No tools in play: forward provider deltas as they arrive
		// instead of re-splitting a completed answer.
		if err := ss.Advance(stream.PhaseGenerating); err != nil {
			return
		}
		content, err = s.streamGeneration(ctx, sp, systemPrompt, view.Messages, req.Message, ss)
		if err != nil {
			if ctx.Err() != nil {
				ss.Cancel()
				return
			}
			s.logger.Error("generation failed", "session_id", req.SessionID, "error", err)
			ss.Fail(CodeModelError, "language model call failed")
			return
		}
		if content == "" {
			content = "I was unable to produce a complete answer. Please try again."
			ss.Chunk(content)
		}
	} else {
		out, err := s.orchestrator.Run(ctx, agent.Input{
			SystemPrompt: systemPrompt,
			History:      view.Messages,
			UserMessage:  req.Message,
			EnabledTools: enabled,
			Settings:     s.generation,
		}, ss)
		if err != nil {
			if ctx.Err() != nil {
				ss.Cancel()
				return
			}
			s.logger.Error("generation failed", "session_id", req.SessionID, "error", err)
			ss.Fail(CodeModelError, "language model call failed")
			return
		}
		if out.Warning != "" {
			s.logger.Warn("generation finalized with warning", "session_id", req.SessionID, "warning", out.Warning)
		}
		usage = out.Usage

		content = out.Content
		if content == "" {
			content = "I was unable to produce a complete answer. Please try again."
		}

		// Generating phase: the chunk sequence reconstructs content exactly.
		if err := ss.Advance(stream.PhaseGenerating); err != nil {
			return
		}
		for _, chunk := range splitChunks(content, chunkRunes) {
			select {
			case <-ctx.Done():
				ss.Cancel()
				return
			case <-time.After(interChunkDelay):
			}
			ss.Chunk(chunk)
		}
	}
	if ctx.Err() != nil {
		ss.Cancel()
		return
	}

	assistantMsg := &Message{
		TenantID:         tenant.ID,
		SessionID:        req.SessionID,
		ThreadID:         scope.ThreadID,
		Role:             "assistant",
		Content:          content,
		Sources:          toMessageSources(res.Chunks),
		LatencyMS:        time.Since(start).Milliseconds(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		s.failOrQuit(ctx, ss, CodeInternal, "failed to persist message")
		return
	}

	ss.Done(assistantMsg.ID)
}

// streamGeneration drives one plain completion through the provider's
// streaming endpoint, forwarding each delta to the client. Returns the
// concatenated content for persistence.
func (s *Service) streamGeneration(ctx context.Context, sp ai.StreamProvider, systemPrompt string, history []ai.Message, userMessage string, ss *stream.Session) (string, error) {
	msgs := make([]ai.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, ai.Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, ai.Message{Role: "user", Content: userMessage})

	chunks, errs := sp.StreamChat(ctx, msgs)

	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
		ss.Chunk(c)
	}
	if err := <-errs; err != nil {
		return b.String(), err
	}
	return b.String(), nil
}

// failOrQuit distinguishes real failures from client cancellation; a
// cancelled request just winds down without an error event.
func (s *Service) failOrQuit(ctx context.Context, ss *stream.Session, code, msg string) {
	if ctx.Err() != nil {
		ss.Cancel()
		return
	}
	ss.Fail(code, msg)
}

// RunSummaryJob executes one queued summarization on the worker: generate
// the summary over everything outside the retained tail, store it, then
// flip the archived flags.
func (s *Service) RunSummaryJob(ctx context.Context, jobID string) error {
	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	job, err := s.repo.GetSummaryJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	scope := Scope{TenantID: job.TenantID, SessionID: job.SessionID, ThreadID: job.ThreadID}

	msgsDesc, err := s.repo.ListRecentMessagesDesc(ctx, scope, 1000)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	tail := s.historySettings.RetainedTail
	if len(msgsDesc) <= tail {
		return s.repo.MarkJobSucceeded(ctx, jobID)
	}
	olderDesc := msgsDesc[tail:]
	throughID := olderDesc[0].ID

	sess, err := s.repo.GetSessionBySessionID(ctx, job.SessionID)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}
	previous := sess.SummaryText
	if job.ThreadID != nil {
		if thread, err := s.repo.GetThreadByThreadID(ctx, *job.ThreadID); err == nil {
			previous = thread.SummaryText
		}
	}

	summary, err := s.provider.Chat(ctx, summaryPrompt(previous, olderDesc))
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return fmt.Errorf("summary generation: %w", err)
	}

	if err := s.repo.SetSummary(ctx, scope, summary, throughID); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}
	if err := s.repo.ArchiveThrough(ctx, scope, throughID); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}
	return s.repo.MarkJobSucceeded(ctx, jobID)
}

func summaryPrompt(previous string, olderDesc []Message) []ai.Message {
	var b strings.Builder
	if previous != "" {
		b.WriteString("Earlier summary:\n")
		b.WriteString(previous)
		b.WriteString("\n\nNew messages:\n")
	}
	// transcript in chronological order
	for i := len(olderDesc) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%s: %s\n", olderDesc[i].Role, olderDesc[i].Content)
	}
	return []ai.Message{
		{Role: "system", Content: "Summarize the conversation below in a few compact paragraphs. Preserve names, decisions and open questions; drop pleasantries."},
		{Role: "user", Content: b.String()},
	}
}

func buildSystemPrompt(tenant *Tenant, ragContext, summary string) string {
	base := tenant.SystemPrompt
	if base == "" {
		base = defaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	if summary != "" {
		b.WriteString("\n\nConversation so far (summarized):\n")
		b.WriteString(summary)
	}
	if ragContext != "" {
		b.WriteString("\n\nKnowledge base context:\n")
		b.WriteString(ragContext)
	}
	return b.String()
}

func toStreamSources(chunks []retrieval.Chunk) []stream.Source {
	out := make([]stream.Source, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, stream.Source{
			DocumentName: c.DocumentName,
			PageNumber:   c.PageNumber,
			Text:         c.Text,
			Score:        c.Score,
		})
	}
	return out
}

func toMessageSources(chunks []retrieval.Chunk) []Source {
	out := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Source{
			DocumentName: c.DocumentName,
			PageNumber:   c.PageNumber,
			ChunkText:    c.Text,
			Score:        c.Score,
		})
	}
	return out
}

// splitChunks cuts content into rune-bounded pieces whose concatenation is
// exactly the input.
func splitChunks(content string, size int) []string {
	if size <= 0 {
		size = chunkRunes
	}
	runes := []rune(content)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func deriveTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return title
}
