package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/mkalas/ragline/internal/config"
	applog "github.com/mkalas/ragline/internal/log"
)

func historySettings() config.HistorySettings {
	return config.HistorySettings{WindowSize: 5, TokenThreshold: 100, RetainedTail: 2}
}

func seedMessages(t *testing.T, repo *Repo, scope Scope, n int, content string) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := repo.InsertMessage(context.Background(), &Message{
			TenantID: scope.TenantID, SessionID: scope.SessionID, ThreadID: scope.ThreadID,
			Role: role, Content: content,
		}); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}
}

func TestResolve_WindowedChronological(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	tenant, sess := seedTenantAndSession(t, repo, "01SESSHISTWINDOW0000000001")
	scope := Scope{TenantID: tenant.ID, SessionID: sess.SessionID}

	for i := 0; i < 8; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := repo.InsertMessage(context.Background(), &Message{
			TenantID: tenant.ID, SessionID: sess.SessionID, Role: role,
			Content: string(rune('a' + i)),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	h := NewHistoryResolver(repo, historySettings(), nil, applog.NewNop())
	view, err := h.Resolve(context.Background(), scope, sess, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if view.Summarized {
		t.Fatalf("no summary expected yet")
	}
	if len(view.Messages) != 5 {
		t.Fatalf("window = %d messages, want 5", len(view.Messages))
	}
	// oldest -> newest, ending with the most recent seed
	if view.Messages[0].Content != "d" || view.Messages[4].Content != "h" {
		t.Fatalf("window order wrong: first=%q last=%q", view.Messages[0].Content, view.Messages[4].Content)
	}
}

func TestResolve_SummaryShrinksWindow(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	tenant, _ := seedTenantAndSession(t, repo, "01SESSHISTSUMMARY000000001")
	scope := Scope{TenantID: tenant.ID, SessionID: "01SESSHISTSUMMARY000000001"}
	seedMessages(t, repo, scope, 8, "short")

	if err := repo.SetSummary(context.Background(), scope, "they discussed onboarding", 3); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	sess, err := repo.GetSessionBySessionID(context.Background(), scope.SessionID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}

	h := NewHistoryResolver(repo, historySettings(), nil, applog.NewNop())
	view, err := h.Resolve(context.Background(), scope, sess, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !view.Summarized || view.Summary != "they discussed onboarding" {
		t.Fatalf("summary not surfaced: %+v", view)
	}
	if len(view.Messages) != 2 {
		t.Fatalf("retained tail = %d, want 2", len(view.Messages))
	}
}

func TestResolve_ThresholdEnqueuesOnce(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	tenant, sess := seedTenantAndSession(t, repo, "01SESSHISTTRIGGER000000001")
	scope := Scope{TenantID: tenant.ID, SessionID: sess.SessionID}

	// threshold is 100 tokens = 200 content chars; exceed it comfortably
	seedMessages(t, repo, scope, 6, strings.Repeat("wordy ", 20))

	enqueue := &recordedEnqueue{}
	h := NewHistoryResolver(repo, historySettings(), enqueue, applog.NewNop())

	if _, err := h.Resolve(context.Background(), scope, sess, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(enqueue.jobIDs) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(enqueue.jobIDs))
	}

	// a pending job suppresses duplicates
	if _, err := h.Resolve(context.Background(), scope, sess, nil); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if len(enqueue.jobIDs) != 1 {
		t.Fatalf("duplicate job enqueued: %d", len(enqueue.jobIDs))
	}

	job, err := repo.GetSummaryJobByID(context.Background(), enqueue.jobIDs[0])
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != JobQueued || job.SessionID != scope.SessionID {
		t.Fatalf("job = %+v", job)
	}
}

func TestResolve_BelowThresholdNoJob(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	tenant, sess := seedTenantAndSession(t, repo, "01SESSHISTQUIET00000000001")
	scope := Scope{TenantID: tenant.ID, SessionID: sess.SessionID}
	seedMessages(t, repo, scope, 2, "hi")

	enqueue := &recordedEnqueue{}
	h := NewHistoryResolver(repo, historySettings(), enqueue, applog.NewNop())

	if _, err := h.Resolve(context.Background(), scope, sess, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(enqueue.jobIDs) != 0 {
		t.Fatalf("no job expected below the threshold")
	}
}

func TestEstimateTokensFromLength(t *testing.T) {
	if got := estimateTokensFromLength(4); got != 2 {
		t.Fatalf("estimateTokensFromLength(4) = %d", got)
	}
	if got := estimateTokensFromLength(0); got != 0 {
		t.Fatalf("estimateTokensFromLength(0) = %d", got)
	}
}
