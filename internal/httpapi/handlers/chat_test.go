package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/mkalas/ragline/internal/agent"
	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/chat"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/httpapi/middleware"
	applog "github.com/mkalas/ragline/internal/log"
	"github.com/mkalas/ragline/internal/ratelimit"
	"github.com/mkalas/ragline/internal/retrieval"
	"github.com/mkalas/ragline/internal/tools"
	"gorm.io/gorm"
)

type stubToolProvider struct {
	content string
}

func (p *stubToolProvider) Complete(ctx context.Context, msgs []ai.Message, defs []ai.ToolDef) (*ai.Completion, error) {
	_ = ctx
	_ = msgs
	_ = defs
	return &ai.Completion{Content: p.content}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

type stubRetriever struct{}

func (stubRetriever) Query(ctx context.Context, categoryID string, vector []float32, topK int) ([]retrieval.Chunk, error) {
	return nil, nil
}

func (stubRetriever) DeleteCollection(ctx context.Context, categoryID string) error { return nil }

type memCounters struct {
	counts map[string]int64
}

func (m *memCounters) IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	_ = ctx
	_ = ttl
	m.counts[key]++
	return m.counts[key], nil
}

type embedFixture struct {
	engine *gin.Engine
	repo   *chat.Repo
	db     *gorm.DB
}

func newEmbedFixture(t *testing.T, dailyLimit int) *embedFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&chat.Tenant{}, &chat.Session{}, &chat.Thread{},
		&chat.Message{}, &chat.Source{}, &chat.SummaryJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	repo := chat.NewRepo(db)
	logger := applog.NewNop()
	cfg := config.Config{
		Retrieval:  config.RetrievalSettings{TopK: 5, ScoreThreshold: 0.3, MaxChunks: 8, CacheTTL: time.Minute, Version: 1},
		Generation: config.GenerationSettings{MaxToolIterations: 5, ToolTimeout: time.Second},
		RateLimit:  config.RateLimitSettings{DailyLimit: dailyLimit, SessionLimit: 100},
		History:    config.HistorySettings{WindowSize: 20, TokenThreshold: 100000, RetainedTail: 4},
	}

	assembler := retrieval.NewAssembler(stubRetriever{}, stubEmbedder{}, nil, nil, logger)
	orch := agent.NewOrchestrator(&stubToolProvider{content: "the answer"}, tools.NewRegistry(), logger)
	history := chat.NewHistoryResolver(repo, cfg.History, nil, logger)
	svc := chat.NewService(repo, assembler, orch, history, nil, cfg, logger)
	limiter := ratelimit.New(&memCounters{counts: map[string]int64{}})

	h := NewHandler(svc, repo, limiter, cfg, logger)

	r := gin.New()
	embed := r.Group("/embed")
	embed.Use(middleware.EmbedTenant(repo))
	embed.POST("/sessions", h.CreateEmbedSession)
	embed.POST("/chat/stream", h.EmbedChatStream)

	return &embedFixture{engine: r, repo: repo, db: db}
}

func (f *embedFixture) seedTenant(t *testing.T, widgetKey string) *chat.Tenant {
	t.Helper()
	tenant := &chat.Tenant{
		Name: "acme", Mode: "embed",
		WidgetKey: widgetKey, WidgetSecret: "secret",
	}
	if err := f.repo.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

func (f *embedFixture) createSession(t *testing.T, widgetKey string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/embed/sessions",
		strings.NewReader(`{"visitorId":"v-1"}`))
	req.Header.Set("X-Widget-Key", widgetKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("create session status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data struct {
			SessionID string `json:"sessionId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Data.SessionID
}

func (f *embedFixture) postStream(t *testing.T, widgetKey, sessionID, message string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"message": message, "sessionId": sessionID, "visitorId": "v-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/embed/chat/stream", strings.NewReader(string(body)))
	req.Header.Set("X-Widget-Key", widgetKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestEmbedChatStream_HappyPath(t *testing.T) {
	fx := newEmbedFixture(t, 10)
	fx.seedTenant(t, "wk-happy")
	sid := fx.createSession(t, "wk-happy")

	w := fx.postStream(t, "wk-happy", sid, "What is the leave policy?")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, frame := range []string{"event: status", "event: chunk", "event: done"} {
		if !strings.Contains(body, frame) {
			t.Fatalf("stream missing %q:\n%s", frame, body)
		}
	}
	if !strings.Contains(body, "the answer") {
		t.Fatalf("answer content not streamed:\n%s", body)
	}
}

func TestEmbedChatStream_DailyLimitRejectsBeforeStream(t *testing.T) {
	fx := newEmbedFixture(t, 2)
	fx.seedTenant(t, "wk-limited")
	sid := fx.createSession(t, "wk-limited")

	for i := 0; i < 2; i++ {
		if w := fx.postStream(t, "wk-limited", sid, "hello"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := fx.postStream(t, "wk-limited", sid, "one too many")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	// plain JSON rejection, not a stream
	if ct := w.Header().Get("Content-Type"); strings.Contains(ct, "text/event-stream") {
		t.Fatalf("rejection must not open a stream, content type = %q", ct)
	}
	var resp struct {
		Code int `json:"code"`
		Data struct {
			Code    string `json:"code"`
			ResetAt string `json:"reset_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if resp.Code != 42901 || resp.Data.Code != "RATE_LIMITED" || resp.Data.ResetAt == "" {
		t.Fatalf("429 body = %s", w.Body.String())
	}
}

func TestEmbedChatStream_Validation(t *testing.T) {
	fx := newEmbedFixture(t, 10)
	fx.seedTenant(t, "wk-valid")
	sid := fx.createSession(t, "wk-valid")

	// over-long message
	if w := fx.postStream(t, "wk-valid", sid, strings.Repeat("x", 4001)); w.Code != http.StatusBadRequest {
		t.Fatalf("long message status = %d, want 400", w.Code)
	}
	// unknown session
	if w := fx.postStream(t, "wk-valid", "01SESSNOSUCHSESSION0000001", "hi"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", w.Code)
	}
	// unknown widget key
	if w := fx.postStream(t, "wk-wrong", sid, "hi"); w.Code != http.StatusForbidden {
		t.Fatalf("unknown widget key status = %d, want 403", w.Code)
	}
}
