package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type memSearchCache struct {
	data map[string]string
}

func (m *memSearchCache) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memSearchCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_ = ctx
	_ = ttl
	m.data[key] = value
	return nil
}

func TestWebSearch_FormatsAndCaches(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Query().Get("q") != "golang generics" {
			t.Errorf("query = %q", r.URL.Query().Get("q"))
		}
		if r.Header.Get("X-Subscription-Token") != "test-key" {
			t.Errorf("missing subscription token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Go Generics","url":"https://go.dev/1","description":"intro"},
			{"title":"Type Params","url":"https://go.dev/2","description":"proposal"}
		]}}`))
	}))
	defer srv.Close()

	cache := &memSearchCache{data: map[string]string{}}
	tool := NewWebSearchTool(srv.URL, "test-key", cache, time.Minute)

	args := json.RawMessage(`{"query":"golang generics"}`)
	res, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Content, "Go Generics") || !strings.Contains(res.Content, "https://go.dev/2") {
		t.Fatalf("formatted content missing results: %q", res.Content)
	}

	// same query again is served from cache
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("cached execute: %v", err)
	}
	if requests != 1 {
		t.Fatalf("expected one upstream request, got %d", requests)
	}
}

func TestWebSearch_EmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL, "", nil, 0)
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"nothing matches this"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Content != "no results found" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestWebSearch_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL, "", nil, 0)
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x"}`)); err == nil {
		t.Fatalf("expected error on upstream 429")
	}
}

func TestWebSearch_RequiresQuery(t *testing.T) {
	tool := NewWebSearchTool("http://unused", "", nil, 0)
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`)); err == nil {
		t.Fatalf("expected error for blank query")
	}
}
