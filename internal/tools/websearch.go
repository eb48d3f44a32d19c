package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkalas/ragline/internal/ai"
)

// Cache is the same TTL store the RAG assembler uses; search results live
// under their own prefix.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

const webCachePrefix = "web:"

type WebSearchTool struct {
	BaseURL  string
	APIKey   string
	Client   *http.Client
	Cache    Cache
	CacheTTL time.Duration
}

func NewWebSearchTool(baseURL, apiKey string, cache Cache, ttl time.Duration) *WebSearchTool {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &WebSearchTool{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 20 * time.Second},
		Cache:    cache,
		CacheTTL: ttl,
	}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) DisplayName() string { return "Web Search" }

func (t *WebSearchTool) Definition() ai.ToolDef {
	return ai.ToolDef{
		Name:        t.Name(),
		Description: "Search the web for current information. Use when the knowledge base cannot answer.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "search query"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchArgs struct {
	Query string `json:"query"`
}

type webSearchResp struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in webSearchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("web_search: bad arguments: %w", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("web_search: query is required")
	}

	key := webCacheKey(query)
	if t.Cache != nil {
		if v, hit, err := t.Cache.Get(ctx, key); err == nil && hit {
			return &Result{Content: v}, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if t.APIKey != "" {
		req.Header.Set("X-Subscription-Token", t.APIKey)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("web_search: status %d", resp.StatusCode)
	}

	var decoded webSearchResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("web_search: decode: %w", err)
	}

	var b strings.Builder
	for i, r := range decoded.Web.Results {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		content = "no results found"
	}

	if t.Cache != nil {
		_ = t.Cache.Set(ctx, key, content, t.CacheTTL)
	}
	return &Result{Content: content}, nil
}

func webCacheKey(query string) string {
	h := sha256.Sum256([]byte(strings.ToLower(query)))
	return webCachePrefix + hex.EncodeToString(h[:])
}
