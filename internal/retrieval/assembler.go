package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mkalas/ragline/internal/ai"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/log"
)

const cachePrefix = "rag:"

// Cache is the TTL key-value store in front of retrieval.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}

// Result is the assembled retrieval output for one request. It is transient
// but cached by content hash so identical queries skip the vector store.
type Result struct {
	Chunks     []Chunk  `json:"chunks"`
	Context    string   `json:"context"`
	Categories []string `json:"categories"`
	CacheHit   bool     `json:"-"`
}

// Assembler combines query expansion, embedding, vector search and the
// query cache into one bounded context per request.
type Assembler struct {
	retriever Retriever
	embedder  ai.Embedder
	cache     Cache
	expander  *Expander
	logger    log.Logger
}

func NewAssembler(retriever Retriever, embedder ai.Embedder, cache Cache, expander *Expander, logger log.Logger) *Assembler {
	if expander == nil {
		expander = NewExpander(nil)
	}
	return &Assembler{
		retriever: retriever,
		embedder:  embedder,
		cache:     cache,
		expander:  expander,
		logger:    logger,
	}
}

// Assemble resolves the context for query scoped to categories. Settings are
// an explicit per-request snapshot; Version feeds the cache key. A vector
// store or embedder failure degrades to an empty result, never an error.
func (a *Assembler) Assemble(ctx context.Context, query string, categories []string, settings config.RetrievalSettings) (*Result, error) {
	key := CacheKey(query, categories, settings.Version)

	if a.cache != nil {
		if raw, hit, err := a.cache.Get(ctx, key); err != nil {
			a.logger.Warn("query cache get failed", "error", err)
		} else if hit {
			var res Result
			if err := json.Unmarshal([]byte(raw), &res); err == nil {
				res.CacheHit = true
				return &res, nil
			}
			a.logger.Warn("query cache entry corrupt, refetching", "key", key)
		}
	}

	res := &Result{Categories: sortedCopy(categories)}

	expanded := a.expander.Expand(query)
	vector, err := a.embedder.Embed(ctx, expanded)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("embedding failed, continuing without context", "error", err)
		return res, nil
	}

	var merged []Chunk
	var degraded bool
	for _, cat := range res.Categories {
		chunks, err := a.retriever.Query(ctx, cat, vector, settings.TopK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("vector store unreachable, degrading", "category", cat, "error", err)
			degraded = true
			continue
		}
		for _, c := range chunks {
			if c.Score >= settings.ScoreThreshold {
				merged = append(merged, c)
			}
		}
	}

	// Score descending; ties break on (document id, chunk index) so the
	// same inputs always produce the same ordering.
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].DocumentID != merged[j].DocumentID {
			return merged[i].DocumentID < merged[j].DocumentID
		}
		return merged[i].ChunkIndex < merged[j].ChunkIndex
	})

	if settings.MaxChunks > 0 && len(merged) > settings.MaxChunks {
		merged = merged[:settings.MaxChunks]
	}

	res.Chunks = merged
	res.Context = buildContext(merged)

	// A degraded result is request-local. Caching it would keep serving the
	// hole for the whole TTL after the store recovers.
	if a.cache != nil && !degraded {
		if raw, err := json.Marshal(res); err == nil {
			if err := a.cache.Set(ctx, key, string(raw), settings.CacheTTL); err != nil {
				a.logger.Warn("query cache set failed", "error", err)
			}
		}
	}

	return res, nil
}

// InvalidateAll flushes every cached retrieval result. Called when tenant
// retrieval settings or documents change.
func (a *Assembler) InvalidateAll(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Invalidate(ctx, cachePrefix)
}

// CacheKey hashes (normalized query, sorted category set, settings version).
func CacheKey(query string, categories []string, version int) string {
	cats := sortedCopy(categories)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", normalizeQuery(query), strings.Join(cats, ","), version)
	return cachePrefix + hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func buildContext(chunks []Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s p.%d]\n%s", c.DocumentName, c.PageNumber, c.Text)
	}
	return b.String()
}
