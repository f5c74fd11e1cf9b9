package redis

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/core/ports"
)

// commander is the slice of the redis client the cache actually uses; tests
// substitute an in-memory fake.
type commander interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const (
	resultKeyPrefix    = "q"
	embeddingKeyPrefix = "qe"
)

// SemanticCache caches ranked result sets in Redis under an exact key derived
// from (query, topK, space), plus a sibling key holding the query embedding so
// paraphrased queries can hit via cosine similarity. Every failure path
// degrades to a miss; an unreachable Redis disables the cache entirely.
type SemanticCache struct {
	client    commander
	embedder  ports.Embedder
	threshold float64
	enabled   bool
	logger    *slog.Logger

	hits         atomic.Uint64
	semanticHits atomic.Uint64
	misses       atomic.Uint64
}

type CacheStats struct {
	Enabled       bool   `json:"enabled"`
	Entries       int    `json:"entries"`
	EmbeddingKeys int    `json:"embedding_keys"`
	Hits          uint64 `json:"hits"`
	SemanticHits  uint64 `json:"semantic_hits"`
	Misses        uint64 `json:"misses"`
}

type cachedEntry struct {
	Query    string               `json:"query"`
	Results  []domain.ScoredChunk `json:"results"`
	CachedAt time.Time            `json:"cached_at"`
}

func NewSemanticCache(client commander, embedder ports.Embedder, threshold float64, logger *slog.Logger) *SemanticCache {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.92
	}

	cache := &SemanticCache{
		client:    client,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("semantic_cache_disabled", "error", err)
		return cache
	}
	cache.enabled = true
	return cache
}

func (c *SemanticCache) Get(ctx context.Context, query string, topK int, space domain.EmbeddingSpace) ([]domain.ScoredChunk, bool) {
	if !c.enabled {
		return nil, false
	}

	key := resultKey(query, topK, space)
	if results, ok := c.getEntry(ctx, key); ok {
		c.hits.Add(1)
		c.logger.Debug("cache_hit", "kind", "exact", "key", key)
		return results, true
	}

	results, ok := c.semanticLookup(ctx, query, topK, space)
	if ok {
		c.semanticHits.Add(1)
		return results, true
	}

	c.misses.Add(1)
	return nil, false
}

func (c *SemanticCache) Set(ctx context.Context, query string, results []domain.ScoredChunk, topK int, space domain.EmbeddingSpace, ttl time.Duration) {
	if !c.enabled || ttl <= 0 {
		return
	}

	entry := cachedEntry{Query: query, Results: results, CachedAt: time.Now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache_set_marshal_failed", "error", err)
		return
	}
	if err := c.client.SetEx(ctx, resultKey(query, topK, space), payload, ttl).Err(); err != nil {
		c.logger.Warn("cache_set_failed", "error", err)
		return
	}

	// Without the embedding twin the entry still serves exact repeats; it just
	// cannot match paraphrases.
	vector, err := c.embedder.EmbedQuery(ctx, space, query)
	if err != nil {
		c.logger.Warn("cache_embedding_skipped", "error", err)
		return
	}
	vectorPayload, err := json.Marshal(vector)
	if err != nil {
		c.logger.Warn("cache_embedding_marshal_failed", "error", err)
		return
	}
	if err := c.client.SetEx(ctx, embeddingKey(query, topK, space), vectorPayload, ttl).Err(); err != nil {
		c.logger.Warn("cache_embedding_set_failed", "error", err)
	}
}

// Invalidate removes cached result sets matching pattern ("*" clears all) and
// their embedding twins. It returns the number of result entries removed.
func (c *SemanticCache) Invalidate(ctx context.Context, pattern string) int {
	if !c.enabled {
		return 0
	}
	if pattern == "" {
		pattern = "*"
	}

	resultKeys, err := c.client.Keys(ctx, resultKeyPrefix+":"+pattern).Result()
	if err != nil {
		c.logger.Warn("cache_invalidate_scan_failed", "error", err)
		return 0
	}
	embeddingKeys, err := c.client.Keys(ctx, embeddingKeyPrefix+":"+pattern).Result()
	if err != nil {
		c.logger.Warn("cache_invalidate_scan_failed", "error", err)
		embeddingKeys = nil
	}

	all := append(resultKeys, embeddingKeys...)
	if len(all) == 0 {
		return 0
	}
	if err := c.client.Del(ctx, all...).Err(); err != nil {
		c.logger.Warn("cache_invalidate_failed", "error", err)
		return 0
	}
	c.logger.Info("cache_invalidated", "pattern", pattern, "entries", len(resultKeys))
	return len(resultKeys)
}

func (c *SemanticCache) Stats(ctx context.Context) CacheStats {
	stats := CacheStats{
		Enabled:      c.enabled,
		Hits:         c.hits.Load(),
		SemanticHits: c.semanticHits.Load(),
		Misses:       c.misses.Load(),
	}
	if !c.enabled {
		return stats
	}
	if keys, err := c.client.Keys(ctx, resultKeyPrefix+":*").Result(); err == nil {
		stats.Entries = len(keys)
	}
	if keys, err := c.client.Keys(ctx, embeddingKeyPrefix+":*").Result(); err == nil {
		stats.EmbeddingKeys = len(keys)
	}
	return stats
}

func (c *SemanticCache) getEntry(ctx context.Context, key string) ([]domain.ScoredChunk, bool) {
	payload, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache_get_failed", "error", err)
		}
		return nil, false
	}
	var entry cachedEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		c.logger.Warn("cache_entry_corrupt", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return entry.Results, true
}

// semanticLookup scans stored query embeddings in the same (topK, space)
// bucket and serves the best match above the similarity threshold. Embedding
// keys whose result twin expired first are deleted as orphans.
func (c *SemanticCache) semanticLookup(ctx context.Context, query string, topK int, space domain.EmbeddingSpace) ([]domain.ScoredChunk, bool) {
	queryVector, err := c.embedder.EmbedQuery(ctx, space, query)
	if err != nil {
		c.logger.Warn("cache_semantic_embed_failed", "error", err)
		return nil, false
	}

	pattern := fmt.Sprintf("%s:%s:%d:*", embeddingKeyPrefix, space, topK)
	keys, err := c.client.Keys(ctx, pattern).Result()
	if err != nil {
		c.logger.Warn("cache_semantic_scan_failed", "error", err)
		return nil, false
	}

	bestKey := ""
	bestSim := c.threshold
	for _, key := range keys {
		payload, err := c.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var stored []float32
		if err := json.Unmarshal([]byte(payload), &stored); err != nil {
			_ = c.client.Del(ctx, key).Err()
			continue
		}
		sim := cosineSimilarity(queryVector, stored)
		if sim >= bestSim {
			bestSim = sim
			bestKey = key
		}
	}
	if bestKey == "" {
		return nil, false
	}

	twin := resultKeyFromEmbeddingKey(bestKey)
	results, ok := c.getEntry(ctx, twin)
	if !ok {
		_ = c.client.Del(ctx, bestKey).Err()
		return nil, false
	}
	c.logger.Debug("cache_hit", "kind", "semantic", "similarity", bestSim, "key", twin)
	return results, true
}

func resultKey(query string, topK int, space domain.EmbeddingSpace) string {
	return fmt.Sprintf("%s:%s:%d:%s", resultKeyPrefix, space, topK, queryHash(query))
}

func embeddingKey(query string, topK int, space domain.EmbeddingSpace) string {
	return fmt.Sprintf("%s:%s:%d:%s", embeddingKeyPrefix, space, topK, queryHash(query))
}

// resultKeyFromEmbeddingKey swaps the key prefix; both keys share the same
// space/topK/hash suffix.
func resultKeyFromEmbeddingKey(key string) string {
	return resultKeyPrefix + strings.TrimPrefix(key, embeddingKeyPrefix)
}

func queryHash(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
