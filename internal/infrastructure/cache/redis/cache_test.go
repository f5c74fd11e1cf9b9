package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmquang/docchat/internal/core/domain"
)

type commanderFake struct {
	store   map[string]string
	pingErr error
	getErr  error
}

func newCommanderFake() *commanderFake {
	return &commanderFake{store: map[string]string{}}
}

func (f *commanderFake) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *commanderFake) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	value, ok := f.store[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *commanderFake) SetEx(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.store[key] = string(v)
	case string:
		f.store[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *commanderFake) Keys(_ context.Context, pattern string) *redis.StringSliceCmd {
	var keys []string
	for key := range f.store {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return redis.NewStringSliceResult(keys, nil)
}

func (f *commanderFake) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := f.store[key]; ok {
			delete(f.store, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

type cacheEmbedderFake struct {
	vectors map[string][]float32
	err     error
}

func (f *cacheEmbedderFake) Embed(_ context.Context, space domain.EmbeddingSpace, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.EmbedQuery(context.Background(), space, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *cacheEmbedderFake) EmbedQuery(_ context.Context, _ domain.EmbeddingSpace, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, fake *commanderFake, embedder *cacheEmbedderFake) *SemanticCache {
	t.Helper()
	if embedder == nil {
		embedder = &cacheEmbedderFake{}
	}
	cache := NewSemanticCache(fake, embedder, 0.92, testLogger())
	if !cache.enabled {
		t.Fatalf("expected cache enabled")
	}
	return cache
}

func sampleResults() []domain.ScoredChunk {
	return []domain.ScoredChunk{{
		Content:    "giờ làm việc",
		FinalScore: 0.9,
		Metadata:   domain.ChunkMetadata{ChunkID: 1},
	}}
}

func TestCacheDisabledWhenPingFails(t *testing.T) {
	fake := newCommanderFake()
	fake.pingErr = errors.New("connection refused")
	cache := NewSemanticCache(fake, &cacheEmbedderFake{}, 0.92, testLogger())

	if cache.enabled {
		t.Fatalf("expected disabled cache")
	}
	cache.Set(context.Background(), "q", sampleResults(), 5, domain.SpaceText, time.Hour)
	if _, ok := cache.Get(context.Background(), "q", 5, domain.SpaceText); ok {
		t.Fatalf("disabled cache must always miss")
	}
}

func TestCacheExactRoundTrip(t *testing.T) {
	fake := newCommanderFake()
	cache := newTestCache(t, fake, nil)

	cache.Set(context.Background(), "Giờ làm việc?", sampleResults(), 5, domain.SpaceText, time.Hour)

	got, ok := cache.Get(context.Background(), "Giờ làm việc?", 5, domain.SpaceText)
	if !ok {
		t.Fatalf("expected exact hit")
	}
	if len(got) != 1 || got[0].Metadata.ChunkID != 1 {
		t.Fatalf("unexpected cached results %v", got)
	}
	if cache.hits.Load() != 1 {
		t.Fatalf("expected exact hit counted, hits=%d", cache.hits.Load())
	}
}

func TestCacheKeyNormalizesCaseAndWhitespace(t *testing.T) {
	fake := newCommanderFake()
	cache := newTestCache(t, fake, nil)

	cache.Set(context.Background(), "  HELLO  ", sampleResults(), 5, domain.SpaceText, time.Hour)
	if _, ok := cache.Get(context.Background(), "hello", 5, domain.SpaceText); !ok {
		t.Fatalf("expected normalized key to hit")
	}
}

func TestCacheTopKAndSpaceIsolation(t *testing.T) {
	fake := newCommanderFake()
	cache := newTestCache(t, fake, nil)

	cache.Set(context.Background(), "q", sampleResults(), 5, domain.SpaceText, time.Hour)

	if _, ok := cache.Get(context.Background(), "q", 10, domain.SpaceText); ok {
		t.Fatalf("different topK must miss")
	}
	if _, ok := cache.Get(context.Background(), "q", 5, domain.SpaceMultimodal); ok {
		t.Fatalf("different space must miss")
	}
}

func TestCacheSemanticHitForParaphrase(t *testing.T) {
	fake := newCommanderFake()
	embedder := &cacheEmbedderFake{vectors: map[string][]float32{
		"mấy giờ mở cửa":  {1, 0, 0},
		"giờ mở cửa là khi nào": {0.99, 0.14, 0},
	}}
	cache := newTestCache(t, fake, embedder)

	cache.Set(context.Background(), "mấy giờ mở cửa", sampleResults(), 5, domain.SpaceText, time.Hour)

	got, ok := cache.Get(context.Background(), "giờ mở cửa là khi nào", 5, domain.SpaceText)
	if !ok {
		t.Fatalf("expected semantic hit for near-identical embedding")
	}
	if got[0].Metadata.ChunkID != 1 {
		t.Fatalf("unexpected results %v", got)
	}
	if cache.semanticHits.Load() != 1 {
		t.Fatalf("expected semantic hit counted")
	}
}

func TestCacheSemanticMissBelowThreshold(t *testing.T) {
	fake := newCommanderFake()
	embedder := &cacheEmbedderFake{vectors: map[string][]float32{
		"thời tiết hôm nay": {1, 0, 0},
		"giá vàng":          {0, 1, 0},
	}}
	cache := newTestCache(t, fake, embedder)

	cache.Set(context.Background(), "thời tiết hôm nay", sampleResults(), 5, domain.SpaceText, time.Hour)

	if _, ok := cache.Get(context.Background(), "giá vàng", 5, domain.SpaceText); ok {
		t.Fatalf("orthogonal embeddings must miss")
	}
	if cache.misses.Load() != 1 {
		t.Fatalf("expected miss counted")
	}
}

func TestCacheEmbedFailureStillServesExactRepeats(t *testing.T) {
	fake := newCommanderFake()
	embedder := &cacheEmbedderFake{err: errors.New("embedder down")}
	cache := newTestCache(t, fake, embedder)

	cache.Set(context.Background(), "q", sampleResults(), 5, domain.SpaceText, time.Hour)

	if _, ok := cache.Get(context.Background(), "q", 5, domain.SpaceText); !ok {
		t.Fatalf("expected exact hit despite embedder outage")
	}
	stats := cache.Stats(context.Background())
	if stats.EmbeddingKeys != 0 {
		t.Fatalf("expected no embedding twin stored, got %d", stats.EmbeddingKeys)
	}
}

func TestCacheDeletesOrphanedEmbeddingKey(t *testing.T) {
	fake := newCommanderFake()
	embedder := &cacheEmbedderFake{vectors: map[string][]float32{
		"original":   {1, 0, 0},
		"paraphrase": {1, 0, 0},
	}}
	cache := newTestCache(t, fake, embedder)

	cache.Set(context.Background(), "original", sampleResults(), 5, domain.SpaceText, time.Hour)
	// Simulate the result key expiring before its embedding twin.
	delete(fake.store, resultKey("original", 5, domain.SpaceText))

	if _, ok := cache.Get(context.Background(), "paraphrase", 5, domain.SpaceText); ok {
		t.Fatalf("expected miss after result expiry")
	}
	if _, exists := fake.store[embeddingKey("original", 5, domain.SpaceText)]; exists {
		t.Fatalf("expected orphaned embedding key deleted")
	}
}

func TestCacheCorruptEntryDeletedAndMissed(t *testing.T) {
	fake := newCommanderFake()
	cache := newTestCache(t, fake, nil)

	key := resultKey("q", 5, domain.SpaceText)
	fake.store[key] = "{not json"

	if _, ok := cache.Get(context.Background(), "q", 5, domain.SpaceText); ok {
		t.Fatalf("expected miss on corrupt payload")
	}
	if _, exists := fake.store[key]; exists {
		t.Fatalf("expected corrupt entry deleted")
	}
}

func TestCacheInvalidateClearsEntriesAndTwins(t *testing.T) {
	fake := newCommanderFake()
	cache := newTestCache(t, fake, nil)

	cache.Set(context.Background(), "a", sampleResults(), 5, domain.SpaceText, time.Hour)
	cache.Set(context.Background(), "b", sampleResults(), 5, domain.SpaceText, time.Hour)

	removed := cache.Invalidate(context.Background(), "*")
	if removed != 2 {
		t.Fatalf("expected 2 entries removed, got %d", removed)
	}
	if len(fake.store) != 0 {
		t.Fatalf("expected all keys cleared, %d remain", len(fake.store))
	}
}

func TestCacheStatsCountsKeys(t *testing.T) {
	fake := newCommanderFake()
	cache := newTestCache(t, fake, nil)

	cache.Set(context.Background(), "a", sampleResults(), 5, domain.SpaceText, time.Hour)
	cache.Get(context.Background(), "a", 5, domain.SpaceText)
	cache.Get(context.Background(), "zzz", 5, domain.SpaceText)

	stats := cache.Stats(context.Background())
	if !stats.Enabled {
		t.Fatalf("expected enabled")
	}
	if stats.Entries != 1 || stats.EmbeddingKeys != 1 {
		t.Fatalf("unexpected key counts %+v", stats)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected counters %+v", stats)
	}
}

func TestCacheGetErrorDegradesToMiss(t *testing.T) {
	fake := newCommanderFake()
	cache := newTestCache(t, fake, nil)

	cache.Set(context.Background(), "q", sampleResults(), 5, domain.SpaceText, time.Hour)
	fake.getErr = errors.New("io timeout")

	if _, ok := cache.Get(context.Background(), "q", 5, domain.SpaceText); ok {
		t.Fatalf("expected miss on transport error")
	}
}

func TestCachedEntryRoundTripsScores(t *testing.T) {
	entry := cachedEntry{Query: "q", Results: sampleResults(), CachedAt: time.Now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded cachedEntry
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Results[0].FinalScore != 0.9 {
		t.Fatalf("score lost in round trip: %+v", decoded.Results[0])
	}
}
