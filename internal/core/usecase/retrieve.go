package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/core/ports"
)

const defaultTopK = 5

// RetrievalOrchestrator is the public entry point of the retrieval core:
// semantic cache in front, multi-query fusion over recency-weighted vector
// search behind it. Collaborator outages degrade (cache to always-miss,
// paraphrasing to the single original query); only invalid input reaches the
// caller as an error.
type RetrievalOrchestrator struct {
	embedder   ports.Embedder
	store      ports.ChunkStore
	cache      ports.QueryResultCache
	variations *VariationGenerator
	fusion     *Fusion
	ranker     *RecencyRanker

	minSimilarity float64
	cacheTTL      time.Duration
	timeout       time.Duration
	instr         Instrumentation
	logger        *slog.Logger
	now           func() time.Time
}

type RetrievalOptions struct {
	MinSimilarity   float64
	CacheTTL        time.Duration
	Timeout         time.Duration
	Instrumentation Instrumentation
}

func NewRetrievalOrchestrator(
	embedder ports.Embedder,
	store ports.ChunkStore,
	cache ports.QueryResultCache,
	variations *VariationGenerator,
	fusion *Fusion,
	ranker *RecencyRanker,
	opts RetrievalOptions,
	logger *slog.Logger,
) (*RetrievalOrchestrator, error) {
	if embedder == nil || store == nil || variations == nil || fusion == nil || ranker == nil {
		return nil, domain.WrapError(domain.ErrInvalidConfig, "retrieval orchestrator",
			errors.New("embedder, store, variations, fusion and ranker are required"))
	}
	if opts.MinSimilarity < 0 || opts.MinSimilarity > 1 {
		return nil, domain.WrapError(domain.ErrInvalidConfig, "retrieval orchestrator",
			fmt.Errorf("min similarity must be in [0,1], got %g", opts.MinSimilarity))
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Instrumentation == nil {
		opts.Instrumentation = nopInstrumentation{}
	}
	return &RetrievalOrchestrator{
		embedder:      embedder,
		store:         store,
		cache:         cache,
		variations:    variations,
		fusion:        fusion,
		ranker:        ranker,
		minSimilarity: opts.MinSimilarity,
		cacheTTL:      opts.CacheTTL,
		timeout:       opts.Timeout,
		instr:         opts.Instrumentation,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Retrieve returns the topK chunks most relevant to query, ranked by
// recency-weighted similarity fused across query paraphrases. A negative
// recencyWeight selects the configured default.
func (o *RetrievalOrchestrator) Retrieve(
	ctx context.Context,
	query string,
	topK int,
	recencyWeight float64,
	space domain.EmbeddingSpace,
) ([]domain.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("empty query"))
	}
	if !space.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve",
			fmt.Errorf("unknown search type %q", string(space)))
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	weight := recencyWeight
	if weight < 0 {
		weight = o.ranker.DefaultWeight()
	}
	if !validRecencyWeight(weight) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve",
			fmt.Errorf("recency weight must be in [0,1], got %g", recencyWeight))
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, query, topK, space); ok {
			o.instr.CacheLookup(CacheOutcomeHit)
			o.logger.Debug("retrieval_cache_hit", "query", logPreview(query), "top_k", topK)
			return cached, nil
		}
		o.instr.CacheLookup(CacheOutcomeMiss)
	}

	variations := o.variations.Generate(ctx, query)
	o.instr.VariationsUsed(len(variations))
	results := o.fusion.Fuse(ctx, variations, o.searchVariation(space, weight), topK)

	if o.cache != nil && len(results) > 0 {
		o.cache.Set(ctx, query, results, topK, space, o.cacheTTL)
	}

	o.logger.Info("retrieval_complete",
		"query", logPreview(query),
		"variations", len(variations),
		"results", len(results),
		"search_type", string(space),
	)
	return results, nil
}

// searchVariation builds the per-variation retrieval: embed, nearest-neighbour
// search, then recency-weighted scoring. Dimension mismatches fail only this
// variation's path; fusion drops it without polluting the merged set.
func (o *RetrievalOrchestrator) searchVariation(space domain.EmbeddingSpace, weight float64) RetrieveFunc {
	return func(ctx context.Context, variation string, limit int) ([]domain.ScoredChunk, error) {
		vector, err := o.embedder.EmbedQuery(ctx, space, variation)
		if err != nil {
			return nil, fmt.Errorf("embed variation: %w", err)
		}
		if err := space.ValidateVector(vector); err != nil {
			return nil, err
		}

		hits, err := o.store.Search(ctx, space, vector, limit, o.minSimilarity)
		if err != nil {
			return nil, fmt.Errorf("search chunk store: %w", err)
		}

		now := o.now()
		out := make([]domain.ScoredChunk, 0, len(hits))
		for _, hit := range hits {
			age := now.Sub(hit.Metadata.CreatedAt)
			out = append(out, domain.ScoredChunk{
				Content:       hit.Content,
				RawSimilarity: hit.Similarity,
				RecencyBoost:  o.ranker.RecencyFactor(age),
				FinalScore:    o.ranker.Score(hit.Similarity, age, weight),
				SourceVariant: variation,
				Metadata:      hit.Metadata,
			})
		}
		return out, nil
	}
}

// logPreview shortens a query for log lines.
func logPreview(query string) string {
	const max = 50
	runes := []rune(query)
	if len(runes) <= max {
		return query
	}
	return string(runes[:max]) + "..."
}
