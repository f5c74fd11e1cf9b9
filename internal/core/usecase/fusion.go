package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"

	"github.com/dmquang/docchat/internal/core/domain"
)

type FusionStrategy string

const (
	// FusionMax keeps the highest score seen for a chunk.
	FusionMax FusionStrategy = "max"
	// FusionAverage takes the arithmetic mean over every appearance.
	FusionAverage FusionStrategy = "average"
	// FusionWeighted accumulates score/(variationIndex+1) so the original
	// query dominates and later paraphrases contribute less.
	FusionWeighted FusionStrategy = "weighted"
)

func ParseFusionStrategy(s string) (FusionStrategy, error) {
	switch FusionStrategy(s) {
	case FusionMax, FusionAverage, FusionWeighted:
		return FusionStrategy(s), nil
	default:
		return "", domain.WrapError(domain.ErrInvalidConfig, "fusion strategy",
			fmt.Errorf("unknown strategy %q, want max, average or weighted", s))
	}
}

// RetrieveFunc runs one retrieval for a single query variation.
type RetrieveFunc func(ctx context.Context, variation string, limit int) ([]domain.ScoredChunk, error)

// Fusion merges per-variation retrievals into one deduplicated ranking.
type Fusion struct {
	strategy FusionStrategy
	logger   *slog.Logger
}

func NewFusion(strategy string, logger *slog.Logger) (*Fusion, error) {
	parsed, err := ParseFusionStrategy(strategy)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fusion{strategy: parsed, logger: logger}, nil
}

type variationResult struct {
	index     int
	variation string
	chunks    []domain.ScoredChunk
	err       error
}

// Fuse retrieves each variation concurrently with a topK*2 over-fetch, joins
// once every retrieval finished or the context deadline expired, and merges
// whatever completed. A failed variation is logged and skipped; all failing
// yields an empty result, not an error.
func (f *Fusion) Fuse(ctx context.Context, variations []string, retrieve RetrieveFunc, topK int) []domain.ScoredChunk {
	if topK <= 0 || len(variations) == 0 {
		return nil
	}

	resultCh := make(chan variationResult, len(variations))
	for i, variation := range variations {
		go func(index int, variation string) {
			chunks, err := retrieve(ctx, variation, topK*2)
			resultCh <- variationResult{index: index, variation: variation, chunks: chunks, err: err}
		}(i, variation)
	}

	collected := make([]variationResult, 0, len(variations))
collect:
	for received := 0; received < len(variations); received++ {
		select {
		case res := <-resultCh:
			if res.err != nil {
				f.logger.Warn("variation_retrieval_failed",
					"variation", res.variation,
					"variation_index", res.index,
					"error", res.err,
				)
				continue
			}
			collected = append(collected, res)
		case <-ctx.Done():
			f.logger.Warn("fusion_deadline_elapsed",
				"completed", len(collected),
				"total", len(variations),
			)
			break collect
		}
	}

	return f.merge(collected, topK)
}

type fusedCandidate struct {
	chunk domain.ScoredChunk
	best  float64
	sum   float64
	count int
}

func (f *Fusion) merge(results []variationResult, topK int) []domain.ScoredChunk {
	// Deterministic merge order regardless of goroutine completion order.
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	acc := make(map[string]*fusedCandidate)
	order := make([]string, 0)
	for _, res := range results {
		for _, chunk := range res.chunks {
			key := fusionChunkKey(chunk)
			candidate, seen := acc[key]
			if !seen {
				candidate = &fusedCandidate{chunk: chunk}
				if f.strategy == FusionWeighted {
					candidate.chunk.FinalScore = 0
				}
				acc[key] = candidate
				order = append(order, key)
			}
			if chunk.FinalScore > candidate.best {
				candidate.best = chunk.FinalScore
			}
			candidate.sum += chunk.FinalScore
			candidate.count++
			if f.strategy == FusionWeighted {
				candidate.chunk.FinalScore += chunk.FinalScore / float64(res.index+1)
			}
		}
	}

	out := make([]domain.ScoredChunk, 0, len(acc))
	for _, key := range order {
		candidate := acc[key]
		switch f.strategy {
		case FusionAverage:
			candidate.chunk.FinalScore = candidate.sum / float64(candidate.count)
		case FusionMax:
			candidate.chunk.FinalScore = candidate.best
		}
		out = append(out, candidate.chunk)
	}

	sortScoredChunks(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// fusionChunkKey identifies a chunk across variations: the stable chunk id
// when present, otherwise a hash of its content.
func fusionChunkKey(chunk domain.ScoredChunk) string {
	if chunk.Metadata.ChunkID > 0 {
		return strconv.FormatInt(chunk.Metadata.ChunkID, 10)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(chunk.Content))
	return "content:" + strconv.FormatUint(h.Sum64(), 16)
}
