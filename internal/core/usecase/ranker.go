package usecase

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dmquang/docchat/internal/core/domain"
)

// RecencyRanker blends raw vector similarity with an age-decayed recency
// factor. The decay is exponential with a configurable half-life, so the
// factor stays in [0,1] and the blend can never leave [0,1] either.
type RecencyRanker struct {
	defaultWeight float64
	halfLife      time.Duration
}

func NewRecencyRanker(defaultWeight float64, halfLife time.Duration) (*RecencyRanker, error) {
	if defaultWeight < 0 || defaultWeight > 1 {
		return nil, domain.WrapError(domain.ErrInvalidConfig, "recency ranker",
			fmt.Errorf("recency weight must be in [0,1], got %g", defaultWeight))
	}
	if halfLife <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidConfig, "recency ranker",
			fmt.Errorf("recency half-life must be positive, got %s", halfLife))
	}
	return &RecencyRanker{
		defaultWeight: defaultWeight,
		halfLife:      halfLife,
	}, nil
}

func (r *RecencyRanker) DefaultWeight() float64 {
	return r.defaultWeight
}

// RecencyFactor decays from 1 (age zero) towards 0 as the chunk ages; one
// half-life halves the contribution. Negative ages count as zero.
func (r *RecencyRanker) RecencyFactor(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	factor := math.Exp(-math.Ln2 * float64(age) / float64(r.halfLife))
	if factor > 1 {
		return 1
	}
	if factor < 0 {
		return 0
	}
	return factor
}

// Score returns (1-weight)*similarity + weight*recencyFactor(age). A zero
// weight reduces exactly to the raw similarity.
func (r *RecencyRanker) Score(rawSimilarity float64, age time.Duration, weight float64) float64 {
	sim := clamp01(rawSimilarity)
	if weight == 0 {
		return sim
	}
	return (1-weight)*sim + weight*r.RecencyFactor(age)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validRecencyWeight(weight float64) bool {
	return weight >= 0 && weight <= 1
}

// sortScoredChunks orders by final score descending; ties prefer the more
// recent chunk, then the lower chunk id, so repeated runs over identical
// inputs produce identical orderings.
func sortScoredChunks(chunks []domain.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].FinalScore != chunks[j].FinalScore {
			return chunks[i].FinalScore > chunks[j].FinalScore
		}
		if !chunks[i].Metadata.CreatedAt.Equal(chunks[j].Metadata.CreatedAt) {
			return chunks[i].Metadata.CreatedAt.After(chunks[j].Metadata.CreatedAt)
		}
		return chunks[i].Metadata.ChunkID < chunks[j].Metadata.ChunkID
	})
}
