package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/core/ports"
)

// AnswerUseCase composes the user-facing answer from retrieved chunks. When
// vector retrieval comes back empty or too weak it falls back to a keyword
// search before generating, so sparse embeddings do not silence the answer.
type AnswerUseCase struct {
	retriever      ports.Retriever
	store          ports.ChunkStore
	generator      ports.AnswerGenerator
	minAnswerScore float64
	instr          Instrumentation
	logger         *slog.Logger
}

func NewAnswerUseCase(
	retriever ports.Retriever,
	store ports.ChunkStore,
	generator ports.AnswerGenerator,
	minAnswerScore float64,
	instr Instrumentation,
	logger *slog.Logger,
) *AnswerUseCase {
	if instr == nil {
		instr = nopInstrumentation{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		retriever:      retriever,
		store:          store,
		generator:      generator,
		minAnswerScore: minAnswerScore,
		instr:          instr,
		logger:         logger,
	}
}

func (uc *AnswerUseCase) Answer(
	ctx context.Context,
	question string,
	limit int,
	space domain.EmbeddingSpace,
) (*domain.Answer, error) {
	if limit <= 0 {
		limit = defaultTopK
	}

	chunks, err := uc.retriever.Retrieve(ctx, question, limit, -1, space)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	source := ContextSourceVector
	if len(chunks) == 0 || chunks[0].FinalScore < uc.minAnswerScore {
		var usedLexical bool
		chunks, usedLexical = uc.lexicalFallback(ctx, question, limit, chunks)
		if usedLexical {
			source = ContextSourceLexical
		}
	}
	if len(chunks) == 0 {
		source = ContextSourceNone
	}

	answerText, err := uc.generator.GenerateAnswer(ctx, question, chunks)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	uc.instr.AnswerComposed(source)

	return &domain.Answer{
		Text:    answerText,
		Sources: chunks,
	}, nil
}

func (uc *AnswerUseCase) lexicalFallback(
	ctx context.Context,
	question string,
	limit int,
	vectorChunks []domain.ScoredChunk,
) ([]domain.ScoredChunk, bool) {
	hits, err := uc.store.SearchLexical(ctx, question, limit)
	if err != nil {
		uc.logger.Warn("lexical_fallback_failed", "error", err)
		return vectorChunks, false
	}
	if len(hits) == 0 {
		return vectorChunks, false
	}

	uc.logger.Info("lexical_fallback_used", "question", logPreview(question), "hits", len(hits))
	out := make([]domain.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		out = append(out, domain.ScoredChunk{
			Content:       hit.Content,
			RawSimilarity: hit.Similarity,
			FinalScore:    hit.Similarity,
			Metadata:      hit.Metadata,
		})
	}
	return out, true
}
