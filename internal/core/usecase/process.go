package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/core/ports"
)

// ProcessDocumentUseCase turns an uploaded document into embedded chunks.
// Insertion is two-phase: chunk rows first, embeddings attached afterwards,
// so a failed embedding run leaves resumable rows instead of losing content.
type ProcessDocumentUseCase struct {
	repo              ports.DocumentRepository
	extractor         ports.TextExtractor
	chunker           ports.Chunker
	embedder          ports.Embedder
	store             ports.ChunkStore
	cache             ports.QueryResultCache
	multimodalEnabled bool
	logger            *slog.Logger
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	store ports.ChunkStore,
	cache ports.QueryResultCache,
	multimodalEnabled bool,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:              repo,
		extractor:         extractor,
		chunker:           chunker,
		embedder:          embedder,
		store:             store,
		cache:             cache,
		multimodalEnabled: multimodalEnabled,
		logger:            logger,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	chunkCount, err := uc.processPipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.markStatus(ctx, documentID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SetChunkCount(ctx, documentID, chunkCount); err != nil {
		return fmt.Errorf("persist chunk count: %w", err)
	}
	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}

	// Stored content changed, so any cached result set may now be stale.
	if uc.cache != nil {
		removed := uc.cache.Invalidate(ctx, "*")
		uc.logger.Info("query_cache_invalidated", "document_id", documentID, "removed", removed)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (int, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("fetch document by id: %w", err)
	}

	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}

	pieces := uc.chunker.Split(text)
	if len(pieces) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, domain.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    piece,
			CreatedAt:  now,
		})
	}

	chunkIDs, err := uc.store.InsertChunks(ctx, doc, chunks)
	if err != nil {
		return 0, fmt.Errorf("insert chunks: %w", err)
	}

	if err := uc.attachEmbeddings(ctx, domain.SpaceText, chunkIDs, pieces); err != nil {
		return 0, err
	}

	if uc.multimodalEnabled {
		// Multimodal vectors enrich retrieval but are not required for the
		// document to become searchable; failures leave the text space intact.
		if err := uc.attachEmbeddings(ctx, domain.SpaceMultimodal, chunkIDs, pieces); err != nil {
			uc.logger.Warn("multimodal_embedding_skipped", "document_id", doc.ID, "error", err)
		}
	}

	return len(chunks), nil
}

func (uc *ProcessDocumentUseCase) attachEmbeddings(
	ctx context.Context,
	space domain.EmbeddingSpace,
	chunkIDs []int64,
	pieces []string,
) error {
	vectors, err := uc.embedder.Embed(ctx, space, pieces)
	if err != nil {
		return fmt.Errorf("embed chunks (%s): %w", space, err)
	}
	if len(vectors) != len(chunkIDs) {
		return domain.WrapError(domain.ErrInvalidInput, "embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunkIDs)))
	}
	for _, vector := range vectors {
		if err := space.ValidateVector(vector); err != nil {
			return err
		}
	}
	if err := uc.store.AttachEmbeddings(ctx, space, chunkIDs, vectors); err != nil {
		return fmt.Errorf("attach embeddings (%s): %w", space, err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}
