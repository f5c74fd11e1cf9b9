package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmquang/docchat/internal/core/ports"
)

// RemoveDocumentUseCase deletes a document, cascades to its chunks and drops
// cached result sets that could still reference them.
type RemoveDocumentUseCase struct {
	repo   ports.DocumentRepository
	store  ports.ChunkStore
	cache  ports.QueryResultCache
	logger *slog.Logger
}

func NewRemoveDocumentUseCase(
	repo ports.DocumentRepository,
	store ports.ChunkStore,
	cache ports.QueryResultCache,
	logger *slog.Logger,
) *RemoveDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoveDocumentUseCase{
		repo:   repo,
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

func (uc *RemoveDocumentUseCase) Delete(ctx context.Context, documentID string) error {
	if _, err := uc.repo.GetByID(ctx, documentID); err != nil {
		return err
	}

	removedChunks, err := uc.store.DeleteByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	if err := uc.repo.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	removedEntries := 0
	if uc.cache != nil {
		removedEntries = uc.cache.Invalidate(ctx, "*")
	}

	uc.logger.Info("document_deleted",
		"document_id", documentID,
		"chunks_removed", removedChunks,
		"cache_entries_removed", removedEntries,
	)
	return nil
}
