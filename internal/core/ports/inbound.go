package ports

import (
	"context"
	"io"

	"github.com/dmquang/docchat/internal/core/domain"
)

// Retriever is the inbound contract for ranked chunk retrieval. It always
// returns a (possibly empty) ranked list; collaborator outages degrade
// internally instead of surfacing to the caller.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, recencyWeight float64, space domain.EmbeddingSpace) ([]domain.ScoredChunk, error)
}

// AnswerService is the inbound contract for RAG answer generation.
type AnswerService interface {
	Answer(ctx context.Context, question string, limit int, space domain.EmbeddingSpace) (*domain.Answer, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentRemover deletes a document, its chunks and any cached retrievals
// that could still reference them.
type DocumentRemover interface {
	Delete(ctx context.Context, documentID string) error
}
