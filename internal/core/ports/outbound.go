package ports

import (
	"context"
	"io"
	"time"

	"github.com/dmquang/docchat/internal/core/domain"
)

// Embedder builds vectors in a declared embedding space. Implementations must
// return vectors of exactly space.Dim() elements or an error.
type Embedder interface {
	Embed(ctx context.Context, space domain.EmbeddingSpace, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, space domain.EmbeddingSpace, text string) ([]float32, error)
}

// ChunkStore is the nearest-neighbour store over embedded chunks. The
// retrieval path only reads; writes happen on the ingestion path.
type ChunkStore interface {
	// Search returns up to limit chunks ordered most-similar-first, dropping
	// rows whose similarity (1 - cosine distance, clamped to [0,1]) falls
	// below minSimilarity. An empty embedding space yields an empty result.
	Search(ctx context.Context, space domain.EmbeddingSpace, queryVector []float32, limit int, minSimilarity float64) ([]domain.RetrievedChunk, error)
	// SearchLexical is the keyword fallback used when vector hits are too weak.
	SearchLexical(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error)

	InsertChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) ([]int64, error)
	AttachEmbeddings(ctx context.Context, space domain.EmbeddingSpace, chunkIDs []int64, vectors [][]float32) error
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
}

// QueryResultCache caches ranked result sets keyed by (query, topK, space),
// with an embedding-similarity fallback for paraphrased queries. A nil or
// unavailable cache must behave as an always-miss, never as an error.
type QueryResultCache interface {
	Get(ctx context.Context, query string, topK int, space domain.EmbeddingSpace) ([]domain.ScoredChunk, bool)
	Set(ctx context.Context, query string, results []domain.ScoredChunk, topK int, space domain.EmbeddingSpace, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string) int
}

// TextGenerator is the single-shot prompt-to-completion collaborator used for
// query paraphrase generation and answer composition.
type TextGenerator interface {
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
}

// AnswerGenerator creates the final user-facing answer.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, chunks []domain.ScoredChunk) (string, error)
}

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, count int) error
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}
