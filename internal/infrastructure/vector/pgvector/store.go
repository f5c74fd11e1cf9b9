package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmquang/docchat/internal/core/domain"
)

// Store keeps chunks and their embeddings in Postgres with the pgvector
// extension. Text-space and multimodal-space vectors live in separate columns
// on the same row, so a chunk can be retrievable in one space before the
// other is populated.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026021002)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	heading TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	source_file TEXT NOT NULL,
	file_type TEXT NOT NULL,
	embedding vector(%d),
	multimodal_embedding vector(%d),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_created_at ON chunks(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, domain.SpaceText.Dim(), domain.SpaceMultimodal.Dim())

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) Search(
	ctx context.Context,
	space domain.EmbeddingSpace,
	queryVector []float32,
	limit int,
	minSimilarity float64,
) ([]domain.RetrievedChunk, error) {
	if err := space.ValidateVector(queryVector); err != nil {
		return nil, err
	}
	column, err := embeddingColumn(space)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT id, document_id, heading, content, source_file, file_type, created_at,
	1 - (%[1]s <=> $1::vector) AS similarity
FROM chunks
WHERE %[1]s IS NOT NULL
	AND 1 - (%[1]s <=> $1::vector) >= $2
ORDER BY %[1]s <=> $1::vector
LIMIT $3
`, column)

	rows, err := s.db.QueryContext(ctx, query, vectorLiteral(queryVector), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return scanRetrievedChunks(rows)
}

// SearchLexical is the keyword fallback used when vector scores are too weak
// to answer from. Matches are ordered newest-first; similarity carries a
// neutral zero since no vector distance exists for them.
func (s *Store) SearchLexical(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, document_id, heading, content, source_file, file_type, created_at,
	0::double precision AS similarity
FROM chunks
WHERE content ILIKE '%' || $1 || '%' ESCAPE '\'
ORDER BY created_at DESC
LIMIT $2
`, escapeLikePattern(queryText), limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	return scanRetrievedChunks(rows)
}

func (s *Store) InsertChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) ([]int64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ids := make([]int64, 0, len(chunks))
	for _, chunk := range chunks {
		var id int64
		err := tx.QueryRowContext(ctx, `
INSERT INTO chunks (document_id, chunk_index, heading, content, source_file, file_type, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, doc.ID, chunk.ChunkIndex, chunk.Heading, chunk.Content, doc.Filename, doc.FileType, chunk.CreatedAt).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", chunk.ChunkIndex, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert tx: %w", err)
	}
	return ids, nil
}

func (s *Store) AttachEmbeddings(
	ctx context.Context,
	space domain.EmbeddingSpace,
	chunkIDs []int64,
	vectors [][]float32,
) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("attach embeddings: %d ids for %d vectors", len(chunkIDs), len(vectors))
	}
	column, err := embeddingColumn(space)
	if err != nil {
		return err
	}
	for _, vector := range vectors {
		if err := space.ValidateVector(vector); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attach tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := fmt.Sprintf(`UPDATE chunks SET %s = $2::vector WHERE id = $1`, column)
	for i, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, query, id, vectorLiteral(vectors[i])); err != nil {
			return fmt.Errorf("attach embedding to chunk %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attach tx: %w", err)
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete chunks rows affected: %w", err)
	}
	return affected, nil
}

func embeddingColumn(space domain.EmbeddingSpace) (string, error) {
	switch space {
	case domain.SpaceText:
		return "embedding", nil
	case domain.SpaceMultimodal:
		return "multimodal_embedding", nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "embedding column",
			fmt.Errorf("unknown space %q", space))
	}
}

// vectorLiteral renders a pgvector input literal, e.g. "[0.1,0.2,0.3]".
func vectorLiteral(vector []float32) string {
	var b strings.Builder
	b.Grow(len(vector)*10 + 2)
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func scanRetrievedChunks(rows *sql.Rows) ([]domain.RetrievedChunk, error) {
	var out []domain.RetrievedChunk
	for rows.Next() {
		var (
			id         int64
			documentID string
			heading    string
			content    string
			sourceFile string
			fileType   string
			createdAt  time.Time
			similarity float64
		)
		if err := rows.Scan(&id, &documentID, &heading, &content, &sourceFile, &fileType, &createdAt, &similarity); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, domain.RetrievedChunk{
			Content:    content,
			Similarity: clamp01(similarity),
			Metadata: domain.ChunkMetadata{
				ChunkID:    id,
				SourceFile: sourceFile,
				FileType:   fileType,
				Heading:    heading,
				Preview:    domain.Preview(content),
				CreatedAt:  createdAt,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLikePattern neutralizes LIKE metacharacters so user text only ever
// matches literally.
func escapeLikePattern(s string) string {
	return likeEscaper.Replace(s)
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
