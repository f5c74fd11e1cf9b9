package pgvector

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmquang/docchat/internal/core/domain"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &Store{db: db}, mock, func() { _ = db.Close() }
}

func chunkColumns() []string {
	return []string{"id", "document_id", "heading", "content", "source_file", "file_type", "created_at", "similarity"}
}

func textQueryVector() []float32 {
	return make([]float32, domain.SpaceText.Dim())
}

func TestSearchReturnsOrderedChunks(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(chunkColumns()).
		AddRow(int64(1), "doc-1", "Intro", "first chunk", "guide.pdf", "pdf", now, 0.91).
		AddRow(int64(2), "doc-1", "", "second chunk", "guide.pdf", "pdf", now, 0.72)

	mock.ExpectQuery(`SELECT id, document_id, heading, content, source_file, file_type, created_at`).
		WithArgs(sqlmock.AnyArg(), 0.3, 5).
		WillReturnRows(rows)

	hits, err := store.Search(context.Background(), domain.SpaceText, textQueryVector(), 5, 0.3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Metadata.ChunkID != 1 || hits[0].Similarity != 0.91 {
		t.Fatalf("unexpected first hit: %+v", hits[0])
	}
	if hits[1].Metadata.Preview != "second chunk" {
		t.Fatalf("expected preview from content, got %q", hits[1].Metadata.Preview)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	store, _, done := newStoreWithMock(t)
	defer done()

	_, err := store.Search(context.Background(), domain.SpaceText, []float32{1, 2, 3}, 5, 0.3)
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearchClampsSimilarityToUnitInterval(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	rows := sqlmock.NewRows(chunkColumns()).
		AddRow(int64(1), "doc-1", "", "x", "a.txt", "txt", time.Now().UTC(), 1.0000002)

	mock.ExpectQuery(`SELECT id, document_id`).
		WithArgs(sqlmock.AnyArg(), 0.0, 1).
		WillReturnRows(rows)

	hits, err := store.Search(context.Background(), domain.SpaceText, textQueryVector(), 1, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if hits[0].Similarity != 1 {
		t.Fatalf("expected similarity clamped to 1, got %g", hits[0].Similarity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchLexicalEmptyQueryShortCircuits(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	hits, err := store.SearchLexical(context.Background(), "   ", 5)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if hits != nil {
		t.Fatalf("expected nil hits, got %v", hits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchLexicalEscapesLikeMetacharacters(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	rows := sqlmock.NewRows(chunkColumns()).
		AddRow(int64(1), "doc-1", "", "discount is 100% for sure", "a.txt", "txt", time.Now().UTC(), 0.0)

	mock.ExpectQuery(`ILIKE '%' \|\| \$1 \|\| '%' ESCAPE`).
		WithArgs(`100\% sure`, 5).
		WillReturnRows(rows)

	hits, err := store.SearchLexical(context.Background(), "100% sure", 5)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEscapeLikePattern(t *testing.T) {
	got := escapeLikePattern(`50%_off\now`)
	want := `50\%\_off\\now`
	if got != want {
		t.Fatalf("escapeLikePattern() = %q, want %q", got, want)
	}
}

func TestInsertChunksReturnsGeneratedIDs(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	doc := &domain.Document{ID: "doc-1", Filename: "guide.pdf", FileType: "pdf"}
	now := time.Now().UTC()
	chunks := []domain.Chunk{
		{DocumentID: "doc-1", ChunkIndex: 0, Content: "a", CreatedAt: now},
		{DocumentID: "doc-1", ChunkIndex: 1, Content: "b", CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO chunks`).
		WithArgs("doc-1", 0, "", "a", "guide.pdf", "pdf", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(`INSERT INTO chunks`).
		WithArgs("doc-1", 1, "", "b", "guide.pdf", "pdf", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectCommit()

	ids, err := store.InsertChunks(context.Background(), doc, chunks)
	if err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 11 || ids[1] != 12 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAttachEmbeddingsRejectsCountMismatch(t *testing.T) {
	store, _, done := newStoreWithMock(t)
	defer done()

	err := store.AttachEmbeddings(context.Background(), domain.SpaceText, []int64{1, 2}, [][]float32{textQueryVector()})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestAttachEmbeddingsUpdatesRequestedColumn(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE chunks SET multimodal_embedding`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	vector := make([]float32, domain.SpaceMultimodal.Dim())
	err := store.AttachEmbeddings(context.Background(), domain.SpaceMultimodal, []int64{7}, [][]float32{vector})
	if err != nil {
		t.Fatalf("AttachEmbeddings() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteByDocumentReportsRemovedCount(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectExec(`DELETE FROM chunks`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	removed, err := store.DeleteByDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 removed, got %d", removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVectorLiteralFormat(t *testing.T) {
	got := vectorLiteral([]float32{0.5, -1, 2.25})
	if got != "[0.5,-1,2.25]" {
		t.Fatalf("unexpected literal %q", got)
	}
}
