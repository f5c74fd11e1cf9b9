package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmquang/docchat/internal/core/domain"
	rediscache "github.com/dmquang/docchat/internal/infrastructure/cache/redis"
)

type retrieverStub struct {
	results    []domain.ScoredChunk
	err        error
	lastQuery  string
	lastTopK   int
	lastWeight float64
	lastSpace  domain.EmbeddingSpace
}

func (s *retrieverStub) Retrieve(_ context.Context, query string, topK int, weight float64, space domain.EmbeddingSpace) ([]domain.ScoredChunk, error) {
	s.lastQuery = query
	s.lastTopK = topK
	s.lastWeight = weight
	s.lastSpace = space
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type answererStub struct {
	answer *domain.Answer
	err    error
}

func (s *answererStub) Answer(context.Context, string, int, domain.EmbeddingSpace) (*domain.Answer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.answer, nil
}

type ingestorStub struct {
	doc *domain.Document
	err error
}

func (s *ingestorStub) Upload(context.Context, string, string, io.Reader) (*domain.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

type removerStub struct {
	deleted []string
	err     error
}

func (s *removerStub) Delete(_ context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, id)
	return nil
}

type readerStub struct {
	doc *domain.Document
	err error
}

func (s *readerStub) GetByID(context.Context, string) (*domain.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

type cacheAdminStub struct {
	stats       rediscache.CacheStats
	invalidated []string
}

func (s *cacheAdminStub) Stats(context.Context) rediscache.CacheStats { return s.stats }

func (s *cacheAdminStub) Invalidate(_ context.Context, pattern string) int {
	s.invalidated = append(s.invalidated, pattern)
	return 3
}

type routerFixture struct {
	retriever *retrieverStub
	answerer  *answererStub
	ingestor  *ingestorStub
	remover   *removerStub
	reader    *readerStub
	cache     *cacheAdminStub
	handler   http.Handler
}

func newFixture(opts Options) *routerFixture {
	f := &routerFixture{
		retriever: &retrieverStub{},
		answerer:  &answererStub{answer: &domain.Answer{Text: "ok"}},
		ingestor:  &ingestorStub{doc: &domain.Document{ID: "doc-1", Status: domain.StatusUploaded}},
		remover:   &removerStub{},
		reader:    &readerStub{doc: &domain.Document{ID: "doc-1", Status: domain.StatusReady}},
		cache:     &cacheAdminStub{stats: rediscache.CacheStats{Enabled: true, Entries: 2}},
	}
	f.handler = NewRouter(f.retriever, f.answerer, f.ingestor, f.remover, f.reader, f.cache, nil, opts).Handler()
	return f
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrieveDefaultsAppliedWhenFieldsOmitted(t *testing.T) {
	f := newFixture(Options{DefaultTopK: 7})

	res := postJSON(t, f.handler, "/v1/retrieve", map[string]any{"query": "giờ làm việc"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if f.retriever.lastTopK != 7 {
		t.Fatalf("expected default top_k 7, got %d", f.retriever.lastTopK)
	}
	if f.retriever.lastWeight != -1 {
		t.Fatalf("expected sentinel weight -1, got %g", f.retriever.lastWeight)
	}
	if f.retriever.lastSpace != domain.SpaceText {
		t.Fatalf("expected default space text, got %s", f.retriever.lastSpace)
	}
}

func TestRetrieveExplicitZeroWeightIsPassedThrough(t *testing.T) {
	f := newFixture(Options{})

	res := postJSON(t, f.handler, "/v1/retrieve", map[string]any{
		"query":          "q",
		"recency_weight": 0.0,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if f.retriever.lastWeight != 0 {
		t.Fatalf("explicit 0 must not become the default, got %g", f.retriever.lastWeight)
	}
}

func TestRetrieveInvalidInputMapsTo400(t *testing.T) {
	f := newFixture(Options{})
	f.retriever.err = domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("empty query"))

	res := postJSON(t, f.handler, "/v1/retrieve", map[string]any{"query": "  "})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRetrieveEmptyResultsSerializeAsArray(t *testing.T) {
	f := newFixture(Options{})

	res := postJSON(t, f.handler, "/v1/retrieve", map[string]any{"query": "q"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"results":[]`) {
		t.Fatalf("expected empty array, got %s", res.Body.String())
	}
}

func TestRagQueryRequiresQuestion(t *testing.T) {
	f := newFixture(Options{})

	res := postJSON(t, f.handler, "/v1/rag/query", map[string]any{"question": "  "})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestRagQueryReturnsAnswer(t *testing.T) {
	f := newFixture(Options{})
	f.answerer.answer = &domain.Answer{
		Text:    "the answer",
		Sources: []domain.ScoredChunk{{Content: "src", FinalScore: 0.8}},
	}

	res := postJSON(t, f.handler, "/v1/rag/query", map[string]any{"question": "why?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var answer domain.Answer
	if err := json.Unmarshal(res.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Text != "the answer" || len(answer.Sources) != 1 {
		t.Fatalf("unexpected answer %+v", answer)
	}
}

func TestUploadDocumentAccepted(t *testing.T) {
	f := newFixture(Options{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "guide.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("content"))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
}

func TestUploadRequiresMultipartFile(t *testing.T) {
	f := newFixture(Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("{}"))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDocumentNotFoundMapsTo404(t *testing.T) {
	f := newFixture(Options{})
	f.reader.err = domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("id missing"))

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestDeleteDocumentRemoves(t *testing.T) {
	f := newFixture(Options{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/doc-1", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(f.remover.deleted) != 1 || f.remover.deleted[0] != "doc-1" {
		t.Fatalf("unexpected deletions %v", f.remover.deleted)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	f := newFixture(Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var stats rediscache.CacheStats
	if err := json.Unmarshal(res.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if !stats.Enabled || stats.Entries != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCacheInvalidateDefaultsToStar(t *testing.T) {
	f := newFixture(Options{})

	res := postJSON(t, f.handler, "/v1/cache/invalidate", map[string]any{})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(f.cache.invalidated) != 1 || f.cache.invalidated[0] != "*" {
		t.Fatalf("unexpected patterns %v", f.cache.invalidated)
	}
	if !strings.Contains(res.Body.String(), `"removed":3`) {
		t.Fatalf("expected removed count, got %s", res.Body.String())
	}
}

func TestTemporaryErrorMapsTo503(t *testing.T) {
	f := newFixture(Options{})
	f.answerer.err = domain.WrapError(domain.ErrTemporary, "generate", errors.New("llm down"))

	res := postJSON(t, f.handler, "/v1/rag/query", map[string]any{"question": "q"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	f := newFixture(Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}
