package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/core/ports"
	rediscache "github.com/dmquang/docchat/internal/infrastructure/cache/redis"
	"github.com/dmquang/docchat/internal/observability/metrics"
)

const serviceName = "api"

// CacheAdmin exposes the operational surface of the query cache.
type CacheAdmin interface {
	Stats(ctx context.Context) rediscache.CacheStats
	Invalidate(ctx context.Context, pattern string) int
}

type Options struct {
	DefaultTopK    int
	DefaultSpace   domain.EmbeddingSpace
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	MaxWait        time.Duration
}

func (o Options) normalized() Options {
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = 5
	}
	if o.DefaultSpace == "" {
		o.DefaultSpace = domain.SpaceText
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 2 * time.Second
	}
	return o
}

type Router struct {
	retriever ports.Retriever
	answerer  ports.AnswerService
	ingestor  ports.DocumentIngestor
	remover   ports.DocumentRemover
	documents ports.DocumentReader
	cache     CacheAdmin
	metrics   *metrics.HTTPServerMetrics
	opts      Options
}

func NewRouter(
	retriever ports.Retriever,
	answerer ports.AnswerService,
	ingestor ports.DocumentIngestor,
	remover ports.DocumentRemover,
	documents ports.DocumentReader,
	cache CacheAdmin,
	m *metrics.HTTPServerMetrics,
	opts Options,
) *Router {
	return &Router{
		retriever: retriever,
		answerer:  answerer,
		ingestor:  ingestor,
		remover:   remover,
		documents: documents,
		cache:     cache,
		metrics:   m,
		opts:      opts.normalized(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/retrieve", rt.retrieve)
	mux.HandleFunc("/v1/rag/query", rt.ragQuery)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.documentByID)
	mux.HandleFunc("/v1/cache/stats", rt.cacheStats)
	mux.HandleFunc("/v1/cache/invalidate", rt.cacheInvalidate)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.MaxWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveRequest struct {
	Query         string   `json:"query"`
	TopK          int      `json:"top_k"`
	RecencyWeight *float64 `json:"recency_weight"`
	SearchType    string   `json:"search_type"`
}

type retrieveResponse struct {
	Results []domain.ScoredChunk `json:"results"`
	Count   int                  `json:"count"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = rt.opts.DefaultTopK
	}
	// Negative weight means "use the configured default" downstream.
	weight := -1.0
	if req.RecencyWeight != nil {
		weight = *req.RecencyWeight
	}
	space := rt.opts.DefaultSpace
	if req.SearchType != "" {
		space = domain.EmbeddingSpace(req.SearchType)
	}

	start := time.Now()
	results, err := rt.retriever.Retrieve(r.Context(), req.Query, topK, weight, space)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(serviceName, "/v1/retrieve", string(space), len(results), time.Since(start))
	}

	if results == nil {
		results = []domain.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Results: results, Count: len(results)})
}

type ragQueryRequest struct {
	Question   string `json:"question"`
	Limit      int    `json:"limit"`
	SearchType string `json:"search_type"`
}

func (rt *Router) ragQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req ragQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = rt.opts.DefaultTopK
	}
	space := rt.opts.DefaultSpace
	if req.SearchType != "" {
		space = domain.EmbeddingSpace(req.SearchType)
	}

	start := time.Now()
	answer, err := rt.answerer.Answer(r.Context(), req.Question, limit, space)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(serviceName, "/v1/rag/query", string(space), len(answer.Sources), time.Since(start))
	}

	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingestor.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) documentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := rt.documents.GetByID(r.Context(), id)
		if err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := rt.remover.Delete(r.Context(), id); err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) cacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.cache == nil {
		writeJSON(w, http.StatusOK, rediscache.CacheStats{})
		return
	}
	writeJSON(w, http.StatusOK, rt.cache.Stats(r.Context()))
}

type invalidateRequest struct {
	Pattern string `json:"pattern"`
}

func (rt *Router) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req invalidateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Pattern == "" {
		req.Pattern = "*"
	}

	removed := 0
	if rt.cache != nil {
		removed = rt.cache.Invalidate(r.Context(), req.Pattern)
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "pattern": req.Pattern})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
