package httpadapter

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureDefaultLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAccessLogSkipsProbeEndpoints(t *testing.T) {
	buf := captureDefaultLogs(t)
	handler := accessLogMiddleware(okHandler())

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no access log for probe endpoints, got %s", buf.String())
	}
}

func TestAccessLogCarriesRouteTemplate(t *testing.T) {
	buf := captureDefaultLogs(t)
	handler := accessLogMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-42", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"route":"/v1/documents/{document_id}"`) {
		t.Fatalf("expected route template in access log, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"path":"/v1/documents/doc-42"`) {
		t.Fatalf("expected raw path in access log, got %s", buf.String())
	}
}
