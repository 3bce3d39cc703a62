package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/metrics"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func newTestServer(cfg Config) (*Server, *Tracker, *metrics.Recorder) {
	tracker := NewTracker(fakeClock{now: time.Unix(100, 0).UTC()})
	store := catalog.NewStore([]catalog.ProductRecord{{ID: "601099512345678", Title: "Cozy Lamp", UpdatedAt: 1}})
	recorder := metrics.New()
	return NewServer(tracker, store.Get, recorder, cfg, zap.NewNop()), tracker, recorder
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Config{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReflectsRunOutcome(t *testing.T) {
	t.Parallel()

	s, tracker, _ := newTestServer(Config{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"phase":"idle"`)

	tracker.Start("run-1")
	tracker.Finish(catalog.RunSummary{RunID: "run-1"}, errors.New("source ingestion failed"))
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "source ingestion failed")
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	s, tracker, _ := newTestServer(Config{})
	tracker.Start("run-7")
	tracker.SetPhase(PhaseResolving)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/v1/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "run-7", status.RunID)
	require.Equal(t, PhaseResolving, status.Phase)
	require.Nil(t, status.Summary)

	tracker.Finish(catalog.RunSummary{RunID: "run-7", Resolved: 4, CatalogSize: 9}, nil)
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/v1/run", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, PhaseDone, status.Phase)
	require.True(t, status.Completed)
	require.Equal(t, 4, status.Summary.Resolved)
}

func TestServer_GetProduct(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Config{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/v1/products/601099512345678", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"title":"Cozy Lamp"`)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/v1/products/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	noCatalog := NewServer(NewTracker(nil), nil, nil, Config{}, nil)
	rec = serve(noCatalog, httptest.NewRequest(http.MethodGet, "/v1/products/1", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpointCountsRequests(t *testing.T) {
	t.Parallel()

	s, _, recorder := newTestServer(Config{})
	recorder.SetCatalogSize(3)
	serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "catalog_size 3")
	require.Contains(t, body, `http_requests_total{code="200",method="GET"}`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Config{APIKey: "secret"})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	require.Equal(t, http.StatusOK, serve(s, req).Code)

	require.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil)).Code)
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
