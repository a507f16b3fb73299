package elasticsearch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/engine"
)

// testLogger returns a discard logger suitable for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeES is a minimal Elasticsearch stand-in that records every request
// and answers from a route table keyed by "METHOD /path".
type fakeES struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter)
}

func newFakeES(t *testing.T) (*fakeES, *Engine) {
	t.Helper()
	f := &fakeES{routes: make(map[string]func(http.ResponseWriter))}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	eng, err := New(Config{URL: srv.URL, Alias: "catalog"}, testLogger())
	require.NoError(t, err)
	return f, eng
}

func (f *fakeES) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	route, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
		return
	}
	route(w)
}

func (f *fakeES) on(methodPath string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[methodPath] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakeES) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeES) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestDocument(id string) domain.Document {
	doc := domain.Document{}
	doc.Add(domain.FieldNamespace, "default")
	doc.Add(domain.FieldID, id)
	doc.Add(domain.FieldCategory, int64(1), int64(2))
	doc.Add("name_t", "Hot Sauce")
	return doc
}

func TestEngine_AddDocuments_SendsBulkNDJSON(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("POST /_bulk", http.StatusOK, `{"errors":false,"items":[]}`)

	docs := []domain.Document{newTestDocument("default_product_1"), newTestDocument("default_product_2")}
	require.NoError(t, eng.AddDocuments(context.Background(), "catalog_a", docs))

	req := f.last()
	assert.Equal(t, "/_bulk", req.Path)

	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(req.Body))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)

	action := lines[0]["index"].(map[string]any)
	assert.Equal(t, "catalog_a", action["_index"])
	assert.Equal(t, "default_product_1", action["_id"])
	assert.Equal(t, "Hot Sauce", lines[1]["name_t"])
	assert.Equal(t, []any{float64(1), float64(2)}, lines[1]["category"])
}

func TestEngine_AddDocuments_EmptyIsNoop(t *testing.T) {
	f, eng := newFakeES(t)
	require.NoError(t, eng.AddDocuments(context.Background(), "catalog_a", nil))
	assert.Empty(t, f.all())
}

func TestEngine_AddDocuments_PartialErrors(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("POST /_bulk", http.StatusOK, `{"errors":true,"items":[{"index":{"_id":"default_product_1","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad date"}}}]}`)

	err := eng.AddDocuments(context.Background(), "catalog_a", []domain.Document{newTestDocument("default_product_1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
	assert.Contains(t, err.Error(), "default_product_1")
}

func TestEngine_Commit_Refreshes(t *testing.T) {
	f, eng := newFakeES(t)
	require.NoError(t, eng.Commit(context.Background(), "catalog_a"))

	req := f.last()
	assert.Equal(t, "/catalog_a/_refresh", req.Path)
}

func TestEngine_Commit_ErrorResponse(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("POST /catalog_a/_refresh", http.StatusBadRequest, `{"error":{"type":"index_closed_exception","reason":"closed"},"status":400}`)

	err := eng.Commit(context.Background(), "catalog_a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_closed_exception")
}

func TestEngine_Optimize_ForceMergesToOneSegment(t *testing.T) {
	f, eng := newFakeES(t)
	require.NoError(t, eng.Optimize(context.Background(), "catalog_b"))

	req := f.last()
	assert.Equal(t, "/catalog_b/_forcemerge", req.Path)
	assert.Contains(t, req.Query, "max_num_segments=1")
}

func TestEngine_DeleteByQuery_FiltersNamespaceAndIDs(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("POST /catalog_a/_delete_by_query", http.StatusOK, `{"deleted":3,"failures":[]}`)

	q := engine.Query{Namespace: "default", DocumentIDs: []string{"default_sku_9"}}
	require.NoError(t, eng.DeleteByQuery(context.Background(), "catalog_a", q))

	req := f.last()
	assert.Contains(t, req.Query, "conflicts=proceed")
	assert.JSONEq(t, `{"query":{"bool":{"filter":[
		{"term":{"namespace":"default"}},
		{"terms":{"id":["default_sku_9"]}}
	]}}}`, req.Body)
}

func TestEngine_DeleteByQuery_Failures(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("POST /catalog_a/_delete_by_query", http.StatusOK, `{"deleted":0,"failures":[{"id":"x","cause":{"type":"es_rejected_execution_exception","reason":"queue full"}}]}`)

	err := eng.DeleteByQuery(context.Background(), "catalog_a", engine.Query{Namespace: "default"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "es_rejected_execution_exception")
}

func TestEngine_PointAlias_MovesAtomically(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("GET /_alias/catalog", http.StatusOK, `{"catalog_a":{"aliases":{"catalog":{}}}}`)

	require.NoError(t, eng.PointAlias(context.Background(), "catalog_b"))

	req := f.last()
	assert.Equal(t, "/_aliases", req.Path)
	assert.JSONEq(t, `{"actions":[
		{"remove":{"index":"catalog_a","alias":"catalog"}},
		{"add":{"index":"catalog_b","alias":"catalog"}}
	]}`, req.Body)
}

func TestEngine_PointAlias_CreatesMissingAlias(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("GET /_alias/catalog", http.StatusNotFound, `{"error":"alias [catalog] missing","status":404}`)

	require.NoError(t, eng.PointAlias(context.Background(), "catalog_a"))
	assert.JSONEq(t, `{"actions":[{"add":{"index":"catalog_a","alias":"catalog"}}]}`, f.last().Body)
}

func TestEngine_ResolveAlias(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("GET /_alias/catalog", http.StatusOK, `{"catalog_b":{"aliases":{"catalog":{}}}}`)

	target, err := eng.ResolveAlias(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "catalog_b", target)
}

func TestEngine_ResolveAlias_Missing(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("GET /_alias/catalog", http.StatusNotFound, `{"error":"alias [catalog] missing","status":404}`)

	target, err := eng.ResolveAlias(context.Background())
	require.NoError(t, err)
	assert.Empty(t, target)
}

func TestEngine_ResolveAlias_SpansSeveralIndices(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("GET /_alias/catalog", http.StatusOK, `{"catalog_a":{"aliases":{"catalog":{}}},"catalog_b":{"aliases":{"catalog":{}}}}`)

	_, err := eng.ResolveAlias(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 indices")
}

func TestEngine_EnsureCores_CreatesMissing(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("HEAD /catalog_a", http.StatusOK, ``)
	f.on("HEAD /catalog_b", http.StatusNotFound, ``)

	require.NoError(t, eng.EnsureCores(context.Background(), "catalog_a", "catalog_b"))

	var created []string
	for _, r := range f.all() {
		if r.Method == http.MethodPut {
			created = append(created, r.Path)
			assert.Contains(t, r.Body, "dynamic_templates")
		}
	}
	assert.Equal(t, []string{"/catalog_b"}, created)
}

func TestEngine_Ping(t *testing.T) {
	_, eng := newFakeES(t)
	assert.NoError(t, eng.Ping(context.Background()))
}

func TestEngine_DeleteCore_IgnoresMissing(t *testing.T) {
	f, eng := newFakeES(t)
	f.on("DELETE /catalog_old", http.StatusNotFound, `{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`)

	assert.NoError(t, eng.DeleteCore(context.Background(), "catalog_old"))
}

func TestBuildCoreMapping_IsValidJSON(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(buildCoreMapping()), &m))
	assert.Contains(t, m, "mappings")
}
