package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/engine"
	"github.com/utafrali/catalogindex/internal/engine/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingBackend struct {
	*memory.Engine
	calls int
}

func (f *failingBackend) Commit(context.Context, string) error {
	f.calls++
	return errors.New("connection refused")
}

func testBreakerConfig() engine.BreakerConfig {
	cfg := engine.DefaultBreakerConfig("search")
	cfg.MinRequests = 2
	cfg.Timeout = time.Hour
	return cfg
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := engine.NewBreakerMetrics(reg)
	require.NoError(t, err)

	next := &failingBackend{Engine: memory.New()}
	b := engine.NewBreaker(next, testBreakerConfig(), metrics, testLogger())

	assert.Error(t, b.Commit(ctx, "primary"))
	assert.Error(t, b.Commit(ctx, "primary"))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err = b.Commit(ctx, "primary")
	assert.ErrorIs(t, err, engine.ErrCircuitOpen)
	assert.Equal(t, 2, next.calls)

	n, err := testutil.GatherAndCount(reg, "search_backend_circuit_breaker_state")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, b.Ping(ctx), "ping bypasses the breaker")
}

func TestBreaker_CanceledContextDoesNotTrip(t *testing.T) {
	canceled := &cancelingBackend{Engine: memory.New()}
	b := engine.NewBreaker(canceled, testBreakerConfig(), nil, testLogger())

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Optimize(context.Background(), "primary"), context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

type cancelingBackend struct {
	*memory.Engine
}

func (c *cancelingBackend) Optimize(context.Context, string) error {
	return context.Canceled
}

func TestBreaker_ForwardsDocumentsAndAlias(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.WithAlias("catalog"))
	b := engine.NewBreaker(mem, testBreakerConfig(), nil, testLogger())

	doc := domain.Document{}
	doc.Add(domain.FieldNamespace, "ns")
	doc.Add(domain.FieldID, "ns_sku_1")

	require.NoError(t, b.AddDocuments(ctx, "primary", []domain.Document{doc}))
	require.NoError(t, b.Commit(ctx, "primary"))
	require.NoError(t, b.DeleteByQuery(ctx, "primary", engine.Query{Namespace: "ns"}))
	require.NoError(t, b.Commit(ctx, "primary"))
	assert.Empty(t, mem.Documents("primary"))

	assert.Equal(t, "catalog", b.Alias())
	require.NoError(t, b.PointAlias(ctx, "primary"))
	assert.Equal(t, "primary", mem.AliasTarget())

	target, err := b.ResolveAlias(ctx)
	require.NoError(t, err)
	assert.Equal(t, "primary", target)
}

func TestQuery_Matches(t *testing.T) {
	doc := domain.Document{}
	doc.Add(domain.FieldNamespace, "ns")
	doc.Add(domain.FieldID, "ns_product_1")

	assert.True(t, engine.Query{Namespace: "ns"}.Matches(doc))
	assert.False(t, engine.Query{Namespace: "other"}.Matches(doc))
	assert.True(t, engine.Query{Namespace: "ns", DocumentIDs: []string{"ns_product_1"}}.Matches(doc))
	assert.False(t, engine.Query{Namespace: "ns", DocumentIDs: []string{"ns_product_2"}}.Matches(doc))
}
