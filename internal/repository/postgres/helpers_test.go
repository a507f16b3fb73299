package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/evalctx"
	"github.com/utafrali/catalogindex/pkg/database"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func evalCtx() context.Context {
	return evalctx.With(context.Background(), evalctx.Context{Now: now})
}

func int64Ptr(n int64) *int64       { return &n }
func float64Ptr(f float64) *float64 { return &f }
func strPtr(s string) *string       { return &s }
func timePtr(t time.Time) *time.Time { return &t }

var productColumnNames = []string{
	"id", "name", "description", "long_description", "manufacturer", "model", "url",
	"can_sell_without_options", "is_bundle", "default_sku_id", "active_start", "active_end",
	"attributes", "translations", "additional_sku_ids",
}

var skuColumnNames = []string{
	"id", "product_id", "name", "description", "retail_price", "sale_price",
	"active_start", "active_end", "attributes", "translations",
}

func productRow(id int64, name string, defaultSku *int64, additional []int64) []any {
	return []any{
		id, name, "", "", "Acme", "", "",
		true, false, defaultSku, timePtr(now.Add(-time.Hour)), (*time.Time)(nil),
		[]byte(`{}`), []byte(`{}`), additional,
	}
}

func skuRow(id int64, productID *int64, name string) []any {
	return []any{
		id, productID, name, "", float64Ptr(10), (*float64)(nil),
		timePtr(now.Add(-time.Hour)), (*time.Time)(nil), []byte(`{}`), []byte(`{}`),
	}
}
