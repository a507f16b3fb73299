package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/cores"
	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/evalctx"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
)

var rebuildClock = time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)

func newTestCoordinator(env *testEnv, pageSize int, opts ...CoordinatorOption) *Coordinator {
	opts = append([]CoordinatorOption{WithClock(func() time.Time { return rebuildClock })}, opts...)
	return NewCoordinator(CoordinatorConfig{Namespace: testNamespace, PageSize: pageSize}, env.deps, opts...)
}

func threeProducts() []*domain.Product {
	return []*domain.Product{newTestProduct(1, "a"), newTestProduct(2, "b"), newTestProduct(3, "c")}
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []Run
	err  error
}

func (n *recordingNotifier) IndexRebuilt(_ context.Context, run Run) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	return n.err
}

// hookTx runs hook before every transaction.
type hookTx struct {
	*fakeTx
	hook func()
}

func (h hookTx) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	h.hook()
	return h.fakeTx.WithinTx(ctx, fn)
}

func TestCoordinator_Rebuild_DualCore(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	c := newTestCoordinator(env, 2)

	require.NoError(t, c.Rebuild(env.ctx()))

	assert.Equal(t, []string{
		"add:reindex", "commit:reindex",
		"add:reindex", "commit:reindex",
		"optimize:reindex",
		"delete:primary", "commit:primary",
	}, env.backend.Ops())
	assert.Equal(t, []int{0, 1}, env.catalog.pages)
	assert.Len(t, env.backend.Documents("reindex"), 3)

	pair := env.cores.Current()
	assert.Equal(t, "reindex", pair.Active)
	assert.Equal(t, "primary", pair.Staging)
	assert.Equal(t, uint64(1), pair.Generation)
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_Rebuild_SecondRunWritesIntoOtherCore(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	c := newTestCoordinator(env, 10)

	require.NoError(t, c.Rebuild(env.ctx()))
	require.NoError(t, c.Rebuild(env.ctx()))

	ops := env.backend.Ops()
	assert.Equal(t, []string{
		"add:primary", "commit:primary", "optimize:primary", "delete:reindex", "commit:reindex",
	}, ops[len(ops)-5:])
	assert.Equal(t, "primary", env.cores.Active())
	assert.Len(t, env.backend.Documents("primary"), 3)
	assert.Empty(t, env.backend.Documents("reindex"))
}

func TestCoordinator_Rebuild_SingleCorePurgesFirst(t *testing.T) {
	env := newTestEnv(t, "catalog", "catalog")
	env.catalog.products = threeProducts()
	c := newTestCoordinator(env, 2)

	require.NoError(t, c.Rebuild(env.ctx()))

	assert.Equal(t, []string{
		"delete:catalog", "commit:catalog",
		"add:catalog", "commit:catalog",
		"add:catalog", "commit:catalog",
		"optimize:catalog",
	}, env.backend.Ops())
	assert.Equal(t, uint64(0), env.cores.Current().Generation)
	assert.Len(t, env.backend.Documents("catalog"), 3)
}

func TestCoordinator_Rebuild_MovesAliasBeforeSwap(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.backend = newRecordingBackend("catalog")
	env.rewire()
	env.catalog.products = threeProducts()
	c := newTestCoordinator(env, 10)

	require.NoError(t, c.Rebuild(env.ctx()))

	assert.Equal(t, []string{
		"add:reindex", "commit:reindex", "optimize:reindex",
		"alias:reindex",
		"delete:primary", "commit:primary",
	}, env.backend.Ops())
	assert.Equal(t, "reindex", env.backend.AliasTarget())
	assert.Equal(t, "reindex", env.cores.Active())
}

func TestCoordinator_Rebuild_AliasFailureKeepsCores(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.backend = newRecordingBackend("catalog")
	env.backend.failures["alias:reindex"] = errors.New("index_not_found")
	env.rewire()
	c := newTestCoordinator(env, 10)

	err := c.Rebuild(env.ctx())
	assert.True(t, apperrors.IsServiceFailure(err))
	assert.Equal(t, "primary", env.cores.Active())
	assert.NotContains(t, env.backend.Ops(), "delete:primary")
}

func TestCoordinator_Rebuild_FreshRegistryFollowsAlias(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.backend = newRecordingBackend("catalog")
	env.rewire()
	env.catalog.products = threeProducts()
	require.NoError(t, newTestCoordinator(env, 2).Rebuild(env.ctx()))
	require.Equal(t, "reindex", env.backend.AliasTarget())

	// A restarted process begins with primary assumed active.
	fresh, err := cores.NewRegistry("primary", "reindex")
	require.NoError(t, err)
	env.cores = fresh
	env.rewire()
	env.backend.ops = nil
	env.catalog.products[0].Name = "renamed"
	env.catalog.readErr[1] = errors.New("read timeout")

	err = newTestCoordinator(env, 2).Rebuild(env.ctx())
	require.Error(t, err)

	assert.Equal(t, []string{"add:primary", "commit:primary"}, env.backend.Ops())
	assert.Equal(t, "reindex", env.cores.Active())
	assert.Equal(t, "reindex", env.backend.AliasTarget())
	live, ok := env.backend.Document("reindex", "default_product_1")
	require.True(t, ok)
	assert.Equal(t, []any{"a"}, live.Values("name_t"))
}

func TestCoordinator_Rebuild_AliasOnForeignCoreRefused(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.backend = newRecordingBackend("catalog")
	env.rewire()
	env.catalog.products = threeProducts()
	require.NoError(t, env.backend.Engine.PointAlias(context.Background(), "catalog_old"))

	err := newTestCoordinator(env, 2).Rebuild(env.ctx())
	assert.ErrorIs(t, err, cores.ErrUnknownCore)
	assert.Empty(t, env.backend.Ops())
	assert.Empty(t, env.catalog.pages)
}

func TestCoordinator_SyncCores_RoutesItemsToAliasedCore(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.backend = newRecordingBackend("catalog")
	env.rewire()
	env.catalog.products = []*domain.Product{newTestProduct(1, "a")}
	require.NoError(t, env.backend.Engine.PointAlias(context.Background(), "reindex"))

	c := newTestCoordinator(env, 10)
	require.NoError(t, c.SyncCores(context.Background()))
	assert.Equal(t, cores.Pair{Active: "reindex", Staging: "primary"}, env.cores.Current())

	require.NoError(t, c.Indexer().IndexItem(env.ctx(), domain.KindProduct, 1))
	assert.Equal(t, []string{"add:reindex", "commit:reindex"}, env.backend.Ops())
}

func TestCoordinator_SyncCores_NoAliasYet(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.backend = newRecordingBackend("catalog")
	env.rewire()

	require.NoError(t, newTestCoordinator(env, 10).SyncCores(context.Background()))
	assert.Equal(t, "primary", env.cores.Active())
}

func TestCoordinator_Rebuild_RejectsNonPositivePageSize(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	c := newTestCoordinator(env, 0)

	err := c.Rebuild(env.ctx())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Empty(t, env.backend.Ops())
	assert.Equal(t, "primary", env.cores.Active())
	assert.Nil(t, c.Status().LastRun)
}

func TestCoordinator_RebuildRun_ReturnsOwnRun(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	c := newTestCoordinator(env, 2)

	run, err := c.RebuildRun(env.ctx())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 3, run.Documents)
	assert.Equal(t, "reindex", run.Core)
	assert.False(t, run.FinishedAt.IsZero())
	assert.Equal(t, c.Status().LastRun.ID, run.ID)

	env.catalog.readErr[0] = errors.New("read timeout")
	failed, err := c.RebuildRun(env.ctx())
	require.Error(t, err)
	assert.NotEqual(t, run.ID, failed.ID)
	assert.Contains(t, failed.Error, "read timeout")
}

func TestCoordinator_Rebuild_EmptyCatalogStillSwaps(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	c := newTestCoordinator(env, 10)

	require.NoError(t, c.Rebuild(env.ctx()))

	assert.Empty(t, env.catalog.pages)
	assert.Equal(t, []string{"optimize:reindex", "delete:primary", "commit:primary"}, env.backend.Ops())
	assert.Equal(t, "reindex", env.cores.Active())
}

func TestCoordinator_Rebuild_PageFailureStopsWithoutSwap(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	cause := errors.New("read timeout")
	env.catalog.readErr[1] = cause
	c := newTestCoordinator(env, 2)

	err := c.Rebuild(env.ctx())
	require.ErrorIs(t, err, cause)

	assert.Equal(t, []string{"add:reindex", "commit:reindex"}, env.backend.Ops())
	assert.Equal(t, "primary", env.cores.Active())
	assert.Equal(t, StateIdle, c.State())

	last := c.Status().LastRun
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Pages)
	assert.Contains(t, last.Error, "read timeout")
}

func TestCoordinator_Rebuild_BackendFailureStopsWithoutSwap(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	env.backend.failures["add:reindex#2"] = errors.New("bulk rejected")
	c := newTestCoordinator(env, 2)

	err := c.Rebuild(env.ctx())
	assert.True(t, apperrors.IsServiceFailure(err))
	assert.Equal(t, "primary", env.cores.Active())
	assert.NotContains(t, env.backend.Ops(), "optimize:reindex")
	assert.Equal(t, 1, env.tx.rollbacks)
}

func TestCoordinator_Rebuild_OptimizeFailureStopsWithoutSwap(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.backend.failures["optimize:reindex"] = errors.New("merge failed")
	c := newTestCoordinator(env, 2)

	err := c.Rebuild(env.ctx())
	assert.True(t, apperrors.IsServiceFailure(err))
	assert.Equal(t, "primary", env.cores.Active())
}

func TestCoordinator_Rebuild_SingleCorePurgeFailure(t *testing.T) {
	env := newTestEnv(t, "catalog", "catalog")
	env.catalog.products = threeProducts()
	env.backend.failures["delete:catalog"] = errors.New("unavailable")
	c := newTestCoordinator(env, 2)

	err := c.Rebuild(env.ctx())
	assert.True(t, apperrors.IsServiceFailure(err))
	assert.Empty(t, env.catalog.pages)
}

func TestCoordinator_Rebuild_LeavesCallerContextUntouched(t *testing.T) {
	for _, tc := range []struct {
		name    string
		readErr error
	}{
		{"success", nil},
		{"failure mid paging", errors.New("boom")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, "primary", "reindex")
			env.catalog.products = threeProducts()
			if tc.readErr != nil {
				env.catalog.readErr[1] = tc.readErr
			}
			c := newTestCoordinator(env, 2)

			before := evalctx.Context{
				LocaleCode:            "fr_FR",
				Currency:              "EUR",
				PricingConsiderations: map[string]string{"tier": "gold"},
				Now:                   testNow,
			}
			ctx := evalctx.With(context.Background(), before)

			err := c.Rebuild(ctx)
			if tc.readErr != nil {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			after, ok := evalctx.From(ctx)
			require.True(t, ok)
			assert.True(t, evalctx.Equal(before, after))

			require.NotEmpty(t, env.catalog.seen)
			for _, seen := range env.catalog.seen {
				assert.Empty(t, seen.LocaleCode)
				assert.Empty(t, seen.PricingConsiderations)
				assert.Equal(t, "EUR", seen.Currency)
				assert.True(t, rebuildClock.Equal(seen.Now))
			}
		})
	}
}

func TestCoordinator_Rebuild_ConflictWhileRunning(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	guard := NewLocalGuard()
	release, err := guard.Acquire(context.Background(), testNamespace)
	require.NoError(t, err)

	c := newTestCoordinator(env, 2, WithGuard(guard))
	err = c.Rebuild(env.ctx())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Empty(t, env.backend.Ops())

	release()
	assert.NoError(t, c.Rebuild(env.ctx()))
}

func TestCoordinator_Status(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.structure.parentsByProduct[1] = []int64{10}
	env.catalog.products = threeProducts()
	var (
		c      *Coordinator
		during []Status
	)
	env.deps.Tx = hookTx{fakeTx: env.tx, hook: func() { during = append(during, c.Status()) }}
	c = newTestCoordinator(env, 2)

	idle := c.Status()
	assert.Equal(t, StateIdle, idle.State)
	assert.Nil(t, idle.Running)
	assert.Nil(t, idle.LastRun)
	assert.Equal(t, "primary", idle.Cores.Active)

	require.NoError(t, c.Rebuild(env.ctx()))

	require.Len(t, during, 2)
	assert.Equal(t, StatePaging, during[0].State)
	require.NotNil(t, during[0].Running)
	assert.Equal(t, 3, during[0].Running.Total)
	assert.Equal(t, "reindex", during[0].Running.Core)
	assert.Equal(t, 1, during[1].Running.Pages)
	assert.Positive(t, during[1].CacheSize)

	done := c.Status()
	assert.Equal(t, StateIdle, done.State)
	assert.Nil(t, done.Running)
	assert.Zero(t, done.CacheSize)
	require.NotNil(t, done.LastRun)
	assert.Equal(t, testNamespace, done.LastRun.Namespace)
	assert.Equal(t, 3, done.LastRun.Total)
	assert.Equal(t, 2, done.LastRun.Pages)
	assert.Equal(t, 3, done.LastRun.Documents)
	assert.Equal(t, rebuildClock, done.LastRun.StartedAt)
	assert.Empty(t, done.LastRun.Error)
	assert.NotEmpty(t, done.LastRun.ID)
	assert.Equal(t, "reindex", done.Cores.Active)
}

func TestCoordinator_Rebuild_NotifiesOnSuccessOnly(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	n := &recordingNotifier{}
	c := newTestCoordinator(env, 2, WithNotifier(n))

	require.NoError(t, c.Rebuild(env.ctx()))
	require.Len(t, n.runs, 1)
	assert.Equal(t, 3, n.runs[0].Documents)
	assert.Equal(t, "reindex", n.runs[0].Core)

	env.catalog.readErr[0] = errors.New("down")
	require.Error(t, c.Rebuild(env.ctx()))
	assert.Len(t, n.runs, 1)
}

func TestCoordinator_Rebuild_NotifierFailureDoesNotFailRebuild(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	n := &recordingNotifier{err: errors.New("broker down")}
	c := newTestCoordinator(env, 2, WithNotifier(n))

	assert.NoError(t, c.Rebuild(env.ctx()))
	assert.Len(t, n.runs, 1)
}

func TestCoordinator_Rebuild_RecordsMetrics(t *testing.T) {
	env := newTestEnv(t, "primary", "reindex")
	env.catalog.products = threeProducts()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	env.deps.Metrics = m
	c := newTestCoordinator(env, 2)

	require.NoError(t, c.Rebuild(env.ctx()))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pages.WithLabelValues(testNamespace)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.documents.WithLabelValues(testNamespace)))
	count, err := testutil.GatherAndCount(reg, "search_index_rebuild_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
