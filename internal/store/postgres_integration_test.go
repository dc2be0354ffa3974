//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/sells-group/hunter-cli/internal/model"
)

func newContainerPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("hunter"),
		tcpostgres.WithUsername("hunter"),
		tcpostgres.WithPassword("hunter"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	st, err := NewPostgres(ctx, dsn, &PoolConfig{MaxConns: 4, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	return st
}

func TestPostgresIntegration_WriteAndCorrelateReads(t *testing.T) {
	st := newContainerPostgresStore(t)
	ctx := context.Background()

	// Second run is a no-op.
	require.NoError(t, st.Migrate(ctx))

	b := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)
	recs := []model.CallRecord{
		testCall(b, 2, "h1", "3001234567", "1001", t0),
		testCall(b, 3, "h2", "3001234568", "1002", t0.Add(time.Minute)),
		testCall(b, 4, "h1", "3001234567", "1001", t0),
	}

	res, err := st.WriteCalls(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)

	res, err = st.WriteCalls(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Duplicates)

	calls, err := st.CallsTouchingCells(ctx, "m-1", t0.Add(-time.Hour), t0.Add(time.Hour), []string{"1001"})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "3001234567", calls[0].OriginatingNumber)

	ok, err := st.MissionExists(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := st.PurgeBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestPostgresIntegration_OrphanRowIsolated(t *testing.T) {
	st := newContainerPostgresStore(t)
	ctx := context.Background()

	b := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)
	good := testCall(b, 2, "h1", "3001234567", "1001", t0)
	orphan := testCall(b, 3, "h2", "3001234568", "1001", t0)
	orphan.BatchID = "no-such-batch"

	res, err := st.WriteCalls(ctx, []model.CallRecord{good, orphan})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Row)
}
