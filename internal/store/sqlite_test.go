package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedBatch(t *testing.T, st Store, missionID string, kind model.RecordKind, op model.Operator) *model.UploadBatch {
	t.Helper()
	b := &model.UploadBatch{
		MissionID: missionID,
		Operator:  op,
		Kind:      kind,
		FileName:  "export.csv",
		Checksum:  "abc123",
	}
	require.NoError(t, st.CreateBatch(context.Background(), b))
	return b
}

var t0 = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func testCall(b *model.UploadBatch, row int, hash, orig, originCell string, at time.Time) model.CallRecord {
	d := int64(60)
	return model.CallRecord{
		BatchID:           b.ID,
		MissionID:         b.MissionID,
		SourceFile:        b.FileName,
		SourceRow:         row,
		Hash:              hash,
		Operator:          b.Operator,
		Direction:         model.DirectionOutbound,
		OriginatingNumber: orig,
		TerminatingNumber: "3109876543",
		StartedAt:         at,
		DurationSecs:      &d,
		OriginCell:        originCell,
		Payload:           map[string]string{"imei": "3521"},
	}
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(sqliteMigrations), n)
}

func TestSQLite_BatchLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, model.BatchStatusPending, b.Status)

	require.NoError(t, st.StartBatch(ctx, b.ID))
	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	res := &model.BatchResult{Processed: 85, FailedValidation: 10, Duplicates: 5}
	require.NoError(t, st.CompleteBatch(ctx, b.ID, res))

	got, err = st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
	assert.Equal(t, 85, got.Processed)
	assert.Equal(t, 10, got.FailedValidation)
	assert.Equal(t, 5, got.Duplicates)
	assert.Equal(t, model.OperatorClaro, got.Operator)
	assert.Equal(t, model.KindCalls, got.Kind)
	assert.Equal(t, "abc123", got.Checksum)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestSQLite_FailBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b := seedBatch(t, st, "m-1", model.KindSessions, model.OperatorTigo)
	require.NoError(t, st.FailBatch(ctx, b.ID, &model.BatchResult{Processed: 3}, "error_ceiling"))

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, got.Status)
	assert.Equal(t, "error_ceiling", got.Error)
	assert.Equal(t, 3, got.Processed)
}

func TestSQLite_BatchNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.StartBatch(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, st.CompleteBatch(ctx, "missing", nil), ErrNotFound)
	_, err = st.PurgeBatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListBatches(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)
	seedBatch(t, st, "m-2", model.KindCalls, model.OperatorWOM)
	c := seedBatch(t, st, "m-1", model.KindScan, model.OperatorHunter)
	require.NoError(t, st.CompleteBatch(ctx, c.ID, &model.BatchResult{}))

	batches, err := st.ListBatches(ctx, BatchFilter{MissionID: "m-1"})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, c.ID, batches[0].ID, "newest first")
	assert.Equal(t, a.ID, batches[1].ID)

	batches, err = st.ListBatches(ctx, BatchFilter{Status: model.BatchStatusCompleted})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, c.ID, batches[0].ID)

	batches, err = st.ListBatches(ctx, BatchFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestSQLite_WriteCalls_Dedup(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
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
	assert.Empty(t, res.Failed)

	res, err = st.WriteCalls(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Duplicates)
}

func TestSQLite_WriteCalls_UniquenessScopedToSourceFile(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)

	first := testCall(b, 2, "h1", "3001234567", "1001", t0)
	second := first
	second.SourceFile = "other.csv"

	res, err := st.WriteCalls(ctx, []model.CallRecord{first, second})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
}

func TestSQLite_WriteCalls_RejectedRowIsolated(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)

	good := testCall(b, 2, "h1", "3001234567", "1001", t0)
	orphan := testCall(b, 3, "h2", "3001234568", "1002", t0)
	orphan.BatchID = "no-such-batch"

	res, err := st.WriteCalls(ctx, []model.CallRecord{good, orphan})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Row)
	assert.Equal(t, RuleStorageRejected, res.Failed[0].Rule)
}

func TestSQLite_CallsTouchingCells(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)

	dest := testCall(b, 3, "h2", "3001234568", "", t0.Add(time.Minute))
	dest.DestinationCell = "2002"
	late := testCall(b, 4, "h3", "3001234569", "1001", t0.Add(48*time.Hour))
	other := testCall(b, 5, "h4", "3001234570", "9999", t0)

	_, err := st.WriteCalls(ctx, []model.CallRecord{
		testCall(b, 2, "h1", "3001234567", "1001", t0),
		dest, late, other,
	})
	require.NoError(t, err)

	calls, err := st.CallsTouchingCells(ctx, "m-1", t0.Add(-time.Hour), t0.Add(time.Hour), []string{"1001", "2002"})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "3001234567", calls[0].OriginatingNumber)
	assert.Equal(t, "1001", calls[0].OriginCell)
	require.NotNil(t, calls[0].DurationSecs)
	assert.Equal(t, int64(60), *calls[0].DurationSecs)
	assert.True(t, calls[0].StartedAt.Equal(t0))
	assert.Equal(t, "2002", calls[1].DestinationCell)

	calls, err = st.CallsTouchingCells(ctx, "m-2", t0.Add(-time.Hour), t0.Add(time.Hour), []string{"1001"})
	require.NoError(t, err)
	assert.Empty(t, calls)

	calls, err = st.CallsTouchingCells(ctx, "m-1", t0.Add(-time.Hour), t0.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestSQLite_SessionsInCells_Overlap(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "m-1", model.KindSessions, model.OperatorTigo)

	endsInWindow := t0.Add(10 * time.Minute)
	sessions := []model.SessionRecord{
		{BatchID: b.ID, MissionID: "m-1", SourceFile: "s.csv", SourceRow: 2, Hash: "s1", Operator: model.OperatorTigo,
			SubscriberNumber: "3001112233", StartedAt: t0.Add(-time.Hour), EndedAt: &endsInWindow, CellID: "6699", UplinkBytes: 10},
		{BatchID: b.ID, MissionID: "m-1", SourceFile: "s.csv", SourceRow: 3, Hash: "s2", Operator: model.OperatorTigo,
			SubscriberNumber: "3001112234", StartedAt: t0.Add(-2 * time.Hour), CellID: "6699"},
		{BatchID: b.ID, MissionID: "m-1", SourceFile: "s.csv", SourceRow: 4, Hash: "s3", Operator: model.OperatorTigo,
			SubscriberNumber: "3001112235", StartedAt: t0, CellID: "7000"},
	}
	res, err := st.WriteSessions(ctx, sessions)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)

	got, err := st.SessionsInCells(ctx, "m-1", t0, t0.Add(time.Hour), []string{"6699"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3001112233", got[0].SubscriberNumber)
	require.NotNil(t, got[0].EndedAt)
	assert.True(t, got[0].EndedAt.Equal(endsInWindow))
	assert.Equal(t, int64(10), got[0].UplinkBytes)
}

func TestSQLite_ScanRecords(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "m-1", model.KindScan, model.OperatorHunter)

	lat, lon := 4.6097, -74.0817
	scans := []model.ScanRecord{
		{BatchID: b.ID, MissionID: "m-1", SourceFile: "scan.csv", SourceRow: 3, Hash: "x2", FileOriginSequence: 2,
			CellID: "1002", ObservedAt: t0.Add(time.Minute)},
		{BatchID: b.ID, MissionID: "m-1", SourceFile: "scan.csv", SourceRow: 2, Hash: "x1", FileOriginSequence: 1,
			CellID: "1001", LAC: "300", Latitude: &lat, Longitude: &lon, ObservedOperator: "claro", ObservedAt: t0},
		{BatchID: b.ID, MissionID: "m-1", SourceFile: "scan.csv", SourceRow: 4, Hash: "x3", FileOriginSequence: 3,
			CellID: "1003", ObservedAt: t0.Add(5 * time.Hour)},
	}
	res, err := st.WriteScans(ctx, scans)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)

	got, err := st.ScanRecords(ctx, "m-1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].FileOriginSequence)
	assert.Equal(t, "1001", got[0].CellID)
	assert.Equal(t, "300", got[0].LAC)
	require.NotNil(t, got[0].Latitude)
	assert.InDelta(t, lat, *got[0].Latitude, 1e-9)
	assert.Equal(t, "claro", got[0].ObservedOperator)
	assert.Nil(t, got[1].Latitude)
}

func TestSQLite_MissionExists(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.MissionExists(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, ok)

	seedBatch(t, st, "m-1", model.KindScan, model.OperatorHunter)
	ok, err = st.MissionExists(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_PurgeBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)
	keep := seedBatch(t, st, "m-1", model.KindCalls, model.OperatorClaro)

	_, err := st.WriteCalls(ctx, []model.CallRecord{
		testCall(b, 2, "h1", "3001234567", "1001", t0),
		testCall(b, 3, "h2", "3001234568", "1001", t0),
		testCall(keep, 2, "k1", "3001234569", "1001", t0),
	})
	require.NoError(t, err)

	removed, err := st.PurgeBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = st.GetBatch(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	calls, err := st.CallsTouchingCells(ctx, "m-1", t0.Add(-time.Hour), t0.Add(time.Hour), []string{"1001"})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, keep.ID, calls[0].BatchID)
}

func TestSQLiteArgs(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.FixedZone("COT", -5*3600))
	got := sqliteArgs([]any{at, []byte(`{"a":"b"}`), []byte(nil), 7, nil})
	assert.Equal(t, "2024-01-02 08:04:05.000000006", got[0])
	assert.Equal(t, `{"a":"b"}`, got[1])
	assert.Nil(t, got[2])
	assert.Equal(t, 7, got[3])
	assert.Nil(t, got[4])
}

func TestCellGroups(t *testing.T) {
	cells := make([]string, sqliteCellBatch+1)
	groups := cellGroups(cells)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], sqliteCellBatch)
	assert.Len(t, groups[1], 1)
	assert.Empty(t, cellGroups(nil))
}
