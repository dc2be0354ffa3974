package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var batchRowColumns = []string{
	"id", "mission_id", "operator", "kind", "file_name", "checksum", "status",
	"processed", "failed_validation", "duplicates", "other_errors", "error",
	"created_at", "started_at", "completed_at",
}

func pgTestCalls() []model.CallRecord {
	b := &model.UploadBatch{ID: "b-1", MissionID: "m-1", FileName: "claro.csv", Operator: model.OperatorClaro}
	return []model.CallRecord{
		testCall(b, 2, "h1", "3001234567", "1001", t0),
		testCall(b, 3, "h2", "3001234568", "1002", t0),
		testCall(b, 4, "h1", "3001234567", "1001", t0),
	}
}

func TestPostgresStore_CreateBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO hunter.upload_batch`).
		WithArgs(pgxmock.AnyArg(), "m-1", "claro", "calls", "claro.csv", "sum", "pending", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	b := &model.UploadBatch{MissionID: "m-1", Operator: model.OperatorClaro, Kind: model.KindCalls, FileName: "claro.csv", Checksum: "sum"}
	require.NoError(t, s.CreateBatch(context.Background(), b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, model.BatchStatusPending, b.Status)
	assert.False(t, b.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE hunter.upload_batch SET status = \$1, started_at = \$2 WHERE id = \$3`).
		WithArgs("processing", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.StartBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE hunter.upload_batch`).
		WithArgs("failed", 3, 1, 0, 0, "storage_unavailable", pgxmock.AnyArg(), "b-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailBatch(context.Background(), "b-1", &model.BatchResult{Processed: 3, FailedValidation: 1}, "storage_unavailable")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	errText := "error_ceiling"

	mock.ExpectQuery(`SELECT id, mission_id, operator, kind, file_name, checksum, status`).
		WithArgs("b-1").
		WillReturnRows(pgxmock.NewRows(batchRowColumns).AddRow(
			"b-1", "m-1", "tigo", "sessions", "tigo.xlsx", "sum", "failed",
			10, 12, 0, 0, &errText, created, &created, &created,
		))

	b, err := s.GetBatch(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, model.OperatorTigo, b.Operator)
	assert.Equal(t, model.KindSessions, b.Kind)
	assert.Equal(t, model.BatchStatusFailed, b.Status)
	assert.Equal(t, 12, b.FailedValidation)
	assert.Equal(t, "error_ceiling", b.Error)
	require.NotNil(t, b.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM hunter.upload_batch WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListBatches_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true AND mission_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("m-1", "completed", 10, 20).
		WillReturnRows(pgxmock.NewRows(batchRowColumns))

	batches, err := s.ListBatches(context.Background(), BatchFilter{
		MissionID: "m-1", Status: model.BatchStatusCompleted, Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteCalls_FastPath(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_insert_hunter_call_record"`).
		WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_hunter_call_record"}, callColumns).WillReturnResult(3)
	mock.ExpectExec(`INSERT INTO "hunter"."call_record" .* ON CONFLICT \("mission_id", "operator", "source_file", "record_hash"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	res, err := s.WriteCalls(context.Background(), pgTestCalls())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteCalls_ReplaysRejectedChunk(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	dataErr := &pgconn.PgError{Code: "22001", Message: "value too long for type character varying"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_hunter_call_record"}, callColumns).WillReturnError(dataErr)
	mock.ExpectRollback()

	mock.ExpectBegin()
	// row 2: inserted
	mock.ExpectExec(`SAVEPOINT chunk_row`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO "hunter"."call_record"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`RELEASE SAVEPOINT chunk_row`).WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	// row 3: rejected
	mock.ExpectExec(`SAVEPOINT chunk_row`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO "hunter"."call_record"`).WillReturnError(dataErr)
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT chunk_row`).WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	// row 4: duplicate of row 2
	mock.ExpectExec(`SAVEPOINT chunk_row`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO "hunter"."call_record"`).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`RELEASE SAVEPOINT chunk_row`).WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	res, err := s.WriteCalls(context.Background(), pgTestCalls())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Row)
	assert.Equal(t, RuleStorageRejected, res.Failed[0].Rule)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteCalls_TransientError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("SELECT", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_hunter_call_record"}, callColumns).WillReturnResult(3)
	mock.ExpectExec(`INSERT INTO`).WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	_, err := s.WriteCalls(context.Background(), pgTestCalls())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: write hunter.call_record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteScans_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res, err := s.WriteScans(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &ChunkResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM hunter.call_record WHERE batch_id = \$1`).WithArgs("b-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`DELETE FROM hunter.cellular_session_record WHERE batch_id = \$1`).WithArgs("b-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM hunter.scan_record WHERE batch_id = \$1`).WithArgs("b-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM hunter.upload_batch WHERE id = \$1`).WithArgs("b-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	removed, err := s.PurgeBatch(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	for range recordTables {
		mock.ExpectExec(`DELETE FROM hunter\.`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	mock.ExpectExec(`DELETE FROM hunter.upload_batch`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	_, err := s.PurgeBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MissionExists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM hunter.upload_batch WHERE mission_id = \$1\)`).
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.MissionExists(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CallsTouchingCells(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	orig := "3001234567"
	cell := "1001"
	d := int64(30)

	cols := []string{
		"id", "batch_id", "mission_id", "source_file", "source_row", "record_hash", "operator",
		"direction", "originating_number", "terminating_number", "target_number", "started_at", "duration_secs",
		"origin_cell", "destination_cell", "target_cell", "technology",
	}
	mock.ExpectQuery(`FROM hunter.call_record .*origin_cell = ANY\(\$4\)`).
		WithArgs("m-1", t0, t0.Add(time.Hour), []string{"1001"}).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			int64(7), "b-1", "m-1", "claro.csv", 2, "h1", "claro",
			"outbound", &orig, (*string)(nil), (*string)(nil), t0, &d,
			&cell, (*string)(nil), (*string)(nil), (*string)(nil),
		))

	calls, err := s.CallsTouchingCells(context.Background(), "m-1", t0, t0.Add(time.Hour), []string{"1001"})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "3001234567", calls[0].OriginatingNumber)
	assert.Empty(t, calls[0].TerminatingNumber)
	assert.Equal(t, "1001", calls[0].OriginCell)
	assert.Equal(t, model.DirectionOutbound, calls[0].Direction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CallsTouchingCells_NoCells(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	calls, err := s.CallsTouchingCells(context.Background(), "m-1", t0, t0, nil)
	require.NoError(t, err)
	assert.Nil(t, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AppliesPending(t *testing.T) {
	_, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS hunter`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM hunter.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).
			AddRow("001_upload_batch.sql").
			AddRow("002_call_record.sql").
			AddRow("003_cellular_session_record.sql").
			AddRow("004_scan_record.sql").
			AddRow("005_dedup_constraints.sql"))
	mock.ExpectExec(`idx_scan_record_window`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO hunter.schema_migrations`).WithArgs("006_correlation_indexes.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_ApplyError(t *testing.T) {
	_, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS hunter`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM hunter.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hunter.upload_batch`).
		WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied for schema hunter"})
	mock.ExpectRollback()

	err := Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 001_upload_batch.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
