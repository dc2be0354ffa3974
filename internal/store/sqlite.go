package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/resilience"
)

// sqliteTimeLayout is fixed width so stored timestamps compare lexically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// sqliteCellBatch bounds the IN list of a single cell lookup.
const sqliteCellBatch = 500

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// A single connection is used so pragmas hold for every statement and
// writers never contend for the file lock.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

type sqliteMigration struct {
	name string
	sql  string
}

var sqliteMigrations = []sqliteMigration{
	{"001_upload_batch", `
CREATE TABLE IF NOT EXISTS upload_batch (
	id                TEXT PRIMARY KEY,
	mission_id        TEXT NOT NULL,
	operator          TEXT NOT NULL,
	kind              TEXT NOT NULL,
	file_name         TEXT NOT NULL,
	checksum          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	processed         INTEGER NOT NULL DEFAULT 0,
	failed_validation INTEGER NOT NULL DEFAULT 0,
	duplicates        INTEGER NOT NULL DEFAULT 0,
	other_errors      INTEGER NOT NULL DEFAULT 0,
	error             TEXT,
	created_at        TEXT NOT NULL,
	started_at        TEXT,
	completed_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_upload_batch_mission ON upload_batch(mission_id, created_at);
`},
	{"002_call_record", `
CREATE TABLE IF NOT EXISTS call_record (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id           TEXT NOT NULL REFERENCES upload_batch(id) ON DELETE CASCADE,
	mission_id         TEXT NOT NULL,
	source_file        TEXT NOT NULL,
	source_row         INTEGER NOT NULL,
	record_hash        TEXT NOT NULL,
	operator           TEXT NOT NULL,
	direction          TEXT NOT NULL DEFAULT 'unknown',
	originating_number TEXT,
	terminating_number TEXT,
	target_number      TEXT,
	started_at         TEXT NOT NULL,
	duration_secs      INTEGER,
	origin_cell        TEXT,
	destination_cell   TEXT,
	target_cell        TEXT,
	technology         TEXT,
	payload            TEXT
);
CREATE INDEX IF NOT EXISTS idx_call_record_batch ON call_record(batch_id);
`},
	{"003_cellular_session_record", `
CREATE TABLE IF NOT EXISTS cellular_session_record (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id          TEXT NOT NULL REFERENCES upload_batch(id) ON DELETE CASCADE,
	mission_id        TEXT NOT NULL,
	source_file       TEXT NOT NULL,
	source_row        INTEGER NOT NULL,
	record_hash       TEXT NOT NULL,
	operator          TEXT NOT NULL,
	subscriber_number TEXT NOT NULL,
	started_at        TEXT NOT NULL,
	ended_at          TEXT,
	cell_id           TEXT NOT NULL,
	lac               TEXT,
	uplink_bytes      INTEGER NOT NULL DEFAULT 0,
	downlink_bytes    INTEGER NOT NULL DEFAULT 0,
	technology        TEXT,
	payload           TEXT
);
CREATE INDEX IF NOT EXISTS idx_session_record_batch ON cellular_session_record(batch_id);
`},
	{"004_scan_record", `
CREATE TABLE IF NOT EXISTS scan_record (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id             TEXT NOT NULL REFERENCES upload_batch(id) ON DELETE CASCADE,
	mission_id           TEXT NOT NULL,
	source_file          TEXT NOT NULL,
	source_row           INTEGER NOT NULL,
	record_hash          TEXT NOT NULL,
	operator             TEXT NOT NULL DEFAULT 'hunter',
	file_origin_sequence INTEGER NOT NULL,
	point_label          TEXT,
	latitude             REAL,
	longitude            REAL,
	observed_operator    TEXT,
	technology           TEXT,
	signal_dbm           REAL,
	cell_id              TEXT NOT NULL,
	lac                  TEXT,
	observed_at          TEXT NOT NULL,
	payload              TEXT
);
CREATE INDEX IF NOT EXISTS idx_scan_record_batch ON scan_record(batch_id);
`},
	{"005_dedup_constraints", `
CREATE UNIQUE INDEX IF NOT EXISTS uq_call_record_hash ON call_record(mission_id, operator, source_file, record_hash);
CREATE UNIQUE INDEX IF NOT EXISTS uq_session_record_hash ON cellular_session_record(mission_id, operator, source_file, record_hash);
CREATE UNIQUE INDEX IF NOT EXISTS uq_scan_record_hash ON scan_record(mission_id, operator, source_file, record_hash);
`},
	{"006_correlation_indexes", `
CREATE INDEX IF NOT EXISTS idx_scan_record_window ON scan_record(mission_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_call_record_window ON call_record(mission_id, started_at);
CREATE INDEX IF NOT EXISTS idx_call_record_origin_cell ON call_record(mission_id, origin_cell);
CREATE INDEX IF NOT EXISTS idx_call_record_destination_cell ON call_record(mission_id, destination_cell);
CREATE INDEX IF NOT EXISTS idx_call_record_target_cell ON call_record(mission_id, target_cell);
CREATE INDEX IF NOT EXISTS idx_session_record_window ON cellular_session_record(mission_id, cell_id, started_at);
`},
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: migrate: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	applied := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return eris.Wrap(err, "sqlite: query applied migrations")
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close() //nolint:errcheck
			return eris.Wrap(err, "sqlite: scan migration row")
		}
		applied[name] = true
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate applied migrations")
	}

	for _, m := range sqliteMigrations {
		if applied[m.name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.name))
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", m.name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
			m.name, formatSQLiteTime(time.Now()),
		); err != nil {
			return eris.Wrapf(err, "sqlite: record migration %s", m.name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: migrate: commit tx")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteBatchColumns = `id, mission_id, operator, kind, file_name, checksum, status,
	processed, failed_validation, duplicates, other_errors, error, created_at, started_at, completed_at`

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.UploadBatch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.Status = model.BatchStatusPending
	b.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_batch (id, mission_id, operator, kind, file_name, checksum, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.MissionID, string(b.Operator), string(b.Kind), b.FileName, b.Checksum, string(b.Status),
		formatSQLiteTime(b.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert batch %s", b.ID)
}

func (s *SQLiteStore) StartBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_batch SET status = ?, started_at = ? WHERE id = ?`,
		string(model.BatchStatusProcessing), formatSQLiteTime(time.Now()), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start batch %s", batchID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) CompleteBatch(ctx context.Context, batchID string, res *model.BatchResult) error {
	return s.finishBatch(ctx, batchID, model.BatchStatusCompleted, res, "")
}

func (s *SQLiteStore) FailBatch(ctx context.Context, batchID string, res *model.BatchResult, cause string) error {
	return s.finishBatch(ctx, batchID, model.BatchStatusFailed, res, cause)
}

func (s *SQLiteStore) finishBatch(ctx context.Context, batchID string, status model.BatchStatus, res *model.BatchResult, cause string) error {
	if res == nil {
		res = &model.BatchResult{}
	}
	r, err := s.db.ExecContext(ctx,
		`UPDATE upload_batch
		 SET status = ?, processed = ?, failed_validation = ?, duplicates = ?, other_errors = ?,
		     error = ?, completed_at = ?
		 WHERE id = ?`,
		string(status), res.Processed, res.FailedValidation, res.Duplicates, res.OtherErrors,
		nullable(cause), formatSQLiteTime(time.Now()), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish batch %s", batchID)
	}
	return checkRowsAffected(r)
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteBatchColumns+` FROM upload_batch WHERE id = ?`, batchID)
	b, err := scanSQLiteBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", batchID)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.UploadBatch, error) {
	query := `SELECT ` + sqliteBatchColumns + ` FROM upload_batch WHERE 1=1`
	args := []any{}

	if filter.MissionID != "" {
		query += ` AND mission_id = ?`
		args = append(args, filter.MissionID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close() //nolint:errcheck

	var batches []model.UploadBatch
	for rows.Next() {
		b, err := scanSQLiteBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) PurgeBatch(ctx context.Context, batchID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var removed int64
	for _, table := range recordTables {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE batch_id = ?`, batchID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: purge %s for batch %s", table, batchID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		removed += n
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM upload_batch WHERE id = ?`, batchID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: purge batch %s", batchID)
	}
	if err := checkRowsAffected(res); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: purge: commit tx")
	}
	return removed, nil
}

func (s *SQLiteStore) WriteCalls(ctx context.Context, recs []model.CallRecord) (*ChunkResult, error) {
	rows, err := callRows(recs)
	if err != nil {
		return nil, err
	}
	return s.writeChunk(ctx, tableCalls, callColumns, rows)
}

func (s *SQLiteStore) WriteSessions(ctx context.Context, recs []model.SessionRecord) (*ChunkResult, error) {
	rows, err := sessionRows(recs)
	if err != nil {
		return nil, err
	}
	return s.writeChunk(ctx, tableSessions, sessionColumns, rows)
}

func (s *SQLiteStore) WriteScans(ctx context.Context, recs []model.ScanRecord) (*ChunkResult, error) {
	rows, err := scanRows(recs)
	if err != nil {
		return nil, err
	}
	return s.writeChunk(ctx, tableScans, scanColumns, rows)
}

// writeChunk inserts a chunk in one transaction, isolating each row under a
// savepoint so a rejected row does not take its neighbours with it.
func (s *SQLiteStore) writeChunk(ctx context.Context, table string, columns []string, rows []pendingRow) (*ChunkResult, error) {
	if len(rows) == 0 {
		return &ChunkResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: write %s: begin tx", table)
	}
	defer tx.Rollback() //nolint:errcheck

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table,
		strings.Join(columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
		strings.Join(conflictColumns, ", "),
	)
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: write %s: prepare", table)
	}
	defer stmt.Close() //nolint:errcheck

	res := &ChunkResult{}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT chunk_row"); err != nil {
			return nil, eris.Wrap(err, "sqlite: savepoint")
		}
		out, err := stmt.ExecContext(ctx, sqliteArgs(r.values)...)
		if err != nil {
			if resilience.IsTransient(err) {
				return nil, eris.Wrapf(err, "sqlite: write %s", table)
			}
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT chunk_row"); rbErr != nil {
				return nil, eris.Wrap(rbErr, "sqlite: rollback to savepoint")
			}
			if _, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT chunk_row"); relErr != nil {
				return nil, eris.Wrap(relErr, "sqlite: release savepoint")
			}
			res.Failed = append(res.Failed, rejected(r.row, err))
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT chunk_row"); err != nil {
			return nil, eris.Wrap(err, "sqlite: release savepoint")
		}
		n, err := out.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			res.Duplicates++
		} else {
			res.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: write %s: commit tx", table)
	}
	return res, nil
}

// MissionExists reports whether any upload batch references the mission.
func (s *SQLiteStore) MissionExists(ctx context.Context, missionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM upload_batch WHERE mission_id = ?)`, missionID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mission exists %s", missionID)
	}
	return exists, nil
}

func (s *SQLiteStore) ScanRecords(ctx context.Context, missionID string, start, end time.Time) ([]model.ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanReadColumns+` FROM scan_record
		 WHERE mission_id = ? AND observed_at BETWEEN ? AND ?
		 ORDER BY file_origin_sequence, id`,
		missionID, formatSQLiteTime(start), formatSQLiteTime(end),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query scan records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScanRecord
	for rows.Next() {
		var r model.ScanRecord
		var point, observedOp, tech, lac sql.NullString
		var lat, lon, signal sql.NullFloat64
		var observed string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.MissionID, &r.SourceFile, &r.SourceRow, &r.Hash,
			&r.FileOriginSequence, &point, &lat, &lon, &observedOp,
			&tech, &signal, &r.CellID, &lac, &observed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scan record")
		}
		r.PointLabel = point.String
		r.ObservedOperator = observedOp.String
		r.Technology = tech.String
		r.LAC = lac.String
		r.Latitude = floatPtr(lat)
		r.Longitude = floatPtr(lon)
		r.SignalDBm = floatPtr(signal)
		if r.ObservedAt, err = parseSQLiteTime(observed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: scan records iterate")
}

func (s *SQLiteStore) CallsTouchingCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.CallRecord, error) {
	seen := make(map[int64]bool)
	var out []model.CallRecord
	for _, group := range cellGroups(cells) {
		in := placeholders(len(group))
		args := []any{missionID, formatSQLiteTime(start), formatSQLiteTime(end)}
		for range 3 {
			for _, c := range group {
				args = append(args, c)
			}
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+callReadColumns+` FROM call_record
			 WHERE mission_id = ? AND started_at BETWEEN ? AND ?
			   AND (origin_cell IN (`+in+`) OR destination_cell IN (`+in+`) OR target_cell IN (`+in+`))`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: query calls")
		}
		recs, err := scanSQLiteCalls(rows)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func scanSQLiteCalls(rows *sql.Rows) ([]model.CallRecord, error) {
	defer rows.Close() //nolint:errcheck

	var out []model.CallRecord
	for rows.Next() {
		var r model.CallRecord
		var op, dir, started string
		var orig, term, target, originCell, destCell, targetCell, tech sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&r.ID, &r.BatchID, &r.MissionID, &r.SourceFile, &r.SourceRow, &r.Hash, &op,
			&dir, &orig, &term, &target, &started, &duration,
			&originCell, &destCell, &targetCell, &tech); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call record")
		}
		r.Operator = model.Operator(op)
		r.Direction = model.Direction(dir)
		r.OriginatingNumber = orig.String
		r.TerminatingNumber = term.String
		r.TargetNumber = target.String
		r.OriginCell = originCell.String
		r.DestinationCell = destCell.String
		r.TargetCell = targetCell.String
		r.Technology = tech.String
		if duration.Valid {
			d := duration.Int64
			r.DurationSecs = &d
		}
		var err error
		if r.StartedAt, err = parseSQLiteTime(started); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: calls iterate")
}

func (s *SQLiteStore) SessionsInCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.SessionRecord, error) {
	var out []model.SessionRecord
	for _, group := range cellGroups(cells) {
		args := []any{missionID}
		for _, c := range group {
			args = append(args, c)
		}
		args = append(args, formatSQLiteTime(end), formatSQLiteTime(start))
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+sessionReadColumns+` FROM cellular_session_record
			 WHERE mission_id = ? AND cell_id IN (`+placeholders(len(group))+`)
			   AND started_at <= ? AND COALESCE(ended_at, started_at) >= ?`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: query sessions")
		}
		recs, err := scanSQLiteSessions(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func scanSQLiteSessions(rows *sql.Rows) ([]model.SessionRecord, error) {
	defer rows.Close() //nolint:errcheck

	var out []model.SessionRecord
	for rows.Next() {
		var r model.SessionRecord
		var op, started string
		var ended, lac, tech sql.NullString
		if err := rows.Scan(&r.ID, &r.BatchID, &r.MissionID, &r.SourceFile, &r.SourceRow, &r.Hash, &op,
			&r.SubscriberNumber, &started, &ended, &r.CellID, &lac, &r.UplinkBytes, &r.DownlinkBytes, &tech); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session record")
		}
		r.Operator = model.Operator(op)
		r.LAC = lac.String
		r.Technology = tech.String
		var err error
		if r.StartedAt, err = parseSQLiteTime(started); err != nil {
			return nil, err
		}
		if r.EndedAt, err = parseNullSQLiteTime(ended); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: sessions iterate")
}

// helpers

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteBatch(row scannable) (*model.UploadBatch, error) {
	var b model.UploadBatch
	var op, kind, status, created string
	var errText, started, completed sql.NullString
	err := row.Scan(&b.ID, &b.MissionID, &op, &kind, &b.FileName, &b.Checksum, &status,
		&b.Processed, &b.FailedValidation, &b.Duplicates, &b.OtherErrors, &errText,
		&created, &started, &completed)
	if err != nil {
		return nil, err
	}
	b.Operator = model.Operator(op)
	b.Kind = model.RecordKind(kind)
	b.Status = model.BatchStatus(status)
	b.Error = errText.String
	if b.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if b.StartedAt, err = parseNullSQLiteTime(started); err != nil {
		return nil, err
	}
	if b.CompletedAt, err = parseNullSQLiteTime(completed); err != nil {
		return nil, err
	}
	return &b, nil
}

// sqliteArgs converts bound values to the text forms the SQLite schema stores.
func sqliteArgs(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case time.Time:
			out[i] = formatSQLiteTime(t)
		case []byte:
			if t == nil {
				out[i] = nil
			} else {
				out[i] = string(t)
			}
		default:
			out[i] = v
		}
	}
	return out
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseNullSQLiteTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func cellGroups(cells []string) [][]string {
	var groups [][]string
	for len(cells) > 0 {
		n := min(len(cells), sqliteCellBatch)
		groups = append(groups, cells[:n])
		cells = cells[n:]
	}
	return groups
}
