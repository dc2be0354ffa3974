package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/db"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/resilience"
)

// Schema holds every table the Postgres store owns.
const Schema = "hunter"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership of it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func qualified(table string) string {
	return Schema + "." + table
}

const batchColumns = `id, mission_id, operator, kind, file_name, checksum, status,
	processed, failed_validation, duplicates, other_errors, error, created_at, started_at, completed_at`

func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.UploadBatch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.Status = model.BatchStatusPending
	b.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO hunter.upload_batch (id, mission_id, operator, kind, file_name, checksum, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.MissionID, string(b.Operator), string(b.Kind), b.FileName, b.Checksum, string(b.Status), b.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert batch %s", b.ID)
}

func (s *PostgresStore) StartBatch(ctx context.Context, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE hunter.upload_batch SET status = $1, started_at = $2 WHERE id = $3`,
		string(model.BatchStatusProcessing), time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteBatch(ctx context.Context, batchID string, res *model.BatchResult) error {
	return s.finishBatch(ctx, batchID, model.BatchStatusCompleted, res, "")
}

func (s *PostgresStore) FailBatch(ctx context.Context, batchID string, res *model.BatchResult, cause string) error {
	return s.finishBatch(ctx, batchID, model.BatchStatusFailed, res, cause)
}

func (s *PostgresStore) finishBatch(ctx context.Context, batchID string, status model.BatchStatus, res *model.BatchResult, cause string) error {
	if res == nil {
		res = &model.BatchResult{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE hunter.upload_batch
		 SET status = $1, processed = $2, failed_validation = $3, duplicates = $4, other_errors = $5,
		     error = $6, completed_at = $7
		 WHERE id = $8`,
		string(status), res.Processed, res.FailedValidation, res.Duplicates, res.OtherErrors,
		nullable(cause), time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM hunter.upload_batch WHERE id = $1`, batchID)
	b, err := scanPgBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.UploadBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM hunter.upload_batch WHERE true`
	args := []any{}
	argIdx := 1

	if filter.MissionID != "" {
		query += fmt.Sprintf(` AND mission_id = $%d`, argIdx)
		args = append(args, filter.MissionID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.UploadBatch
	for rows.Next() {
		b, err := scanPgBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

// PurgeBatch deletes a batch and every record it owns, returning the number
// of records removed.
func (s *PostgresStore) PurgeBatch(ctx context.Context, batchID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var removed int64
	for _, table := range recordTables {
		tag, err := tx.Exec(ctx, `DELETE FROM `+qualified(table)+` WHERE batch_id = $1`, batchID)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: purge %s for batch %s", table, batchID)
		}
		removed += tag.RowsAffected()
	}

	tag, err := tx.Exec(ctx, `DELETE FROM hunter.upload_batch WHERE id = $1`, batchID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: purge batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: purge: commit tx")
	}
	return removed, nil
}

func (s *PostgresStore) WriteCalls(ctx context.Context, recs []model.CallRecord) (*ChunkResult, error) {
	rows, err := callRows(recs)
	if err != nil {
		return nil, err
	}
	return s.writeChunk(ctx, db.InsertConfig{Table: qualified(tableCalls), Columns: callColumns, ConflictKeys: conflictColumns}, rows)
}

func (s *PostgresStore) WriteSessions(ctx context.Context, recs []model.SessionRecord) (*ChunkResult, error) {
	rows, err := sessionRows(recs)
	if err != nil {
		return nil, err
	}
	return s.writeChunk(ctx, db.InsertConfig{Table: qualified(tableSessions), Columns: sessionColumns, ConflictKeys: conflictColumns}, rows)
}

func (s *PostgresStore) WriteScans(ctx context.Context, recs []model.ScanRecord) (*ChunkResult, error) {
	rows, err := scanRows(recs)
	if err != nil {
		return nil, err
	}
	return s.writeChunk(ctx, db.InsertConfig{Table: qualified(tableScans), Columns: scanColumns, ConflictKeys: conflictColumns}, rows)
}

// writeChunk loads a chunk through the COPY fast path. When the database
// rejects the chunk for a data reason, the chunk is replayed row by row so
// only the offending rows are lost.
func (s *PostgresStore) writeChunk(ctx context.Context, cfg db.InsertConfig, rows []pendingRow) (*ChunkResult, error) {
	if len(rows) == 0 {
		return &ChunkResult{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: write %s: begin tx", cfg.Table)
	}

	inserted, err := db.InsertIgnore(ctx, tx, cfg, valuesOf(rows))
	if err == nil {
		err = tx.Commit(ctx)
		if err == nil {
			return &ChunkResult{Inserted: int(inserted), Duplicates: len(rows) - int(inserted)}, nil
		}
	}
	_ = tx.Rollback(ctx)

	if resilience.IsTransient(err) {
		return nil, eris.Wrapf(err, "postgres: write %s", cfg.Table)
	}

	zap.L().Debug("postgres: chunk rejected, replaying row by row",
		zap.String("table", cfg.Table),
		zap.Int("rows", len(rows)),
		zap.Error(err),
	)
	return s.replayChunk(ctx, cfg, rows)
}

func (s *PostgresStore) replayChunk(ctx context.Context, cfg db.InsertConfig, rows []pendingRow) (*ChunkResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: replay %s: begin tx", cfg.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	insertSQL := db.InsertRowSQL(cfg)
	res := &ChunkResult{}
	for _, r := range rows {
		if _, err := tx.Exec(ctx, "SAVEPOINT chunk_row"); err != nil {
			return nil, eris.Wrap(err, "postgres: replay: savepoint")
		}
		tag, err := tx.Exec(ctx, insertSQL, r.values...)
		if err != nil {
			if resilience.IsTransient(err) {
				return nil, eris.Wrapf(err, "postgres: replay %s", cfg.Table)
			}
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT chunk_row"); rbErr != nil {
				return nil, eris.Wrap(rbErr, "postgres: replay: rollback to savepoint")
			}
			res.Failed = append(res.Failed, rejected(r.row, err))
			continue
		}
		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT chunk_row"); err != nil {
			return nil, eris.Wrap(err, "postgres: replay: release savepoint")
		}
		if tag.RowsAffected() == 0 {
			res.Duplicates++
		} else {
			res.Inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: replay %s: commit tx", cfg.Table)
	}
	return res, nil
}

// MissionExists reports whether any upload batch references the mission.
func (s *PostgresStore) MissionExists(ctx context.Context, missionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM hunter.upload_batch WHERE mission_id = $1)`,
		missionID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mission exists %s", missionID)
	}
	return exists, nil
}

const scanReadColumns = `id, batch_id, mission_id, source_file, source_row, record_hash,
	file_origin_sequence, point_label, latitude, longitude, observed_operator,
	technology, signal_dbm, cell_id, lac, observed_at`

func (s *PostgresStore) ScanRecords(ctx context.Context, missionID string, start, end time.Time) ([]model.ScanRecord, error) {
	start, end = utcWindow(start, end)
	rows, err := s.pool.Query(ctx,
		`SELECT `+scanReadColumns+` FROM hunter.scan_record
		 WHERE mission_id = $1 AND observed_at BETWEEN $2 AND $3
		 ORDER BY file_origin_sequence, id`,
		missionID, start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query scan records")
	}
	defer rows.Close()

	var out []model.ScanRecord
	for rows.Next() {
		var r model.ScanRecord
		var point, observedOp, tech, lac *string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.MissionID, &r.SourceFile, &r.SourceRow, &r.Hash,
			&r.FileOriginSequence, &point, &r.Latitude, &r.Longitude, &observedOp,
			&tech, &r.SignalDBm, &r.CellID, &lac, &r.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scan record")
		}
		r.PointLabel = derefString(point)
		r.ObservedOperator = derefString(observedOp)
		r.Technology = derefString(tech)
		r.LAC = derefString(lac)
		r.ObservedAt = r.ObservedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: scan records iterate")
}

const callReadColumns = `id, batch_id, mission_id, source_file, source_row, record_hash, operator,
	direction, originating_number, terminating_number, target_number, started_at, duration_secs,
	origin_cell, destination_cell, target_cell, technology`

func (s *PostgresStore) CallsTouchingCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.CallRecord, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	start, end = utcWindow(start, end)
	rows, err := s.pool.Query(ctx,
		`SELECT `+callReadColumns+` FROM hunter.call_record
		 WHERE mission_id = $1 AND started_at BETWEEN $2 AND $3
		   AND (origin_cell = ANY($4) OR destination_cell = ANY($4) OR target_cell = ANY($4))
		 ORDER BY started_at, id`,
		missionID, start, end, cells,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query calls")
	}
	defer rows.Close()

	var out []model.CallRecord
	for rows.Next() {
		var r model.CallRecord
		var op, dir string
		var orig, term, target, originCell, destCell, targetCell, tech *string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.MissionID, &r.SourceFile, &r.SourceRow, &r.Hash, &op,
			&dir, &orig, &term, &target, &r.StartedAt, &r.DurationSecs,
			&originCell, &destCell, &targetCell, &tech); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call record")
		}
		r.Operator = model.Operator(op)
		r.Direction = model.Direction(dir)
		r.OriginatingNumber = derefString(orig)
		r.TerminatingNumber = derefString(term)
		r.TargetNumber = derefString(target)
		r.OriginCell = derefString(originCell)
		r.DestinationCell = derefString(destCell)
		r.TargetCell = derefString(targetCell)
		r.Technology = derefString(tech)
		r.StartedAt = r.StartedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: calls iterate")
}

const sessionReadColumns = `id, batch_id, mission_id, source_file, source_row, record_hash, operator,
	subscriber_number, started_at, ended_at, cell_id, lac, uplink_bytes, downlink_bytes, technology`

// SessionsInCells returns sessions on any of the cells whose lifetime overlaps
// the window.
func (s *PostgresStore) SessionsInCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.SessionRecord, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	start, end = utcWindow(start, end)
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionReadColumns+` FROM hunter.cellular_session_record
		 WHERE mission_id = $1 AND cell_id = ANY($4)
		   AND started_at <= $3 AND COALESCE(ended_at, started_at) >= $2
		 ORDER BY started_at, id`,
		missionID, start, end, cells,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query sessions")
	}
	defer rows.Close()

	var out []model.SessionRecord
	for rows.Next() {
		var r model.SessionRecord
		var op string
		var lac, tech *string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.MissionID, &r.SourceFile, &r.SourceRow, &r.Hash, &op,
			&r.SubscriberNumber, &r.StartedAt, &r.EndedAt, &r.CellID, &lac, &r.UplinkBytes, &r.DownlinkBytes, &tech); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session record")
		}
		r.Operator = model.Operator(op)
		r.LAC = derefString(lac)
		r.Technology = derefString(tech)
		r.StartedAt = r.StartedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: sessions iterate")
}

func scanPgBatch(row scannable) (*model.UploadBatch, error) {
	var b model.UploadBatch
	var op, kind, status string
	var errText *string
	err := row.Scan(&b.ID, &b.MissionID, &op, &kind, &b.FileName, &b.Checksum, &status,
		&b.Processed, &b.FailedValidation, &b.Duplicates, &b.OtherErrors, &errText,
		&b.CreatedAt, &b.StartedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Operator = model.Operator(op)
	b.Kind = model.RecordKind(kind)
	b.Status = model.BatchStatus(status)
	b.Error = derefString(errText)
	return &b, nil
}
