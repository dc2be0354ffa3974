// Package ingest loads operator exports and scan files into the store in
// chunked transactions, classifying every row as processed, failed
// validation, duplicate or other error.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hunter-cli/internal/dedupe"
	"github.com/sells-group/hunter-cli/internal/fetcher"
	"github.com/sells-group/hunter-cli/internal/metrics"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/normalize"
	"github.com/sells-group/hunter-cli/internal/resilience"
	"github.com/sells-group/hunter-cli/internal/store"
)

// Request describes one file to ingest. Data takes precedence over Location.
type Request struct {
	Operator  model.Operator   `json:"operator"`
	Kind      model.RecordKind `json:"kind"`
	MissionID string           `json:"mission_id"`
	FileName  string           `json:"file_name"`
	Data      []byte           `json:"-"`
	Location  string           `json:"location,omitempty"` // path, file://, ftp:// or http(s):// URL
}

// Ingestor runs batch ingestion against a store. It is safe for concurrent
// use; every call owns its own chunk sequence.
type Ingestor struct {
	store      store.Store
	normalizer *normalize.Normalizer
	cfg        Config
	opener     *fetcher.Opener
	breaker    *resilience.CircuitBreaker
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithOpener sets the fetcher used for Request.Location.
func WithOpener(o *fetcher.Opener) Option {
	return func(i *Ingestor) { i.opener = o }
}

// WithCircuitBreaker replaces the breaker guarding chunk writes.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(i *Ingestor) {
		if cb != nil {
			i.breaker = cb
		}
	}
}

// WithMetrics records row outcomes and chunk latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// New creates an Ingestor.
func New(st store.Store, n *normalize.Normalizer, cfg Config, opts ...Option) *Ingestor {
	cfg = cfg.withDefaults()
	ing := &Ingestor{
		store:      st,
		normalizer: n,
		cfg:        cfg,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	if cfg.MaxChunkWritesPerSec > 0 {
		ing.limiter = rate.NewLimiter(rate.Limit(cfg.MaxChunkWritesPerSec), 1)
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestFile resolves the request's bytes and ingests them as one batch.
func (i *Ingestor) IngestFile(ctx context.Context, req Request) (*model.BatchResult, error) {
	if err := i.validate(req); err != nil {
		return nil, err
	}

	var src *fetcher.Source
	switch {
	case req.Data != nil:
		src = fetcher.NewSource(req.FileName, req.Data)
	case req.Location != "":
		if i.opener == nil {
			return nil, eris.New("ingest: no opener configured for remote sources")
		}
		var err error
		src, err = i.opener.Open(ctx, req.Location)
		if err != nil {
			se := systemic(ReasonSourceUnreadable, err)
			return &model.BatchResult{Status: model.BatchStatusFailed, Error: se.Error()}, se
		}
	default:
		return nil, eris.New("ingest: request has neither data nor location")
	}
	return i.Ingest(ctx, src, req)
}

// Ingest loads src as one upload batch. Validation failures and duplicates
// are counted in the result; only a SystemicError fails the batch, and the
// chunks committed before it remain persisted.
func (i *Ingestor) Ingest(ctx context.Context, src *fetcher.Source, req Request) (*model.BatchResult, error) {
	if err := i.validate(req); err != nil {
		return nil, err
	}
	m, ok := i.normalizer.Mapping(req.Operator, req.Kind)
	if !ok {
		return nil, eris.Errorf("ingest: no mapping for operator %s and kind %s", req.Operator, req.Kind)
	}
	if req.FileName == "" {
		req.FileName = src.Name
	}

	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("operator", string(req.Operator)),
		zap.String("kind", string(req.Kind)),
		zap.String("file", req.FileName),
		zap.String("mission", req.MissionID),
	)

	// Batch bookkeeping and chunk writes outlive caller cancellation so a
	// cancelled import still records its outcome.
	writeCtx := context.WithoutCancel(ctx)

	batch := &model.UploadBatch{
		MissionID: req.MissionID,
		Operator:  req.Operator,
		Kind:      req.Kind,
		FileName:  req.FileName,
		Checksum:  src.Checksum(),
	}
	if err := i.guarded(writeCtx, "create_batch", func(ctx context.Context) error {
		return i.store.CreateBatch(ctx, batch)
	}); err != nil {
		se := systemic(ReasonStorageUnavailable, err)
		log.Error("ingest: create batch failed", zap.Error(err))
		return &model.BatchResult{Status: model.BatchStatusFailed, Error: se.Error()}, se
	}

	run := &batchRun{
		ing:     i,
		req:     req,
		mapping: m,
		log:     log.With(zap.String("batch_id", batch.ID)),
		res: &model.BatchResult{
			BatchID:        batch.ID,
			Status:         model.BatchStatusProcessing,
			FailuresByRule: make(map[string]int),
		},
		writeCtx: writeCtx,
	}

	if err := i.guarded(writeCtx, "start_batch", func(ctx context.Context) error {
		return i.store.StartBatch(ctx, batch.ID)
	}); err != nil {
		return i.fail(run, systemic(ReasonStorageUnavailable, err))
	}

	run.log.Info("batch started", zap.Int64("bytes", int64(len(src.Data))))
	start := time.Now()

	if err := run.consume(ctx, src); err != nil {
		return i.fail(run, err)
	}

	run.res.Status = model.BatchStatusCompleted
	if err := i.guarded(writeCtx, "complete_batch", func(ctx context.Context) error {
		return i.store.CompleteBatch(ctx, batch.ID, run.res)
	}); err != nil {
		return i.fail(run, systemic(ReasonStorageUnavailable, err))
	}

	i.metrics.IncrementBatch(string(req.Operator), string(req.Kind), string(model.BatchStatusCompleted))
	run.log.Info("batch completed",
		zap.Int("processed", run.res.Processed),
		zap.Int("failed_validation", run.res.FailedValidation),
		zap.Int("duplicates", run.res.Duplicates),
		zap.Int("other_errors", run.res.OtherErrors),
		zap.Int("chunks", run.res.Chunks),
		zap.Float64("success_rate", run.res.SuccessRate()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return run.res, nil
}

func (i *Ingestor) validate(req Request) error {
	if req.MissionID == "" {
		return eris.New("ingest: mission id is required")
	}
	if req.Operator == "" || req.Kind == "" {
		return eris.New("ingest: operator and kind are required")
	}
	return nil
}

// fail marks the batch failed and returns the terminal error.
func (i *Ingestor) fail(run *batchRun, err error) (*model.BatchResult, error) {
	se, ok := AsSystemic(err)
	if !ok {
		se = systemic(ReasonStorageUnavailable, err)
	}
	run.res.Status = model.BatchStatusFailed
	run.res.Error = se.Error()

	if ferr := i.guarded(run.writeCtx, "fail_batch", func(ctx context.Context) error {
		return i.store.FailBatch(ctx, run.res.BatchID, run.res, se.Error())
	}); ferr != nil {
		run.log.Error("ingest: mark batch failed", zap.Error(ferr))
	}

	i.metrics.IncrementBatch(string(run.req.Operator), string(run.req.Kind), string(model.BatchStatusFailed))
	run.log.Error("batch failed",
		zap.String("reason", string(se.Reason)),
		zap.Int("processed", run.res.Processed),
		zap.Int("failed_validation", run.res.FailedValidation),
		zap.Int("duplicates", run.res.Duplicates),
		zap.Int("other_errors", run.res.OtherErrors),
		zap.Int("chunks", run.res.Chunks),
		zap.Error(se.Cause),
	)
	return run.res, se
}

// guarded runs a store call under the shared circuit breaker with retries
// for transient failures.
func (i *Ingestor) guarded(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := guardedVal(ctx, i, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func guardedVal[T any](ctx context.Context, i *Ingestor, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := i.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("ingest", operation)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, i.breaker, fn)
	})
}

// writeChunk persists one chunk of records of a single kind.
func (i *Ingestor) writeChunk(ctx context.Context, kind model.RecordKind, recs []normalize.Record) (*store.ChunkResult, error) {
	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: wait for write slot")
		}
	}

	switch kind {
	case model.KindCalls:
		calls := make([]model.CallRecord, len(recs))
		for n, r := range recs {
			calls[n] = *r.Call
		}
		return guardedVal(ctx, i, "write_calls", func(ctx context.Context) (*store.ChunkResult, error) {
			return i.store.WriteCalls(ctx, calls)
		})
	case model.KindSessions:
		sessions := make([]model.SessionRecord, len(recs))
		for n, r := range recs {
			sessions[n] = *r.Session
		}
		return guardedVal(ctx, i, "write_sessions", func(ctx context.Context) (*store.ChunkResult, error) {
			return i.store.WriteSessions(ctx, sessions)
		})
	case model.KindScan:
		scans := make([]model.ScanRecord, len(recs))
		for n, r := range recs {
			scans[n] = *r.Scan
		}
		return guardedVal(ctx, i, "write_scans", func(ctx context.Context) (*store.ChunkResult, error) {
			return i.store.WriteScans(ctx, scans)
		})
	default:
		return nil, eris.Errorf("ingest: unsupported kind %q", kind)
	}
}

// stamp fills the provenance fields and identity hash of a normalized record.
func stamp(rec *normalize.Record, req Request, batchID string, row, dataRow int) {
	switch {
	case rec.Call != nil:
		c := rec.Call
		c.MissionID, c.BatchID, c.SourceFile, c.SourceRow = req.MissionID, batchID, req.FileName, row
	case rec.Session != nil:
		s := rec.Session
		s.MissionID, s.BatchID, s.SourceFile, s.SourceRow = req.MissionID, batchID, req.FileName, row
	case rec.Scan != nil:
		s := rec.Scan
		s.MissionID, s.BatchID, s.SourceFile, s.SourceRow = req.MissionID, batchID, req.FileName, row
		if !rec.HasSequence {
			s.FileOriginSequence = int64(dataRow)
		}
	}
	hash := dedupe.Hash(*rec)
	switch {
	case rec.Call != nil:
		rec.Call.Hash = hash
	case rec.Session != nil:
		rec.Session.Hash = hash
	case rec.Scan != nil:
		rec.Scan.Hash = hash
	}
}
