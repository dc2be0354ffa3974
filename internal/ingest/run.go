package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/fetcher"
	"github.com/sells-group/hunter-cli/internal/metrics"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/normalize"
)

// batchRun is the state of one file being ingested.
type batchRun struct {
	ing      *Ingestor
	req      Request
	mapping  *normalize.Mapping
	log      *zap.Logger
	res      *model.BatchResult
	writeCtx context.Context

	hdr     header
	found   bool
	row     int // 1-based file row, header included
	dataRow int // 1-based data row

	pending   []normalize.Record
	chunkRows int
	chunkFV   int
}

// consume streams src through normalization and chunked writes.
func (r *batchRun) consume(ctx context.Context, src *fetcher.Source) error {
	// The reader is detached from ctx so a chunk in flight is always
	// completed; cancellation is observed between chunks.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	rowCh, errCh := src.Rows(streamCtx)
	for cells := range rowCh {
		r.row++
		if !r.found {
			if isHeader(r.mapping, cells) {
				r.hdr = newHeader(cells)
				r.found = true
				continue
			}
			if r.row >= headerSearchRows {
				return systemic(ReasonSourceUnreadable,
					eris.Errorf("ingest: no header row in the first %d rows", headerSearchRows))
			}
			continue
		}
		if blank(cells) {
			continue
		}
		r.dataRow++
		r.add(cells)

		if r.chunkRows >= r.ing.cfg.ChunkSize {
			if err := r.flush(); err != nil {
				return err
			}
			if err := r.checkCeiling(); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return systemic(ReasonCancelled, ctx.Err())
			}
		}
	}
	if err := <-errCh; err != nil {
		return systemic(ReasonSourceUnreadable, err)
	}
	if !r.found {
		return systemic(ReasonSourceUnreadable, eris.New("ingest: no header row found"))
	}

	if err := r.flush(); err != nil {
		return err
	}
	return r.checkCeiling()
}

// add normalizes one data row into the pending chunk.
func (r *batchRun) add(cells []string) {
	r.chunkRows++
	rec, errs := r.ing.normalizer.Normalize(r.req.Operator, r.hdr.record(cells), r.req.Kind)
	if len(errs) > 0 {
		r.res.FailedValidation++
		r.chunkFV++
		for _, e := range errs {
			r.failure(model.RowFailure{Row: r.row, Rule: string(e.Rule), Field: e.Field, Message: e.Message})
		}
		return
	}
	stamp(&rec, r.req, r.res.BatchID, r.row, r.dataRow)
	r.pending = append(r.pending, rec)
}

func (r *batchRun) failure(f model.RowFailure) {
	r.res.FailuresByRule[f.Rule]++
	if len(r.res.Failures) < r.ing.cfg.MaxReportedFailures {
		r.res.Failures = append(r.res.Failures, f)
	}
}

// flush commits the pending chunk.
func (r *batchRun) flush() error {
	if r.chunkRows == 0 {
		return nil
	}
	op, kind := string(r.req.Operator), string(r.req.Kind)
	m := r.ing.metrics
	m.AddRows(op, kind, metrics.OutcomeFailedValidation, r.chunkFV)

	recs := r.pending
	rows := r.chunkRows
	r.pending, r.chunkRows, r.chunkFV = nil, 0, 0
	r.res.Chunks++

	if len(recs) == 0 {
		return nil
	}

	start := time.Now()
	cr, err := r.ing.writeChunk(r.writeCtx, r.req.Kind, recs)
	if err != nil {
		return systemic(ReasonStorageUnavailable, err)
	}
	elapsed := time.Since(start)

	r.res.Processed += cr.Inserted
	r.res.Duplicates += cr.Duplicates
	r.res.OtherErrors += len(cr.Failed)
	for _, f := range cr.Failed {
		r.failure(f)
	}

	m.ObserveChunk(kind, elapsed)
	m.AddRows(op, kind, metrics.OutcomeProcessed, cr.Inserted)
	m.AddRows(op, kind, metrics.OutcomeDuplicate, cr.Duplicates)
	m.AddRows(op, kind, metrics.OutcomeOtherError, len(cr.Failed))

	r.log.Debug("chunk committed",
		zap.Int("chunk", r.res.Chunks),
		zap.Int("rows", rows),
		zap.Int("inserted", cr.Inserted),
		zap.Int("duplicates", cr.Duplicates),
		zap.Int("rejected", len(cr.Failed)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// checkCeiling aborts the batch when the share of bad rows is too high.
// Duplicates count toward neither side of the ratio.
func (r *batchRun) checkCeiling() error {
	if r.res.Rows() < r.ing.cfg.MinRowsForCeiling {
		return nil
	}
	rate := 1 - r.res.SuccessRate()
	if rate > r.ing.cfg.ErrorCeiling {
		return systemic(ReasonErrorCeiling,
			eris.Errorf("ingest: error rate %.2f exceeds ceiling %.2f", rate, r.ing.cfg.ErrorCeiling))
	}
	return nil
}
