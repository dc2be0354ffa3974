package ingest

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hunter-cli/internal/model"
)

// Outcome is the result of one request in IngestAll.
type Outcome struct {
	Request Request            `json:"request"`
	Result  *model.BatchResult `json:"result,omitempty"`
	Err     error              `json:"-"`
}

// IngestAll ingests reqs with at most MaxConcurrentFiles files in flight.
// Files are independent: a failed file does not stop the others. Outcomes
// are returned in request order.
func (i *Ingestor) IngestAll(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(i.cfg.MaxConcurrentFiles)

	for idx, req := range reqs {
		g.Go(func() error {
			res, err := i.IngestFile(ctx, req)
			out[idx] = Outcome{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, o := range out {
		if o.Err != nil {
			failed++
		}
	}
	zap.L().Info("ingest: files finished",
		zap.Int("files", len(reqs)),
		zap.Int("failed", failed),
	)
	return out
}
