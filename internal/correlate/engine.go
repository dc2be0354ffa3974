// Package correlate intersects operator-reported cells with reconnaissance
// scan cells and ranks the phone numbers seen in the scanned area.
package correlate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hunter-cli/internal/metrics"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/phone"
	"github.com/sells-group/hunter-cli/internal/scan"
)

// Reader is the store capability the engine needs.
type Reader interface {
	scan.Reader
	MissionExists(ctx context.Context, missionID string) (bool, error)
	CallsTouchingCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.CallRecord, error)
	SessionsInCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.SessionRecord, error)
}

// Options are the engine defaults applied when a query leaves them unset.
type Options struct {
	// MinOccurrences is the minimum number of distinct cells a number needs.
	MinOccurrences int

	// AttributeCounterpartCell also credits a matching call cell to the
	// other parties of the call, not only to the number in that cell's role.
	AttributeCounterpartCell bool

	// ConfidenceSaturation is the distinct-cell count that scores 100.
	ConfidenceSaturation int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{MinOccurrences: 1, ConfidenceSaturation: 5}
}

// Query is one correlation request.
type Query struct {
	MissionID      string    `json:"mission_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	MinOccurrences int       `json:"min_occurrences"`
	Counterpart    bool      `json:"counterpart"`
}

// Report is the full outcome of a correlation run.
type Report struct {
	MissionID       string                    `json:"mission_id"`
	Start           time.Time                 `json:"start"`
	End             time.Time                 `json:"end"`
	MinOccurrences  int                       `json:"min_occurrences"`
	Counterpart     bool                      `json:"counterpart"`
	ScanCells       int                       `json:"scan_cells"`
	CallsScanned    int                       `json:"calls_scanned"`
	SessionsScanned int                       `json:"sessions_scanned"`
	Area            *Area                     `json:"scan_area,omitempty"`
	Results         []model.CorrelationResult `json:"results"`
	DurationMs      int64                     `json:"duration_ms"`
}

// Engine runs correlations. It is read-only and safe for concurrent use.
type Engine struct {
	reader  Reader
	opts    Options
	metrics *metrics.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics records run latency and result counts.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine.
func NewEngine(r Reader, opts Options, eopts ...EngineOption) *Engine {
	def := DefaultOptions()
	if opts.MinOccurrences <= 0 {
		opts.MinOccurrences = def.MinOccurrences
	}
	if opts.ConfidenceSaturation <= 0 {
		opts.ConfidenceSaturation = def.ConfidenceSaturation
	}
	e := &Engine{reader: r, opts: opts}
	for _, o := range eopts {
		o(e)
	}
	return e
}

// Options returns the engine defaults.
func (e *Engine) Options() Options { return e.opts }

// Correlate returns the ranked results for a mission window using the
// engine's counterpart setting.
func (e *Engine) Correlate(ctx context.Context, missionID string, start, end time.Time, minOccurrences int) ([]model.CorrelationResult, error) {
	rep, err := e.Run(ctx, Query{
		MissionID:      missionID,
		Start:          start,
		End:            end,
		MinOccurrences: minOccurrences,
		Counterpart:    e.opts.AttributeCounterpartCell,
	})
	if err != nil {
		return nil, err
	}
	return rep.Results, nil
}

// Run executes q. An empty scan cell set is an empty report, not an error.
// No partial report is returned on error.
func (e *Engine) Run(ctx context.Context, q Query) (*Report, error) {
	start := time.Now()
	if q.MinOccurrences <= 0 {
		q.MinOccurrences = e.opts.MinOccurrences
	}
	if err := validate(q); err != nil {
		return nil, err
	}
	q.Start, q.End = q.Start.UTC(), q.End.UTC()

	ok, err := e.reader.MissionExists(ctx, q.MissionID)
	if err != nil {
		return nil, eris.Wrapf(err, "correlate: look up mission %s", q.MissionID)
	}
	if !ok {
		return nil, inputError(ReasonMissionNotFound, "mission %q has no uploads", q.MissionID)
	}

	cells, err := scan.NewExtractor(e.reader).ExtractCells(ctx, q.MissionID, q.Start, q.End)
	if err != nil {
		return nil, eris.Wrap(err, "correlate: extract scan cells")
	}

	rep := &Report{
		MissionID:      q.MissionID,
		Start:          q.Start,
		End:            q.End,
		MinOccurrences: q.MinOccurrences,
		Counterpart:    q.Counterpart,
		ScanCells:      len(cells),
		Results:        []model.CorrelationResult{},
	}
	if rep.Area, err = scanArea(cells); err != nil {
		return nil, err
	}

	if len(cells) > 0 {
		ids := make([]string, 0, len(cells))
		for id := range cells {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		var calls []model.CallRecord
		var sessions []model.SessionRecord
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			calls, err = e.reader.CallsTouchingCells(gctx, q.MissionID, q.Start, q.End, ids)
			return eris.Wrap(err, "correlate: read calls")
		})
		g.Go(func() error {
			var err error
			sessions, err = e.reader.SessionsInCells(gctx, q.MissionID, q.Start, q.End, ids)
			return eris.Wrap(err, "correlate: read sessions")
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		t := newTally(cells)
		for i := range calls {
			t.addCall(&calls[i], q.Counterpart)
		}
		for i := range sessions {
			s := &sessions[i]
			t.add(s.SubscriberNumber, s.CellID, s.StartedAt, s.Operator)
		}

		rep.CallsScanned = len(calls)
		rep.SessionsScanned = len(sessions)
		rep.Results = t.results(q.MinOccurrences, e.opts.ConfidenceSaturation)
	}

	elapsed := time.Since(start)
	rep.DurationMs = elapsed.Milliseconds()
	e.metrics.ObserveCorrelation(elapsed, len(rep.Results))

	zap.L().Info("correlation finished",
		zap.String("component", "correlate"),
		zap.String("mission", q.MissionID),
		zap.Time("start", q.Start),
		zap.Time("end", q.End),
		zap.Int("scan_cells", rep.ScanCells),
		zap.Int("calls", rep.CallsScanned),
		zap.Int("sessions", rep.SessionsScanned),
		zap.Int("results", len(rep.Results)),
		zap.Bool("counterpart", q.Counterpart),
		zap.Duration("elapsed", elapsed),
	)
	return rep, nil
}

func validate(q Query) error {
	if q.MissionID == "" {
		return inputError(ReasonInvalidMission, "mission id is required")
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return inputError(ReasonInvalidWindow, "start and end are required")
	}
	if q.End.Before(q.Start) {
		return inputError(ReasonInvalidWindow, "end %s is before start %s",
			q.End.Format(time.RFC3339), q.Start.Format(time.RFC3339))
	}
	return nil
}

// numberTally accumulates the (number, cell) pairs of one number.
type numberTally struct {
	cells       map[string]struct{}
	occurrences int
	operators   map[model.Operator]struct{}
	first, last time.Time
}

type tally struct {
	scanned map[string]scan.ScanMeta
	numbers map[string]*numberTally
}

func newTally(scanned map[string]scan.ScanMeta) *tally {
	return &tally{scanned: scanned, numbers: make(map[string]*numberTally)}
}

// add records one pair. Numbers that are not canonical mobile numbers and
// cells outside the scanned set are ignored.
func (t *tally) add(number, cell string, at time.Time, op model.Operator) {
	if cell == "" {
		return
	}
	if _, ok := t.scanned[cell]; !ok {
		return
	}
	num, ok := phone.Canonicalize(number)
	if !ok {
		return
	}

	nt, ok := t.numbers[num]
	if !ok {
		nt = &numberTally{
			cells:     make(map[string]struct{}),
			operators: make(map[model.Operator]struct{}),
			first:     at,
			last:      at,
		}
		t.numbers[num] = nt
	}
	nt.cells[cell] = struct{}{}
	nt.occurrences++
	nt.operators[op] = struct{}{}
	if at.Before(nt.first) {
		nt.first = at
	}
	if at.After(nt.last) {
		nt.last = at
	}
}

// addCall credits each scanned cell role of c to the number in the same
// role. With counterpart set, the cell is also credited to the other
// parties of the call.
func (t *tally) addCall(c *model.CallRecord, counterpart bool) {
	roles := [...]struct{ cell, number string }{
		{c.OriginCell, c.OriginatingNumber},
		{c.DestinationCell, c.TerminatingNumber},
		{c.TargetCell, c.TargetNumber},
	}
	for i, r := range roles {
		t.add(r.number, r.cell, c.StartedAt, c.Operator)
		if !counterpart {
			continue
		}
		for j, other := range roles {
			if j != i && other.number != r.number {
				t.add(other.number, r.cell, c.StartedAt, c.Operator)
			}
		}
	}
}

// results applies the distinct-cell threshold and ranks by distinct cells,
// then most recent observation, then number.
func (t *tally) results(minOccurrences, saturation int) []model.CorrelationResult {
	out := make([]model.CorrelationResult, 0, len(t.numbers))
	for num, nt := range t.numbers {
		if len(nt.cells) < minOccurrences {
			continue
		}
		cells := make([]string, 0, len(nt.cells))
		for c := range nt.cells {
			cells = append(cells, c)
		}
		sort.Strings(cells)

		ops := make([]model.Operator, 0, len(nt.operators))
		for op := range nt.operators {
			ops = append(ops, op)
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

		out = append(out, model.CorrelationResult{
			Number:        num,
			Cells:         cells,
			DistinctCells: len(cells),
			Occurrences:   nt.occurrences,
			Operators:     ops,
			FirstSeen:     nt.first,
			LastSeen:      nt.last,
			Confidence:    Confidence(len(cells), saturation),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DistinctCells != b.DistinctCells {
			return a.DistinctCells > b.DistinctCells
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.Number < b.Number
	})
	return out
}

// Confidence maps a distinct-cell count to a percentage that saturates at
// 100, rounded to one decimal.
func Confidence(distinctCells, saturation int) float64 {
	if saturation <= 0 || distinctCells <= 0 {
		return 0
	}
	pct := float64(distinctCells) * 100 / float64(saturation)
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}
