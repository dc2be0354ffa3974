// Package scan derives the set of cells observed by reconnaissance scans
// for a mission and time window.
package scan

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/model"
)

// ScanMeta is the representative metadata of one scanned cell: the first
// observation in file order, preferring one that carries coordinates.
type ScanMeta struct {
	CellID       string    `json:"cell_id"`
	LAC          string    `json:"lac,omitempty"`
	PointLabel   string    `json:"point_label,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Operator     string    `json:"observed_operator,omitempty"`
	Technology   string    `json:"technology,omitempty"`
	Sequence     int64     `json:"file_origin_sequence"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Observations int       `json:"observations"`
}

// HasCoordinates reports whether both coordinates are known.
func (m ScanMeta) HasCoordinates() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// Reader is the store capability the extractor needs.
type Reader interface {
	ScanRecords(ctx context.Context, missionID string, start, end time.Time) ([]model.ScanRecord, error)
}

// Extractor reads scan records from the store. It holds no state.
type Extractor struct {
	reader Reader
}

// NewExtractor creates an Extractor over r.
func NewExtractor(r Reader) *Extractor {
	return &Extractor{reader: r}
}

// ExtractCells returns every distinct cell observed by mission scans with
// observed_at in [start, end]. Rows without a cell are ignored.
func (e *Extractor) ExtractCells(ctx context.Context, missionID string, start, end time.Time) (map[string]ScanMeta, error) {
	recs, err := e.reader.ScanRecords(ctx, missionID, start, end)
	if err != nil {
		return nil, eris.Wrapf(err, "scan: read records for mission %s", missionID)
	}

	cells := make(map[string]ScanMeta)
	for _, r := range recs {
		if r.CellID == "" {
			continue
		}
		meta, ok := cells[r.CellID]
		if !ok {
			cells[r.CellID] = fromRecord(r)
			continue
		}
		meta.Observations++
		if r.ObservedAt.Before(meta.FirstSeen) {
			meta.FirstSeen = r.ObservedAt
		}
		if r.ObservedAt.After(meta.LastSeen) {
			meta.LastSeen = r.ObservedAt
		}
		if !meta.HasCoordinates() && r.Latitude != nil && r.Longitude != nil {
			first, last, n := meta.FirstSeen, meta.LastSeen, meta.Observations
			meta = fromRecord(r)
			meta.FirstSeen, meta.LastSeen, meta.Observations = first, last, n
		}
		cells[r.CellID] = meta
	}

	zap.L().Debug("scan cells extracted",
		zap.String("component", "scan"),
		zap.String("mission", missionID),
		zap.Int("records", len(recs)),
		zap.Int("cells", len(cells)),
	)
	return cells, nil
}

func fromRecord(r model.ScanRecord) ScanMeta {
	return ScanMeta{
		CellID:       r.CellID,
		LAC:          r.LAC,
		PointLabel:   r.PointLabel,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Operator:     r.ObservedOperator,
		Technology:   r.Technology,
		Sequence:     r.FileOriginSequence,
		FirstSeen:    r.ObservedAt,
		LastSeen:     r.ObservedAt,
		Observations: 1,
	}
}
