package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hunter-cli/internal/model"
)

const (
	tableBatch    = "upload_batch"
	tableCalls    = "call_record"
	tableSessions = "cellular_session_record"
	tableScans    = "scan_record"
)

// recordTables are the per-kind tables owned by an upload batch.
var recordTables = []string{tableCalls, tableSessions, tableScans}

// conflictColumns form the per-table uniqueness key.
var conflictColumns = []string{"mission_id", "operator", "source_file", "record_hash"}

var callColumns = []string{
	"batch_id", "mission_id", "source_file", "source_row", "record_hash", "operator",
	"direction", "originating_number", "terminating_number", "target_number",
	"started_at", "duration_secs", "origin_cell", "destination_cell", "target_cell",
	"technology", "payload",
}

var sessionColumns = []string{
	"batch_id", "mission_id", "source_file", "source_row", "record_hash", "operator",
	"subscriber_number", "started_at", "ended_at", "cell_id", "lac",
	"uplink_bytes", "downlink_bytes", "technology", "payload",
}

var scanColumns = []string{
	"batch_id", "mission_id", "source_file", "source_row", "record_hash", "operator",
	"file_origin_sequence", "point_label", "latitude", "longitude", "observed_operator",
	"technology", "signal_dbm", "cell_id", "lac", "observed_at", "payload",
}

// pendingRow is one record flattened into column order, tagged with its
// source row for failure reporting.
type pendingRow struct {
	row    int
	values []any
}

func callRows(recs []model.CallRecord) ([]pendingRow, error) {
	out := make([]pendingRow, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		payload, err := encodePayload(r.Payload)
		if err != nil {
			return nil, err
		}
		var duration any
		if r.DurationSecs != nil {
			duration = *r.DurationSecs
		}
		out = append(out, pendingRow{row: r.SourceRow, values: []any{
			r.BatchID, r.MissionID, r.SourceFile, r.SourceRow, r.Hash, string(r.Operator),
			string(r.Direction), nullable(r.OriginatingNumber), nullable(r.TerminatingNumber), nullable(r.TargetNumber),
			r.StartedAt.UTC(), duration, nullable(r.OriginCell), nullable(r.DestinationCell), nullable(r.TargetCell),
			nullable(r.Technology), payload,
		}})
	}
	return out, nil
}

func sessionRows(recs []model.SessionRecord) ([]pendingRow, error) {
	out := make([]pendingRow, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		payload, err := encodePayload(r.Payload)
		if err != nil {
			return nil, err
		}
		var ended any
		if r.EndedAt != nil {
			ended = r.EndedAt.UTC()
		}
		out = append(out, pendingRow{row: r.SourceRow, values: []any{
			r.BatchID, r.MissionID, r.SourceFile, r.SourceRow, r.Hash, string(r.Operator),
			r.SubscriberNumber, r.StartedAt.UTC(), ended, r.CellID, nullable(r.LAC),
			r.UplinkBytes, r.DownlinkBytes, nullable(r.Technology), payload,
		}})
	}
	return out, nil
}

func scanRows(recs []model.ScanRecord) ([]pendingRow, error) {
	out := make([]pendingRow, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		payload, err := encodePayload(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, pendingRow{row: r.SourceRow, values: []any{
			r.BatchID, r.MissionID, r.SourceFile, r.SourceRow, r.Hash, string(model.OperatorHunter),
			r.FileOriginSequence, nullable(r.PointLabel), floatOrNil(r.Latitude), floatOrNil(r.Longitude), nullable(r.ObservedOperator),
			nullable(r.Technology), floatOrNil(r.SignalDBm), r.CellID, nullable(r.LAC), r.ObservedAt.UTC(), payload,
		}})
	}
	return out, nil
}

func encodePayload(p map[string]string) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal payload")
	}
	return b, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func valuesOf(rows []pendingRow) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.values
	}
	return out
}

func rejected(row int, err error) model.RowFailure {
	return model.RowFailure{Row: row, Rule: RuleStorageRejected, Message: err.Error()}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// utcWindow normalizes an inclusive window to UTC.
func utcWindow(start, end time.Time) (time.Time, time.Time) {
	return start.UTC(), end.UTC()
}
