package model

import "time"

// Direction is the call direction relative to the subscriber under investigation.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

// CallRecord is one telephone call or message event from an operator CDR export.
// Number fields hold the canonical 10-digit form when the raw value
// canonicalized, otherwise the bare digits of the raw value.
type CallRecord struct {
	ID                int64             `json:"id,omitempty"`
	BatchID           string            `json:"batch_id,omitempty"`
	MissionID         string            `json:"mission_id"`
	SourceFile        string            `json:"source_file"`
	SourceRow         int               `json:"source_row"`
	Hash              string            `json:"record_hash"`
	Operator          Operator          `json:"operator"`
	Direction         Direction         `json:"direction"`
	OriginatingNumber string            `json:"originating_number,omitempty"`
	TerminatingNumber string            `json:"terminating_number,omitempty"`
	TargetNumber      string            `json:"target_number,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	DurationSecs      *int64            `json:"duration_secs,omitempty"`
	OriginCell        string            `json:"origin_cell,omitempty"`
	DestinationCell   string            `json:"destination_cell,omitempty"`
	TargetCell        string            `json:"target_cell,omitempty"`
	Technology        string            `json:"technology,omitempty"`
	Payload           map[string]string `json:"payload,omitempty"`
}

// PrimaryCell is the first non-empty of origin, destination and target cell.
func (r *CallRecord) PrimaryCell() string {
	switch {
	case r.OriginCell != "":
		return r.OriginCell
	case r.DestinationCell != "":
		return r.DestinationCell
	default:
		return r.TargetCell
	}
}

// SessionRecord is one data/voice session tied to a single subscriber and cell.
type SessionRecord struct {
	ID               int64             `json:"id,omitempty"`
	BatchID          string            `json:"batch_id,omitempty"`
	MissionID        string            `json:"mission_id"`
	SourceFile       string            `json:"source_file"`
	SourceRow        int               `json:"source_row"`
	Hash             string            `json:"record_hash"`
	Operator         Operator          `json:"operator"`
	SubscriberNumber string            `json:"subscriber_number"`
	StartedAt        time.Time         `json:"started_at"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	CellID           string            `json:"cell_id"`
	LAC              string            `json:"lac,omitempty"`
	UplinkBytes      int64             `json:"uplink_bytes"`
	DownlinkBytes    int64             `json:"downlink_bytes"`
	Technology       string            `json:"technology,omitempty"`
	Payload          map[string]string `json:"payload,omitempty"`
}

// ScanRecord is one row of field-collected RF scan data. FileOriginSequence
// preserves the source row ordering and is used for display instead of ID.
type ScanRecord struct {
	ID                 int64             `json:"id,omitempty"`
	BatchID            string            `json:"batch_id,omitempty"`
	MissionID          string            `json:"mission_id"`
	SourceFile         string            `json:"source_file"`
	SourceRow          int               `json:"source_row"`
	Hash               string            `json:"record_hash"`
	FileOriginSequence int64             `json:"file_origin_sequence"`
	PointLabel         string            `json:"point_label,omitempty"`
	Latitude           *float64          `json:"latitude,omitempty"`
	Longitude          *float64          `json:"longitude,omitempty"`
	ObservedOperator   string            `json:"observed_operator,omitempty"`
	Technology         string            `json:"technology,omitempty"`
	SignalDBm          *float64          `json:"signal_dbm,omitempty"`
	CellID             string            `json:"cell_id"`
	LAC                string            `json:"lac,omitempty"`
	ObservedAt         time.Time         `json:"observed_at"`
	Payload            map[string]string `json:"payload,omitempty"`
}
