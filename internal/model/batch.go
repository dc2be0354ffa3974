package model

import "time"

// BatchStatus is the processing state of an upload batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// UploadBatch is the metadata of one ingested source file. It owns every
// record produced from it.
type UploadBatch struct {
	ID               string      `json:"id"`
	MissionID        string      `json:"mission_id"`
	Operator         Operator    `json:"operator"`
	Kind             RecordKind  `json:"kind"`
	FileName         string      `json:"file_name"`
	Checksum         string      `json:"checksum"`
	Status           BatchStatus `json:"status"`
	Processed        int         `json:"processed"`
	FailedValidation int         `json:"failed_validation"`
	Duplicates       int         `json:"duplicates"`
	OtherErrors      int         `json:"other_errors"`
	Error            string      `json:"error,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// RowFailure describes why one source row was not persisted.
type RowFailure struct {
	Row     int    `json:"row"`
	Rule    string `json:"rule"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// BatchResult is the outcome of ingesting one source file.
type BatchResult struct {
	BatchID          string         `json:"batch_id"`
	Status           BatchStatus    `json:"status"`
	Processed        int            `json:"processed"`
	FailedValidation int            `json:"failed_validation"`
	Duplicates       int            `json:"duplicates"`
	OtherErrors      int            `json:"other_errors"`
	Chunks           int            `json:"chunks"`
	Failures         []RowFailure   `json:"failures,omitempty"`
	FailuresByRule   map[string]int `json:"failures_by_rule,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// SuccessRate is processed / (processed + failedValidation + otherErrors).
// Duplicates are a benign re-ingestion outcome and stay out of the
// denominator. A batch with nothing to judge reports 1.
func (r *BatchResult) SuccessRate() float64 {
	denom := r.Processed + r.FailedValidation + r.OtherErrors
	if denom == 0 {
		return 1
	}
	return float64(r.Processed) / float64(denom)
}

// Rows returns the number of classified data rows.
func (r *BatchResult) Rows() int {
	return r.Processed + r.FailedValidation + r.Duplicates + r.OtherErrors
}
