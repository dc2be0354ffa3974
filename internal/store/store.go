// Package store persists upload batches and the call, session and scan
// records they own, and serves the windowed reads used by correlation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/hunter-cli/internal/model"
)

// ErrNotFound is returned when a batch lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// RuleStorageRejected labels rows the store refused for a reason other than
// a uniqueness collision.
const RuleStorageRejected = "storage_rejected"

// BatchFilter specifies criteria for listing upload batches.
type BatchFilter struct {
	MissionID string            `json:"mission_id,omitempty"`
	Status    model.BatchStatus `json:"status,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}

// ChunkResult is the outcome of writing one chunk in one transaction.
// Inserted + Duplicates + len(Failed) equals the chunk size.
type ChunkResult struct {
	Inserted   int
	Duplicates int
	Failed     []model.RowFailure
}

// Store defines the persistence interface for ingestion and correlation.
type Store interface {
	// Upload batches
	CreateBatch(ctx context.Context, b *model.UploadBatch) error
	StartBatch(ctx context.Context, batchID string) error
	CompleteBatch(ctx context.Context, batchID string, res *model.BatchResult) error
	FailBatch(ctx context.Context, batchID string, res *model.BatchResult, cause string) error
	GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.UploadBatch, error)
	PurgeBatch(ctx context.Context, batchID string) (int64, error)

	// Chunk writes
	WriteCalls(ctx context.Context, recs []model.CallRecord) (*ChunkResult, error)
	WriteSessions(ctx context.Context, recs []model.SessionRecord) (*ChunkResult, error)
	WriteScans(ctx context.Context, recs []model.ScanRecord) (*ChunkResult, error)

	// Correlation reads
	MissionExists(ctx context.Context, missionID string) (bool, error)
	ScanRecords(ctx context.Context, missionID string, start, end time.Time) ([]model.ScanRecord, error)
	CallsTouchingCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.CallRecord, error)
	SessionsInCells(ctx context.Context, missionID string, start, end time.Time, cells []string) ([]model.SessionRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
