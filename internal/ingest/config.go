package ingest

import (
	"github.com/sells-group/hunter-cli/internal/resilience"
)

// Chunk size bounds.
const (
	MinChunkSize     = 100
	MaxChunkSize     = 5000
	DefaultChunkSize = 1000
)

// headerSearchRows is how many leading rows may precede the header row.
const headerSearchRows = 10

// minHeaderMatches is the number of mapped columns a row needs to be taken
// as the header.
const minHeaderMatches = 2

// Config tunes batch ingestion.
type Config struct {
	// ChunkSize is the number of source rows committed per transaction,
	// clamped to [MinChunkSize, MaxChunkSize].
	ChunkSize int

	// ErrorCeiling aborts a batch once (failed validation + other errors) /
	// classified rows exceeds it. Duplicates never count against it.
	ErrorCeiling float64

	// MinRowsForCeiling is the number of classified rows needed before the
	// ceiling is evaluated.
	MinRowsForCeiling int

	// MaxConcurrentFiles bounds IngestAll parallelism.
	MaxConcurrentFiles int

	// MaxReportedFailures caps the row failures kept in a BatchResult.
	MaxReportedFailures int

	// MaxChunkWritesPerSec throttles chunk commits across all workers.
	// Zero disables the limit.
	MaxChunkWritesPerSec float64

	// Retry governs transient storage failures at chunk granularity.
	Retry resilience.RetryConfig
}

// DefaultConfig returns the ingestion defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:           DefaultChunkSize,
		ErrorCeiling:        0.5,
		MinRowsForCeiling:   200,
		MaxConcurrentFiles:  4,
		MaxReportedFailures: 500,
		Retry:               resilience.DefaultRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	switch {
	case c.ChunkSize <= 0:
		c.ChunkSize = def.ChunkSize
	case c.ChunkSize < MinChunkSize:
		c.ChunkSize = MinChunkSize
	case c.ChunkSize > MaxChunkSize:
		c.ChunkSize = MaxChunkSize
	}
	if c.ErrorCeiling <= 0 || c.ErrorCeiling > 1 {
		c.ErrorCeiling = def.ErrorCeiling
	}
	if c.MinRowsForCeiling <= 0 {
		c.MinRowsForCeiling = def.MinRowsForCeiling
	}
	if c.MaxConcurrentFiles <= 0 {
		c.MaxConcurrentFiles = def.MaxConcurrentFiles
	}
	if c.MaxReportedFailures <= 0 {
		c.MaxReportedFailures = def.MaxReportedFailures
	}
	return c
}
