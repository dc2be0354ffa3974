package model

import "time"

// CorrelationResult is the derived, never-persisted outcome for one phone
// number: the distinct scanned cells it was attributed to within a window.
type CorrelationResult struct {
	Number        string     `json:"number"`
	Cells         []string   `json:"cells"`
	DistinctCells int        `json:"distinct_cells"`
	Occurrences   int        `json:"occurrences"`
	Operators     []Operator `json:"operators"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	Confidence    float64    `json:"confidence"`
}
