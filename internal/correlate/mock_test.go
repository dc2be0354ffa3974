package correlate

import (
	"context"
	"time"

	"github.com/sells-group/hunter-cli/internal/model"
)

// mockReader serves fixed records. Calls and sessions are returned as-is;
// the engine is responsible for ignoring cells outside the scan set.
type mockReader struct {
	missions    map[string]bool
	scans       []model.ScanRecord
	calls       []model.CallRecord
	sessions    []model.SessionRecord
	callsErr    error
	missionErr  error
	cellQueries [][]string
	scanReads   int
}

func (m *mockReader) MissionExists(_ context.Context, missionID string) (bool, error) {
	return m.missions[missionID], m.missionErr
}

func (m *mockReader) ScanRecords(context.Context, string, time.Time, time.Time) ([]model.ScanRecord, error) {
	m.scanReads++
	return m.scans, nil
}

func (m *mockReader) CallsTouchingCells(_ context.Context, _ string, _, _ time.Time, cells []string) ([]model.CallRecord, error) {
	m.cellQueries = append(m.cellQueries, cells)
	return m.calls, m.callsErr
}

func (m *mockReader) SessionsInCells(context.Context, string, time.Time, time.Time, []string) ([]model.SessionRecord, error) {
	return m.sessions, nil
}
