package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/store"
)

// mockStore is an in-memory store.Store. writeErrs are returned, in order,
// by the next chunk writes before they succeed.
type mockStore struct {
	mu        sync.Mutex
	batches   map[string]*model.UploadBatch
	seen      map[string]bool
	calls     []model.CallRecord
	sessions  []model.SessionRecord
	scans     []model.ScanRecord
	writeErrs []error
	writes    int
	rejectRow map[int]bool
	nextID    int
}

func newMockStore() *mockStore {
	return &mockStore{
		batches:   make(map[string]*model.UploadBatch),
		seen:      make(map[string]bool),
		rejectRow: make(map[int]bool),
	}
}

func (m *mockStore) CreateBatch(_ context.Context, b *model.UploadBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = fmt.Sprintf("batch-%d", m.nextID)
	b.Status = model.BatchStatusPending
	b.CreatedAt = time.Now().UTC()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockStore) StartBatch(_ context.Context, id string) error {
	return m.update(id, func(b *model.UploadBatch) { b.Status = model.BatchStatusProcessing })
}

func (m *mockStore) CompleteBatch(_ context.Context, id string, res *model.BatchResult) error {
	return m.update(id, func(b *model.UploadBatch) {
		b.Status = model.BatchStatusCompleted
		b.Processed, b.FailedValidation, b.Duplicates, b.OtherErrors =
			res.Processed, res.FailedValidation, res.Duplicates, res.OtherErrors
	})
}

func (m *mockStore) FailBatch(_ context.Context, id string, res *model.BatchResult, cause string) error {
	return m.update(id, func(b *model.UploadBatch) {
		b.Status = model.BatchStatusFailed
		b.Error = cause
		b.Processed, b.FailedValidation, b.Duplicates, b.OtherErrors =
			res.Processed, res.FailedValidation, res.Duplicates, res.OtherErrors
	})
}

func (m *mockStore) update(id string, fn func(*model.UploadBatch)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(b)
	return nil
}

func (m *mockStore) GetBatch(_ context.Context, id string) (*model.UploadBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockStore) ListBatches(_ context.Context, _ store.BatchFilter) ([]model.UploadBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.UploadBatch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, *b)
	}
	return out, nil
}

func (m *mockStore) PurgeBatch(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[id]; !ok {
		return 0, store.ErrNotFound
	}
	delete(m.batches, id)
	return 0, nil
}

// write applies the uniqueness rule and returns the chunk outcome.
func (m *mockStore) write(keys []string, rows []int) (*store.ChunkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if len(m.writeErrs) > 0 {
		err := m.writeErrs[0]
		m.writeErrs = m.writeErrs[1:]
		return nil, err
	}

	res := &store.ChunkResult{}
	for i, k := range keys {
		switch {
		case m.rejectRow[rows[i]]:
			res.Failed = append(res.Failed, model.RowFailure{
				Row: rows[i], Rule: store.RuleStorageRejected, Message: "rejected",
			})
		case m.seen[k]:
			res.Duplicates++
		default:
			m.seen[k] = true
			res.Inserted++
		}
	}
	return res, nil
}

func (m *mockStore) WriteCalls(_ context.Context, recs []model.CallRecord) (*store.ChunkResult, error) {
	keys, rows := make([]string, len(recs)), make([]int, len(recs))
	for i, r := range recs {
		keys[i] = r.MissionID + "|" + string(r.Operator) + "|" + r.SourceFile + "|" + r.Hash
		rows[i] = r.SourceRow
	}
	res, err := m.write(keys, rows)
	if err == nil {
		m.mu.Lock()
		m.calls = append(m.calls, recs...)
		m.mu.Unlock()
	}
	return res, err
}

func (m *mockStore) WriteSessions(_ context.Context, recs []model.SessionRecord) (*store.ChunkResult, error) {
	keys, rows := make([]string, len(recs)), make([]int, len(recs))
	for i, r := range recs {
		keys[i] = r.MissionID + "|" + string(r.Operator) + "|" + r.SourceFile + "|" + r.Hash
		rows[i] = r.SourceRow
	}
	res, err := m.write(keys, rows)
	if err == nil {
		m.mu.Lock()
		m.sessions = append(m.sessions, recs...)
		m.mu.Unlock()
	}
	return res, err
}

func (m *mockStore) WriteScans(_ context.Context, recs []model.ScanRecord) (*store.ChunkResult, error) {
	keys, rows := make([]string, len(recs)), make([]int, len(recs))
	for i, r := range recs {
		keys[i] = r.MissionID + "|hunter|" + r.SourceFile + "|" + r.Hash
		rows[i] = r.SourceRow
	}
	res, err := m.write(keys, rows)
	if err == nil {
		m.mu.Lock()
		m.scans = append(m.scans, recs...)
		m.mu.Unlock()
	}
	return res, err
}

func (m *mockStore) MissionExists(_ context.Context, mission string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.MissionID == mission {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) ScanRecords(context.Context, string, time.Time, time.Time) ([]model.ScanRecord, error) {
	return nil, nil
}

func (m *mockStore) CallsTouchingCells(context.Context, string, time.Time, time.Time, []string) ([]model.CallRecord, error) {
	return nil, nil
}

func (m *mockStore) SessionsInCells(context.Context, string, time.Time, time.Time, []string) ([]model.SessionRecord, error) {
	return nil, nil
}

func (m *mockStore) Ping(context.Context) error    { return nil }
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

func (m *mockStore) batch(id string) model.UploadBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.batches[id]
}

func (m *mockStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
