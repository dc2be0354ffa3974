package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/correlate"
	"github.com/sells-group/hunter-cli/internal/ingest"
	"github.com/sells-group/hunter-cli/internal/model"
)

func TestFormatBatchesList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	batches := []model.UploadBatch{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			MissionID: "m-1",
			Operator:  model.OperatorClaro,
			Kind:      model.KindCalls,
			FileName:  "claro_llamadas_marzo_2024_bogota_norte_final.csv",
			Status:    model.BatchStatusCompleted,
			Processed: 85,
			CreatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatBatchesList(&buf, batches)

	output := buf.String()
	assert.Contains(t, output, "MISSION")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "claro")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "...")
	assert.Contains(t, output, "2025-06-15 10:30")
}

func TestFormatOutcomes(t *testing.T) {
	outcomes := []ingest.Outcome{
		{
			Request: ingest.Request{FileName: "good.csv"},
			Result: &model.BatchResult{
				BatchID:          "batch-1",
				Status:           model.BatchStatusCompleted,
				Processed:        9,
				FailedValidation: 1,
			},
		},
		{
			Request: ingest.Request{FileName: "gone.csv"},
			Err:     errors.New("open failed"),
		},
	}

	var buf bytes.Buffer
	formatOutcomes(&buf, outcomes)

	output := buf.String()
	assert.Contains(t, output, "good.csv")
	assert.Contains(t, output, "90.0%")
	assert.Contains(t, output, "gone.csv")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "open failed")
}

func TestWriteOutcomesJSON(t *testing.T) {
	outcomes := []ingest.Outcome{
		{Request: ingest.Request{FileName: "a.csv"}, Err: errors.New("boom")},
	}

	var buf bytes.Buffer
	require.NoError(t, writeOutcomesJSON(&buf, outcomes))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "boom", rows[0]["error"])
}

func TestFormatReport(t *testing.T) {
	seen := time.Date(2024, 3, 10, 14, 1, 0, 0, time.UTC)
	rep := &correlate.Report{
		MissionID: "m-1",
		Start:     seen.Add(-time.Hour),
		End:       seen.Add(time.Hour),
		ScanCells: 2,
		Area:      &correlate.Area{MinLat: 4.6, MinLon: -74.1, MaxLat: 4.7, MaxLon: -74.0, Points: 2},
		Results: []model.CorrelationResult{
			{
				Number:        "3001111111",
				Cells:         []string{"1001", "1002"},
				DistinctCells: 2,
				Occurrences:   3,
				Operators:     []model.Operator{model.OperatorClaro, model.OperatorTigo},
				FirstSeen:     seen,
				LastSeen:      seen,
				Confidence:    40,
			},
		},
	}

	var buf bytes.Buffer
	formatReport(&buf, rep)

	output := buf.String()
	assert.Contains(t, output, "m-1")
	assert.Contains(t, output, "Scan area:")
	assert.Contains(t, output, "3001111111")
	assert.Contains(t, output, "40.0")
	assert.Contains(t, output, "claro,tigo")
	assert.NotContains(t, output, "no numbers matched")

	buf.Reset()
	formatReport(&buf, &correlate.Report{MissionID: "m-2"})
	assert.Contains(t, buf.String(), "(no numbers matched)")
	assert.NotContains(t, buf.String(), "Scan area:")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
