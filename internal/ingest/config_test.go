package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/model"
)

func TestConfig_WithDefaults(t *testing.T) {
	tests := []struct {
		name  string
		chunk int
		want  int
	}{
		{"zero uses default", 0, DefaultChunkSize},
		{"below minimum", 10, MinChunkSize},
		{"above maximum", 50000, MaxChunkSize},
		{"in range", 2500, 2500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{ChunkSize: tt.chunk}.withDefaults()
			assert.Equal(t, tt.want, cfg.ChunkSize)
		})
	}

	cfg := Config{ErrorCeiling: 1.5}.withDefaults()
	assert.Equal(t, 0.5, cfg.ErrorCeiling)
	assert.Equal(t, 200, cfg.MinRowsForCeiling)
	assert.Equal(t, 4, cfg.MaxConcurrentFiles)
	assert.Equal(t, 500, cfg.MaxReportedFailures)
}

func TestHeader_DuplicateColumns(t *testing.T) {
	h := newHeader([]string{"Fecha", "Numero", "FECHA", "", "numero"})
	assert.Equal(t, []string{"Fecha", "Numero", "FECHA_2", "", "numero_2"}, h.columns)

	rec := h.record([]string{"a", "b"})
	assert.Equal(t, "a", rec["Fecha"])
	assert.Equal(t, "b", rec["Numero"])
	assert.Equal(t, "", rec["FECHA_2"])
	assert.Len(t, rec, 4)
}

func TestBlank(t *testing.T) {
	assert.True(t, blank(nil))
	assert.True(t, blank([]string{"", "  "}))
	assert.False(t, blank([]string{"", "x"}))
}

func TestSystemicError(t *testing.T) {
	err := systemic(ReasonErrorCeiling, context.Canceled)
	assert.Equal(t, "error_ceiling: context canceled", err.Error())
	assert.ErrorIs(t, err, context.Canceled)

	se, ok := AsSystemic(err)
	require.True(t, ok)
	assert.Equal(t, ReasonErrorCeiling, se.Reason)

	_, ok = AsSystemic(assert.AnError)
	assert.False(t, ok)
}

func TestIngestAll_IndependentFiles(t *testing.T) {
	st := newMockStore()
	ing := New(st, newTestNormalizer(t), testConfig())

	good := callsRequest(csvFile(callHeader, validCall(1), validCall(2)))
	other := callsRequest(csvFile(callHeader, validCall(3)))
	other.FileName = "claro_calls_2.csv"
	bad := callsRequest(nil)
	bad.Kind = model.KindScan
	bad.Data = []byte("x")

	out := ing.IngestAll(context.Background(), []Request{good, bad, other})
	require.Len(t, out, 3)

	require.NoError(t, out[0].Err)
	assert.Equal(t, 2, out[0].Result.Processed)
	assert.Error(t, out[1].Err)
	require.NoError(t, out[2].Err)
	assert.Equal(t, 1, out[2].Result.Processed)
	assert.Equal(t, "claro_calls_2.csv", out[2].Request.FileName)
}
