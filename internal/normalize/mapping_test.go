package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/model"
)

func TestDefaultMappings(t *testing.T) {
	set, err := DefaultMappings()
	require.NoError(t, err)

	assert.Equal(t, []model.Operator{
		model.OperatorClaro, model.OperatorHunter, model.OperatorMovistar, model.OperatorTigo, model.OperatorWOM,
	}, set.Operators())

	for _, op := range model.Carriers {
		for _, kind := range []model.RecordKind{model.KindCalls, model.KindSessions} {
			_, ok := set.Lookup(op, kind)
			assert.True(t, ok, "%s/%s", op, kind)
		}
	}
	_, ok := set.Lookup(model.OperatorHunter, model.KindScan)
	assert.True(t, ok)
	_, ok = set.Lookup(model.OperatorClaro, model.KindScan)
	assert.False(t, ok)
}

func TestMapping_FieldFor(t *testing.T) {
	set, err := DefaultMappings()
	require.NoError(t, err)
	m, _ := set.Lookup(model.OperatorClaro, model.KindCalls)

	f, ok := m.FieldFor(" Número Origen ")
	assert.True(t, ok)
	assert.Equal(t, FieldOriginatingNumber, f)

	f, ok = m.FieldFor("ORIGINATING_NUMBER")
	assert.True(t, ok)
	assert.Equal(t, FieldOriginatingNumber, f)

	_, ok = m.FieldFor("imei")
	assert.False(t, ok)
}

func TestMapping_HeaderScore(t *testing.T) {
	set, err := DefaultMappings()
	require.NoError(t, err)
	m, _ := set.Lookup(model.OperatorClaro, model.KindCalls)

	assert.Equal(t, 0, m.HeaderScore([]string{"REPORTE DE LLAMADAS", "", ""}))
	assert.Equal(t, 3, m.HeaderScore([]string{"NUMERO_A", "NUMERO_B", "FECHA_HORA", "IMEI"}))
	// Two aliases of one field count once.
	assert.Equal(t, 1, m.HeaderScore([]string{"numero_a", "numero_origen"}))
}

func TestLoadMappings_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- operator: wom
  kinds:
    calls:
      fields:
        originating_number: [llamante_x]
        start: [momento]
`), 0o644))

	set, err := LoadMappings(path)
	require.NoError(t, err)

	m, ok := set.Lookup(model.OperatorWOM, model.KindCalls)
	require.True(t, ok)
	_, ok = m.FieldFor("llamante_x")
	assert.True(t, ok)
	// The kind table is replaced wholesale.
	_, ok = m.FieldFor("a_party")
	assert.False(t, ok)
	assert.Equal(t, CellNumeric, m.CellEncoding)

	// Other kinds keep the embedded tables.
	_, ok = set.Lookup(model.OperatorWOM, model.KindSessions)
	assert.True(t, ok)
}

func TestLoadMappings_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"unknown operator", "operator: acme\nkinds:\n  calls:\n    fields:\n      start: [x]\n"},
		{"duplicate alias", "operator: wom\nkinds:\n  calls:\n    fields:\n      start: [x]\n      end: [x]\n"},
		{"bad encoding", "operator: wom\nkinds:\n  calls:\n    cell_encoding: base64\n    fields:\n      start: [x]\n"},
		{"no fields", "operator: wom\nkinds:\n  calls:\n    cell_encoding: hex\n"},
		{"missing operator", "kinds:\n  calls:\n    fields:\n      start: [x]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadMappings(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadMappings(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
