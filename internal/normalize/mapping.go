package normalize

import (
	"embed"
	"io/fs"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hunter-cli/internal/model"
)

//go:embed mappings/*.yaml
var mappingFS embed.FS

// Canonical field names a mapping table can target.
const (
	FieldOriginatingNumber = "originating_number"
	FieldTerminatingNumber = "terminating_number"
	FieldTargetNumber      = "target_number"
	FieldSubscriberNumber  = "subscriber_number"
	FieldStart             = "start"
	FieldStartDate         = "start_date"
	FieldStartTime         = "start_time"
	FieldEnd               = "end"
	FieldDuration          = "duration"
	FieldOriginCell        = "origin_cell"
	FieldDestinationCell   = "destination_cell"
	FieldTargetCell        = "target_cell"
	FieldCell              = "cell"
	FieldLAC               = "lac"
	FieldDirection         = "direction"
	FieldTechnology        = "technology"
	FieldUplinkBytes       = "uplink_bytes"
	FieldDownlinkBytes     = "downlink_bytes"
	FieldSequence          = "sequence"
	FieldPointLabel        = "point_label"
	FieldLatitude          = "latitude"
	FieldLongitude         = "longitude"
	FieldObservedOperator  = "observed_operator"
	FieldSignal            = "signal"
)

// CellEncoding describes how an operator writes cell identifiers.
type CellEncoding string

const (
	CellNumeric   CellEncoding = "numeric"   // plain decimal identifiers
	CellHex       CellEncoding = "hex"       // hexadecimal, optionally 0x-prefixed
	CellComposite CellEncoding = "composite" // "cell-sector" style strings
)

// Mapping is the field-mapping table for one operator and record kind.
type Mapping struct {
	Fields              map[string][]string          `yaml:"fields"`
	TimestampLayouts    []string                     `yaml:"timestamp_layouts"`
	CellEncoding        CellEncoding                 `yaml:"cell_encoding"`
	CompositeSeparators string                       `yaml:"composite_separators"`
	Directions          map[model.Direction][]string `yaml:"directions"`

	aliases    map[string]string // folded column → canonical field
	directions map[string]model.Direction
}

// OperatorMapping groups the per-kind tables of one operator.
type OperatorMapping struct {
	Operator model.Operator                `yaml:"operator"`
	Kinds    map[model.RecordKind]*Mapping `yaml:"kinds"`
}

// MappingSet holds every operator's compiled mapping tables.
type MappingSet struct {
	ops map[model.Operator]*OperatorMapping
}

// DefaultMappings loads the mapping tables shipped with the binary.
func DefaultMappings() (*MappingSet, error) {
	entries, err := fs.ReadDir(mappingFS, "mappings")
	if err != nil {
		return nil, eris.Wrap(err, "normalize: read embedded mappings")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	set := &MappingSet{ops: make(map[model.Operator]*OperatorMapping)}
	for _, e := range entries {
		data, err := mappingFS.ReadFile("mappings/" + e.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: read mapping %s", e.Name())
		}
		if err := set.merge(data); err != nil {
			return nil, eris.Wrapf(err, "normalize: mapping %s", e.Name())
		}
	}
	return set, nil
}

// LoadMappings returns the embedded tables, with the YAML file at path merged
// on top when path is non-empty. Override kinds replace the embedded kind
// table wholesale.
func LoadMappings(path string) (*MappingSet, error) {
	set, err := DefaultMappings()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read mapping override %s", path)
	}

	// An override file may hold a single operator or a list of them.
	var list []OperatorMapping
	if yaml.Unmarshal(data, &list) == nil && len(list) > 0 {
		for i := range list {
			out, err := yaml.Marshal(&list[i])
			if err != nil {
				return nil, eris.Wrap(err, "normalize: re-encode override")
			}
			if err := set.merge(out); err != nil {
				return nil, eris.Wrapf(err, "normalize: mapping override %s", path)
			}
		}
		return set, nil
	}
	if err := set.merge(data); err != nil {
		return nil, eris.Wrapf(err, "normalize: mapping override %s", path)
	}
	return set, nil
}

func (s *MappingSet) merge(data []byte) error {
	var om OperatorMapping
	if err := yaml.Unmarshal(data, &om); err != nil {
		return eris.Wrap(err, "parse yaml")
	}
	if om.Operator == "" {
		return eris.New("missing operator")
	}
	if _, err := model.ParseOperator(string(om.Operator)); err != nil {
		return err
	}

	existing, ok := s.ops[om.Operator]
	if !ok {
		existing = &OperatorMapping{Operator: om.Operator, Kinds: make(map[model.RecordKind]*Mapping)}
		s.ops[om.Operator] = existing
	}
	for kind, m := range om.Kinds {
		if m == nil {
			continue
		}
		if _, err := model.ParseRecordKind(string(kind)); err != nil {
			return err
		}
		if err := m.compile(); err != nil {
			return eris.Wrapf(err, "kind %s", kind)
		}
		existing.Kinds[kind] = m
	}
	return nil
}

// Lookup returns the mapping table for op and kind.
func (s *MappingSet) Lookup(op model.Operator, kind model.RecordKind) (*Mapping, bool) {
	om, ok := s.ops[op]
	if !ok {
		return nil, false
	}
	m, ok := om.Kinds[kind]
	return m, ok
}

// Operators returns the operators with at least one table, sorted.
func (s *MappingSet) Operators() []model.Operator {
	out := make([]model.Operator, 0, len(s.ops))
	for op := range s.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Mapping) compile() error {
	if len(m.Fields) == 0 {
		return eris.New("no fields mapped")
	}
	if m.CellEncoding == "" {
		m.CellEncoding = CellNumeric
	}
	switch m.CellEncoding {
	case CellNumeric, CellHex, CellComposite:
	default:
		return eris.Errorf("unknown cell encoding %q", m.CellEncoding)
	}
	if m.CompositeSeparators == "" {
		m.CompositeSeparators = "-+_/: "
	}

	m.aliases = make(map[string]string)
	for field, aliases := range m.Fields {
		// The canonical name always matches itself.
		for _, a := range append([]string{field}, aliases...) {
			key := FoldHeader(a)
			if key == "" {
				continue
			}
			if prev, dup := m.aliases[key]; dup && prev != field {
				return eris.Errorf("column %q mapped to both %s and %s", a, prev, field)
			}
			m.aliases[key] = field
		}
	}

	m.directions = make(map[string]model.Direction)
	for dir, values := range m.Directions {
		for _, v := range values {
			m.directions[FoldHeader(v)] = dir
		}
	}
	return nil
}

// FieldFor returns the canonical field a source column maps to.
func (m *Mapping) FieldFor(column string) (string, bool) {
	f, ok := m.aliases[FoldHeader(column)]
	return f, ok
}

// HeaderScore counts the cells of a candidate header row that map to a field.
func (m *Mapping) HeaderScore(cells []string) int {
	seen := make(map[string]bool)
	for _, c := range cells {
		if f, ok := m.FieldFor(c); ok && !seen[f] {
			seen[f] = true
		}
	}
	return len(seen)
}

func (m *Mapping) direction(raw string) model.Direction {
	if d, ok := m.directions[FoldHeader(raw)]; ok {
		return d
	}
	return model.DirectionUnknown
}
