// Package normalize maps operator-specific source rows onto the canonical
// call, session and scan records.
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/phone"
)

const minYear = 2000

// Record is a normalized row. Exactly one of Call, Session and Scan is set,
// matching Kind.
type Record struct {
	Kind    model.RecordKind
	Call    *model.CallRecord
	Session *model.SessionRecord
	Scan    *model.ScanRecord

	// HasSequence reports that a scan row carried its own sequence value,
	// which may legitimately be 0.
	HasSequence bool
}

// Operator returns the operator the record was normalized for.
func (r Record) Operator() model.Operator {
	switch {
	case r.Call != nil:
		return r.Call.Operator
	case r.Session != nil:
		return r.Session.Operator
	case r.Scan != nil:
		return model.OperatorHunter
	}
	return ""
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLocation sets the zone wall-clock timestamps are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.loc = loc
		}
	}
}

// WithClock overrides the clock used for the timestamp year ceiling.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// Normalizer converts raw rows using per-operator mapping tables. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	mappings *MappingSet
	loc      *time.Location
	now      func() time.Time
}

// New creates a Normalizer over the given mapping tables.
func New(mappings *MappingSet, opts ...Option) *Normalizer {
	n := &Normalizer{mappings: mappings, loc: time.UTC, now: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Mapping returns the table used for op and kind.
func (n *Normalizer) Mapping(op model.Operator, kind model.RecordKind) (*Mapping, bool) {
	return n.mappings.Lookup(op, kind)
}

// Normalize maps row onto the canonical record for kind. Every violated rule
// is reported; the record is only meaningful when no errors are returned.
func (n *Normalizer) Normalize(op model.Operator, row map[string]any, kind model.RecordKind) (Record, []ValidationError) {
	m, ok := n.mappings.Lookup(op, kind)
	if !ok {
		return Record{Kind: kind}, []ValidationError{{
			Rule:    RuleUnknownMapping,
			Message: "no mapping table for operator " + string(op) + " and kind " + string(kind),
		}}
	}

	fields, payload := n.project(m, row)
	var errs violations

	switch kind {
	case model.KindCalls:
		rec := n.call(op, m, fields, &errs)
		rec.Payload = payload
		mergeSectors(rec.Payload, fields.sectors)
		return Record{Kind: kind, Call: rec}, errs
	case model.KindSessions:
		rec := n.session(op, m, fields, &errs)
		rec.Payload = payload
		mergeSectors(rec.Payload, fields.sectors)
		return Record{Kind: kind, Session: rec}, errs
	default:
		rec := n.scan(m, fields, &errs)
		rec.Payload = payload
		mergeSectors(rec.Payload, fields.sectors)
		return Record{Kind: kind, Scan: rec, HasSequence: fields.get(FieldSequence) != ""}, errs
	}
}

// projected holds the string values of mapped fields. A field is present when
// its column exists in the row, even if the value is blank.
type projected struct {
	values  map[string]string
	present map[string]bool
	sectors map[string]string
}

func (p projected) get(field string) string { return p.values[field] }

// project resolves source columns to canonical fields. Columns are visited in
// sorted order so the first non-empty alias wins deterministically; unmapped
// non-empty columns are kept as payload.
func (n *Normalizer) project(m *Mapping, row map[string]any) (projected, map[string]string) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := projected{
		values:  make(map[string]string),
		present: make(map[string]bool),
		sectors: make(map[string]string),
	}
	payload := make(map[string]string)
	for _, k := range keys {
		v := stringValue(row[k])
		field, ok := m.FieldFor(k)
		if !ok {
			if v != "" {
				if folded := FoldHeader(k); folded != "" {
					payload[folded] = v
				}
			}
			continue
		}
		p.present[field] = true
		if p.values[field] == "" {
			p.values[field] = v
		}
	}
	return p, payload
}

func mergeSectors(payload, sectors map[string]string) {
	for field, sector := range sectors {
		if sector != "" {
			payload[field+"_sector"] = sector
		}
	}
}

func (n *Normalizer) call(op model.Operator, m *Mapping, f projected, errs *violations) *model.CallRecord {
	rec := &model.CallRecord{Operator: op, Direction: model.DirectionUnknown}

	canonical := 0
	for _, nf := range []struct {
		field string
		dst   *string
	}{
		{FieldOriginatingNumber, &rec.OriginatingNumber},
		{FieldTerminatingNumber, &rec.TerminatingNumber},
		{FieldTargetNumber, &rec.TargetNumber},
	} {
		num, ok := phone.Normalize(f.get(nf.field))
		*nf.dst = num
		if ok {
			canonical++
		}
	}
	if canonical == 0 {
		errs.add(RuleMissingNumber, FieldOriginatingNumber, "no number field canonicalizes to a 10-digit mobile number")
	}

	rec.StartedAt = n.start(m, f, errs)

	// "0" is a zero-length call; other placeholders mean no duration.
	if v := f.get(FieldDuration); f.present[FieldDuration] && (v == "0" || !isPlaceholder(v)) {
		d, err := parseDuration(v)
		if err != nil {
			errs.add(RuleInvalidDuration, FieldDuration, "%v", err)
		} else {
			rec.DurationSecs = &d
		}
	}

	rec.OriginCell = n.cell(m, f, FieldOriginCell, errs)
	rec.DestinationCell = n.cell(m, f, FieldDestinationCell, errs)
	rec.TargetCell = n.cell(m, f, FieldTargetCell, errs)

	if raw := f.get(FieldDirection); raw != "" {
		rec.Direction = m.direction(raw)
	}
	rec.Technology = technology(f.get(FieldTechnology))
	return rec
}

func (n *Normalizer) session(op model.Operator, m *Mapping, f projected, errs *violations) *model.SessionRecord {
	rec := &model.SessionRecord{Operator: op}

	raw := f.get(FieldSubscriberNumber)
	num, ok := phone.Normalize(raw)
	rec.SubscriberNumber = num
	switch {
	case !ok && phone.Digits(raw) == "":
		errs.add(RuleMissingNumber, FieldSubscriberNumber, "subscriber number is empty")
	case !ok:
		errs.add(RuleInvalidNumber, FieldSubscriberNumber, "%q is not a 10-digit mobile number", raw)
	}

	rec.StartedAt = n.start(m, f, errs)

	if v := f.get(FieldEnd); v != "" {
		end, err := parseTimestamp(v, m.TimestampLayouts, n.loc)
		switch {
		case err != nil:
			errs.add(RuleInvalidTimestamp, FieldEnd, "%v", err)
		case !rec.StartedAt.IsZero() && end.Before(rec.StartedAt):
			errs.add(RuleEndBeforeStart, FieldEnd, "session ends at %s before it starts at %s",
				end.Format(time.RFC3339), rec.StartedAt.Format(time.RFC3339))
		default:
			end = end.UTC()
			rec.EndedAt = &end
		}
	}

	rec.CellID = n.cell(m, f, FieldCell, errs)
	if rec.CellID == "" && !hasRule(*errs, RuleEmptyCell) {
		errs.add(RuleMissingCell, FieldCell, "session has no cell identifier")
	}
	rec.LAC = numericID(f.get(FieldLAC))

	rec.UplinkBytes = n.bytes(f, FieldUplinkBytes, errs)
	rec.DownlinkBytes = n.bytes(f, FieldDownlinkBytes, errs)
	rec.Technology = technology(f.get(FieldTechnology))
	return rec
}

func (n *Normalizer) scan(m *Mapping, f projected, errs *violations) *model.ScanRecord {
	rec := &model.ScanRecord{
		PointLabel: f.get(FieldPointLabel),
		Technology: technology(f.get(FieldTechnology)),
		LAC:        numericID(f.get(FieldLAC)),
	}

	if v := f.get(FieldSequence); v != "" {
		seq, err := parseNonNegativeInt(v)
		if err != nil {
			errs.add(RuleInvalidSequence, FieldSequence, "%v", err)
		} else {
			rec.FileOriginSequence = seq
		}
	}

	if v := f.get(FieldObservedOperator); v != "" {
		if op, err := model.ParseOperator(v); err == nil {
			rec.ObservedOperator = string(op)
		} else {
			rec.ObservedOperator = strings.ToLower(v)
		}
	}

	rec.Latitude = n.coordinate(f, FieldLatitude, 90, errs)
	rec.Longitude = n.coordinate(f, FieldLongitude, 180, errs)
	if (rec.Latitude == nil) != (rec.Longitude == nil) && !hasRule(*errs, RuleInvalidCoordinates) {
		errs.add(RuleInvalidCoordinates, FieldLatitude, "latitude and longitude must both be present")
	}

	if v := f.get(FieldSignal); v != "" {
		s, err := parseDecimal(v)
		if err != nil {
			errs.add(RuleInvalidSignal, FieldSignal, "%v", err)
		} else {
			rec.SignalDBm = &s
		}
	}

	rec.CellID = n.cell(m, f, FieldCell, errs)
	if rec.CellID == "" && !hasRule(*errs, RuleEmptyCell) {
		errs.add(RuleMissingCell, FieldCell, "scan row has no cell identifier")
	}

	rec.ObservedAt = n.start(m, f, errs)
	return rec
}

// start resolves the event start from a combined timestamp column or from
// separate date and time columns, and checks it against the year window.
func (n *Normalizer) start(m *Mapping, f projected, errs *violations) time.Time {
	raw := f.get(FieldStart)
	if raw == "" && f.get(FieldStartDate) != "" {
		raw = joinDateTime(f.get(FieldStartDate), f.get(FieldStartTime))
	}
	if raw == "" {
		errs.add(RuleInvalidTimestamp, FieldStart, "start timestamp is missing")
		return time.Time{}
	}

	t, err := parseTimestamp(raw, m.TimestampLayouts, n.loc)
	if err != nil {
		errs.add(RuleInvalidTimestamp, FieldStart, "%v", err)
		return time.Time{}
	}

	maxYear := n.now().In(n.loc).Year() + 1
	if y := t.Year(); y < minYear || y > maxYear {
		errs.add(RuleTimestampOutOfRange, FieldStart, "year %d outside %d..%d", y, minYear, maxYear)
		return time.Time{}
	}
	return t.UTC()
}

// joinDateTime combines split date and time columns. Spreadsheet exports
// carry the date as a serial day number and sometimes the time as a
// fraction of a day.
func joinDateTime(date, clock string) string {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return date
	}
	if wall, ok := fromSerial(date); ok {
		date = wall.Format("2006-01-02")
	}
	if f, err := strconv.ParseFloat(clock, 64); err == nil && f >= 0 && f < 1 {
		secs := int(f*86400 + 0.5)
		clock = time.Date(0, 1, 1, 0, 0, secs, 0, time.UTC).Format("15:04:05")
	}
	// A date column already carrying a midnight time is replaced by the clock.
	if i := strings.IndexByte(date, ' '); i > 0 {
		date = date[:i]
	}
	return date + " " + clock
}

func (n *Normalizer) cell(m *Mapping, f projected, field string, errs *violations) string {
	if !f.present[field] {
		return ""
	}
	c, present, err := decodeCell(f.get(field), m)
	if err != nil {
		errs.add(RuleEmptyCell, field, "%v", err)
		return ""
	}
	if !present {
		return ""
	}
	if c.Sector != "" {
		f.sectors[field] = c.Sector
	}
	return c.ID
}

func (n *Normalizer) bytes(f projected, field string, errs *violations) int64 {
	v := f.get(field)
	if isPlaceholder(v) {
		return 0
	}
	b, err := parseNonNegativeInt(v)
	if err != nil {
		errs.add(RuleInvalidBytes, field, "%v", err)
		return 0
	}
	return b
}

func (n *Normalizer) coordinate(f projected, field string, limit float64, errs *violations) *float64 {
	v := f.get(field)
	if v == "" {
		return nil
	}
	c, err := parseDecimal(v)
	if err != nil || c < -limit || c > limit {
		errs.add(RuleInvalidCoordinates, field, "%q is not a valid %s", v, field)
		return nil
	}
	return &c
}

func hasRule(errs []ValidationError, rule Rule) bool {
	for _, e := range errs {
		if e.Rule == rule {
			return true
		}
	}
	return false
}
