package normalize

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// decodedCell is a cell identifier in canonical form plus the sector part of
// composite encodings.
type decodedCell struct {
	ID     string
	Sector string
}

// decodeCell converts an operator cell value into its canonical identifier.
// Placeholders decode to an absent cell (ok=false, err=nil). A present value
// that decodes to nothing is an error.
func decodeCell(raw string, m *Mapping) (decodedCell, bool, error) {
	if isPlaceholder(raw) {
		return decodedCell{}, false, nil
	}
	s := strings.TrimSpace(raw)

	switch m.CellEncoding {
	case CellHex:
		h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		v, err := strconv.ParseUint(h, 16, 64)
		if err != nil {
			return decodedCell{}, true, eris.Errorf("invalid hex cell %q", raw)
		}
		return decodedCell{ID: strconv.FormatUint(v, 10)}, true, nil

	case CellComposite:
		parts := strings.FieldsFunc(s, func(r rune) bool {
			return strings.ContainsRune(m.CompositeSeparators, r)
		})
		if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" || !strings.HasPrefix(s, parts[0]) {
			return decodedCell{}, true, eris.Errorf("composite cell %q has no cell part", raw)
		}
		id := numericID(parts[0])
		if id == "" {
			return decodedCell{}, true, eris.Errorf("composite cell %q has no cell part", raw)
		}
		cell := decodedCell{ID: id}
		if len(parts) > 1 {
			cell.Sector = numericID(parts[1])
		}
		return cell, true, nil

	default:
		id := numericID(s)
		if id == "" {
			return decodedCell{}, true, eris.Errorf("cell %q is empty after trimming", raw)
		}
		return cell(id), true, nil
	}
}

func cell(id string) decodedCell { return decodedCell{ID: id} }

// numericID normalizes decimal identifiers so "00123", "123" and the
// spreadsheet rendering "123.0" compare equal. Non-numeric identifiers are
// kept verbatim, upper-cased.
func numericID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	if s == "" {
		return ""
	}
	if isAllDigits(s, 1) {
		t := strings.TrimLeft(s, "0")
		if t == "" {
			return ""
		}
		return t
	}
	// Letter-prefixed composites such as "CI12345".
	trimmed := strings.TrimLeft(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")
	if trimmed != s && isAllDigits(trimmed, 1) {
		return numericID(trimmed)
	}
	return strings.ToUpper(s)
}
