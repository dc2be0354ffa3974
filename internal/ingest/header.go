package ingest

import (
	"strconv"
	"strings"

	"github.com/sells-group/hunter-cli/internal/normalize"
)

// header names the columns of a source. Repeated names get a numeric suffix
// so no column is silently dropped.
type header struct {
	columns []string
}

func newHeader(cells []string) header {
	seen := make(map[string]int, len(cells))
	cols := make([]string, len(cells))
	for i, c := range cells {
		name := strings.TrimSpace(c)
		if name == "" {
			continue
		}
		key := normalize.FoldHeader(name)
		seen[key]++
		if n := seen[key]; n > 1 {
			name += "_" + strconv.Itoa(n)
		}
		cols[i] = name
	}
	return header{columns: cols}
}

// isHeader reports whether cells look like the header row of m's layout.
func isHeader(m *normalize.Mapping, cells []string) bool {
	return m.HeaderScore(cells) >= minHeaderMatches
}

// record keys a data row by column name. Missing trailing cells read as
// empty; cells beyond the header are ignored.
func (h header) record(cells []string) map[string]any {
	out := make(map[string]any, len(h.columns))
	for i, col := range h.columns {
		if col == "" {
			continue
		}
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		out[col] = v
	}
	return out
}

// blank reports whether every cell is empty.
func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
