package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures StreamCSV.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV sends every record of r, header included, with a variable
// number of fields per record. A malformed record ends the stream. Both channels are closed when reading stops.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	go func() {
		defer close(rowCh)
		defer close(errCh)
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read record")
				return
			}
			if opts.TrimSpace {
				for i := range record {
					record[i] = strings.TrimSpace(record[i])
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: read cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// sniffCandidates are the delimiters seen in operator exports, in order of
// preference on ties.
var sniffCandidates = []rune{',', ';', '\t', '|'}

// SniffDelimiter picks the delimiter that splits the first lines of data
// into the most consistent number of fields. Candidates are ASCII, so raw
// bytes can be sniffed before charset decoding.
func SniffDelimiter(data []byte) rune {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() && len(lines) < 20 {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return sniffLines(lines)
}

func sniffLines(lines []string) rune {
	best, bestScore := ',', 0
	for _, d := range sniffCandidates {
		counts := make(map[int]int)
		for _, line := range lines {
			if n := strings.Count(line, string(d)); n > 0 {
				counts[n]++
			}
		}
		// Score: lines agreeing on the most common non-zero field count.
		score := 0
		for _, c := range counts {
			if c > score {
				score = c
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}
