package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format is the container format of a source file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatZIP  Format = "zip"
)

var zipMagic = []byte("PK\x03\x04")

// Source is a whole file held in memory. Operator exports are bounded in
// size and the bytes are also needed for the batch checksum.
type Source struct {
	Name string
	Data []byte
}

// NewSource wraps data read from a file called name.
func NewSource(name string, data []byte) *Source {
	return &Source{Name: name, Data: data}
}

// Checksum returns the hex sha256 of the file contents.
func (s *Source) Checksum() string {
	sum := sha256.Sum256(s.Data)
	return hex.EncodeToString(sum[:])
}

// Format detects the container format from content, falling back to the
// file extension.
func (s *Source) Format() Format {
	if bytes.HasPrefix(s.Data, zipMagic) {
		if isWorkbook(s.Data) {
			return FormatXLSX
		}
		return FormatZIP
	}
	switch strings.ToLower(filepath.Ext(s.Name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".zip":
		return FormatZIP
	}
	return FormatCSV
}

// Rows streams the raw rows of the source, header rows included. ZIP
// archives are expanded to their single data member first.
func (s *Source) Rows(ctx context.Context) (<-chan []string, <-chan error) {
	switch s.Format() {
	case FormatXLSX:
		return StreamXLSX(ctx, s.Data, XLSXOptions{})
	case FormatZIP:
		inner, err := ExtractSource(s)
		if err != nil {
			return failed(err)
		}
		return inner.Rows(ctx)
	default:
		return StreamCSV(ctx, DecodeText(s.Data), CSVOptions{
			Delimiter:  SniffDelimiter(s.Data),
			LazyQuotes: true,
			TrimSpace:  true,
		})
	}
}

// DecodeText returns a UTF-8 reader over data. A byte-order mark selects
// UTF-8 or UTF-16; other non-UTF-8 input is read as Windows-1252, the usual
// encoding of spreadsheet-exported CSV files.
func DecodeText(data []byte) io.Reader {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return bytes.NewReader(data[3:])
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		return transform.NewReader(bytes.NewReader(data), dec)
	case utf8.Valid(data):
		return bytes.NewReader(data)
	default:
		return transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder())
	}
}

// failed returns closed channels carrying err.
func failed(err error) (<-chan []string, <-chan error) {
	rowCh := make(chan []string)
	errCh := make(chan error, 1)
	errCh <- err
	close(rowCh)
	close(errCh)
	return rowCh, errCh
}
