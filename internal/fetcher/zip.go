package fetcher

import (
	"archive/zip"
	"bytes"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// dataExtensions are the archive members that can hold records.
var dataExtensions = map[string]bool{
	".csv":  true,
	".txt":  true,
	".tsv":  true,
	".xlsx": true,
}

// ExtractSource returns the single data file inside a ZIP archive. Archives
// with several data files are rejected so no file is silently skipped; use
// ExtractSources to ingest them one by one.
func ExtractSource(src *Source) (*Source, error) {
	files, err := dataMembers(src)
	if err != nil {
		return nil, err
	}
	if len(files) != 1 {
		return nil, eris.Errorf("zip: expected exactly 1 data file in %s, got %d", src.Name, len(files))
	}
	return extractZIPEntry(files[0])
}

// ExtractSources returns every data file inside a ZIP archive.
func ExtractSources(src *Source) ([]*Source, error) {
	files, err := dataMembers(src)
	if err != nil {
		return nil, err
	}

	out := make([]*Source, 0, len(files))
	for _, f := range files {
		s, err := extractZIPEntry(f)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func dataMembers(src *Source) ([]*zip.File, error) {
	r, err := zip.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var files []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		if dataExtensions[strings.ToLower(path.Ext(f.Name))] {
			files = append(files, f)
		}
	}
	return files, nil
}

func extractZIPEntry(f *zip.File) (*Source, error) {
	if f.UncompressedSize64 > MaxSourceBytes {
		return nil, eris.Errorf("zip: entry %q exceeds %d bytes", f.Name, MaxSourceBytes)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	data, err := readLimited(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read entry %q", f.Name)
	}
	return NewSource(path.Base(f.Name), data), nil
}
