// Package fetcher reads operator and scan files into rows: local paths, FTP
// and HTTP locations, CSV, XLSX and ZIP containers.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// MaxSourceBytes bounds how much of one file is read into memory.
const MaxSourceBytes = 512 << 20

// Fetcher downloads remote files. The caller closes the returned body.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Opener resolves a file location to a Source. Locations are local paths or
// ftp://, http:// and https:// URLs.
type Opener struct {
	FTP  Fetcher
	HTTP Fetcher
}

// NewOpener returns an Opener with default FTP and HTTP fetchers.
func NewOpener(ftpOpts FTPOptions, httpOpts HTTPOptions) *Opener {
	return &Opener{FTP: NewFTPFetcher(ftpOpts), HTTP: NewHTTPFetcher(httpOpts)}
}

// Open reads the file at location into memory.
func (o *Opener) Open(ctx context.Context, location string) (*Source, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return OpenFile(location)
	}

	var f Fetcher
	switch u.Scheme {
	case "ftp":
		f = o.FTP
	case "http", "https":
		f = o.HTTP
	case "file":
		return OpenFile(u.Path)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: no fetcher configured for %s", u.Scheme)
	}

	body, err := f.Download(ctx, location)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", redact(u))
	}
	defer body.Close() //nolint:errcheck

	data, err := readLimited(body)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", redact(u))
	}
	return NewSource(path.Base(u.Path), data), nil
}

// OpenFile reads a local file into a Source named after its base name.
func OpenFile(p string) (*Source, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open file")
	}
	defer f.Close() //nolint:errcheck

	data, err := readLimited(f)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", p)
	}
	return NewSource(filepath.Base(p), data), nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSourceBytes {
		return nil, eris.Errorf("file exceeds %d bytes", MaxSourceBytes)
	}
	return data, nil
}

// redact drops credentials from u for logs and errors.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	return c.String()
}
