// Package fetcher downloads bulk archives over HTTP and FTP and parses the
// CSV, XLSX, and ZIP payloads they contain.
package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// MultiFetcher routes downloads by URL scheme: http/https to the HTTP
// fetcher, ftp to the FTP fetcher.
type MultiFetcher struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewMultiFetcher creates a scheme-dispatching fetcher.
func NewMultiFetcher(httpF *HTTPFetcher, ftpF *FTPFetcher) *MultiFetcher {
	return &MultiFetcher{http: httpF, ftp: ftpF}
}

func (m *MultiFetcher) pick(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return m.http, nil
	case "ftp":
		return m.ftp, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

func (m *MultiFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := m.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

func (m *MultiFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := m.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}
