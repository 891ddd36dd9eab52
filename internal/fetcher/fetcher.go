// Package fetcher downloads crime data over HTTP and streams it out of CSV,
// JSON and ZIP sources.
package fetcher

import (
	"context"
	"io"
	"net/http"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Get performs a rate-limited GET with retries and returns the raw
	// response. The caller closes the body.
	Get(ctx context.Context, url string) (*http.Response, error)

	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
