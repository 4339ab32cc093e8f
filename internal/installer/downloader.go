package installer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

// chunkSize is the buffer used when streaming the archive to disk.
const chunkSize = 8192

// Downloader fetches a URL into a local file.
type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}

// HTTPDownloader downloads archives over HTTP. Requests are not retried.
type HTTPDownloader struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDownloader creates a downloader. timeout bounds connecting and
// waiting for response headers; the body stream itself is not time-limited.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	return &HTTPDownloader{
		client:    &http.Client{Transport: transport},
		userAgent: "updater",
	}
}

// Download streams url into dst in fixed-size chunks. A partial file is
// removed on failure.
func (d *HTTPDownloader) Download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.CopyBuffer(out, resp.Body, make([]byte, chunkSize)); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
