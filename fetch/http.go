// Package fetch downloads source media into a task's work directory.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// HTTP downloads media with a plain GET. It is the fallback when yt-dlp is
// not installed and handles direct links to media files.
type HTTP struct {
	client  *http.Client
	maxSize int64
}

func NewHTTP(maxSize int64) *HTTP {
	return &HTTP{
		client:  &http.Client{},
		maxSize: maxSize,
	}
}

// Fetch streams rawURL into a new file under dir, enforcing the size limit.
func (h *HTTP) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	tmpFile, err := os.CreateTemp(dir, "media_*")
	if err != nil {
		return "", err
	}
	path := tmpFile.Name()
	fail := func(err error) (string, error) {
		tmpFile.Close()
		os.Remove(path)
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("failed to download file, status: %s", resp.Status))
	}
	if resp.ContentLength > h.maxSize {
		return fail(fmt.Errorf("media size %d exceeds limit of %d bytes", resp.ContentLength, h.maxSize))
	}

	// Use a LimitedReader to enforce max size when the length is not announced
	limitedReader := &io.LimitedReader{R: resp.Body, N: h.maxSize + 1}
	written, err := io.Copy(tmpFile, limitedReader)
	if err != nil {
		return fail(fmt.Errorf("failed to write downloaded file: %w", err))
	}
	if written > h.maxSize {
		return fail(fmt.Errorf("media size exceeds limit of %d bytes", h.maxSize))
	}
	if written == 0 {
		return fail(fmt.Errorf("downloaded file is empty"))
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
