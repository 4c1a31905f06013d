// Package media fetches submitted files and shapes them into the 16 kHz
// mono WAV the speech-to-text providers want. Downloads are hashed while
// streaming to disk so the content cache key is ready the moment the file
// is; conversion shells out to ffmpeg, with a native Opus decode path for
// plain voice notes that skips the external binary.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// DefaultMaxFileSize bounds what the bot will download (2 GiB).
const DefaultMaxFileSize = 2 << 30

// Download is a fetched file with its content identity.
type Download struct {
	Path string
	Hash string
	Size int64
}

// Downloader fetches media over HTTP with retries.
type Downloader struct {
	client  *http.Client
	maxSize int64
	backoff func() backoff.BackOff
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) { d.client = c }
}

// WithMaxSize overrides the download size cap.
func WithMaxSize(n int64) DownloaderOption {
	return func(d *Downloader) { d.maxSize = n }
}

// WithBackoff overrides the retry policy factory. Tests use this to retry
// immediately or not at all.
func WithBackoff(fn func() backoff.BackOff) DownloaderOption {
	return func(d *Downloader) { d.backoff = fn }
}

// NewDownloader creates a Downloader with a 10-minute per-attempt timeout
// and three exponential retries.
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client:  &http.Client{Timeout: 10 * time.Minute},
		maxSize: DefaultMaxFileSize,
		backoff: newSimpleBackoff,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func newSimpleBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
}

// Fetch downloads url into destDir, computing the SHA-256 of the bytes as
// they stream to disk. Transient failures (network errors, 5xx) are retried;
// 4xx responses and oversized files are permanent.
func (d *Downloader) Fetch(ctx context.Context, url, destDir string) (*Download, error) {
	var result *Download
	op := func() error {
		dl, err := d.fetchOnce(ctx, url, destDir)
		if err != nil {
			return err
		}
		result = dl
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(d.backoff(), ctx)); err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return result, nil
}

func (d *Downloader) fetchOnce(ctx context.Context, url, destDir string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	if resp.ContentLength > d.maxSize {
		return nil, backoff.Permanent(fmt.Errorf("file too large: %d bytes", resp.ContentLength))
	}

	path := filepath.Join(destDir, uuid.NewString())
	f, err := os.Create(path)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(resp.Body, d.maxSize+1))
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(path)
		if err == nil {
			err = closeErr
		}
		return nil, err
	}
	if n > d.maxSize {
		os.Remove(path)
		return nil, backoff.Permanent(fmt.Errorf("file too large: exceeds %d bytes", d.maxSize))
	}

	return &Download{
		Path: path,
		Hash: hex.EncodeToString(h.Sum(nil)),
		Size: n,
	}, nil
}
