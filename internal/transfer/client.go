// Package transfer is the bulk-transfer capability the download engine
// consumes: a best-effort size probe and a streaming download with stall
// detection.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/mirrorkit/vimeograb/internal/renderer"
	"github.com/sirupsen/logrus"
)

// ErrStalled marks a transfer that stayed open but stopped delivering
// bytes for longer than the configured timeout.
var ErrStalled = errors.New("transfer stalled")

// TransferError wraps any network fault, timeout, or stall during a
// download.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed for %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Client is consumed by the download engine.
type Client interface {
	// ContentLength probes the remote size of url. Failures are reported
	// but never fatal to the caller.
	ContentLength(url, userAgent string, cookies []renderer.Cookie) (int64, error)

	// Download streams url to dest. It fails with a *TransferError on
	// network fault or when no bytes arrive within stallTimeout of the
	// last progress. onProgress receives the running byte total.
	Download(ctx context.Context, url, dest, userAgent string, cookies []renderer.Cookie,
		stallTimeout time.Duration, onProgress func(total int64)) error
}

// HTTPClient implements Client with net/http.
type HTTPClient struct {
	http *http.Client
	log  *logrus.Logger
}

func NewHTTPClient(log *logrus.Logger) *HTTPClient {
	return &HTTPClient{
		// No global timeout: long downloads are legitimate, the stall
		// watchdog handles dead connections.
		http: &http.Client{},
		log:  log,
	}
}

func (c *HTTPClient) ContentLength(url, userAgent string, cookies []renderer.Cookie) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	applyHeaders(req, userAgent, cookies)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("no content length for %s", url)
	}
	return resp.ContentLength, nil
}

func (c *HTTPClient) Download(ctx context.Context, url, dest, userAgent string, cookies []renderer.Cookie,
	stallTimeout time.Duration, onProgress func(total int64)) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &TransferError{URL: url, Err: err}
	}
	applyHeaders(req, userAgent, cookies)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransferError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &TransferError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	f, err := os.Create(dest)
	if err != nil {
		return &TransferError{URL: url, Err: err}
	}

	var lastProgress atomic.Int64
	var stalled atomic.Bool
	lastProgress.Store(time.Now().UnixNano())

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		interval := stallTimeout / 4
		if interval < 50*time.Millisecond {
			interval = 50 * time.Millisecond
		}
		if interval > time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-ticker.C:
				last := time.Unix(0, lastProgress.Load())
				if time.Since(last) > stallTimeout {
					stalled.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	w := &progressWriter{
		dst:          f,
		lastProgress: &lastProgress,
		onProgress:   onProgress,
	}
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()

	if copyErr != nil {
		if stalled.Load() {
			return &TransferError{URL: url, Err: ErrStalled}
		}
		return &TransferError{URL: url, Err: copyErr}
	}
	if closeErr != nil {
		return &TransferError{URL: url, Err: closeErr}
	}
	return nil
}

func applyHeaders(req *http.Request, userAgent string, cookies []renderer.Cookie) {
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for _, ck := range cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
}

// progressWriter forwards bytes to dst while feeding the stall watchdog
// and the caller's progress callback.
type progressWriter struct {
	dst          io.Writer
	total        int64
	lastProgress *atomic.Int64
	onProgress   func(total int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		w.total += int64(n)
		w.lastProgress.Store(time.Now().UnixNano())
		if w.onProgress != nil {
			w.onProgress(w.total)
		}
	}
	return n, err
}
