package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorkit/vimeograb/internal/renderer"
)

func testClient() *HTTPClient {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHTTPClient(log)
}

func TestDownload(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100*1024)
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	var last int64
	err := testClient().Download(context.Background(), srv.URL, dest, "test-agent",
		[]renderer.Cookie{{Name: "vuid", Value: "abc"}}, 5*time.Second,
		func(total int64) { last = total })
	require.NoError(t, err)

	st, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), st.Size())
	assert.Equal(t, int64(len(payload)), last)

	h := <-headers
	assert.Equal(t, "test-agent", h.Get("User-Agent"))
	assert.Contains(t, h.Get("Cookie"), "vuid=abc")
}

func TestDownloadStalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Keep the connection open without sending anything further until
		// the client gives up.
		<-r.Context().Done()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	err := testClient().Download(context.Background(), srv.URL, dest, "", nil,
		200*time.Millisecond, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStalled)
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, srv.URL, terr.URL)
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	err := testClient().Download(context.Background(), srv.URL, dest, "", nil, time.Second, nil)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.False(t, errors.Is(err, ErrStalled))
}

func TestDownloadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	err := testClient().Download(ctx, srv.URL, dest, "", nil, time.Second, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContentLength(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1234)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	size, err := testClient().ContentLength(srv.URL, "test-agent", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
}

func TestContentLengthHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient().ContentLength(srv.URL, "", nil)
	assert.Error(t, err)
}
