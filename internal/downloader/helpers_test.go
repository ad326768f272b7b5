package downloader

import (
	"archive/tar"
	"bytes"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

// testEntry describes one tar member.
type testEntry struct {
	name     string
	body     []byte
	typeflag byte
	linkname string
	mode     int64
}

// randomBytes returns deterministic incompressible data.
func randomBytes(seed uint64, n int) []byte {
	rng := rand.New(rand.NewPCG(seed, seed+1)) //nolint:gosec // Test data.
	data := make([]byte, n)

	for i := range data {
		data[i] = byte(rng.IntN(256))
	}

	return data
}

// buildTar writes entries into an uncompressed tar stream.
func buildTar(t *testing.T, entries []testEntry) []byte {
	t.Helper()

	var buf bytes.Buffer

	tw := tar.NewWriter(&buf)

	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}

		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}

		header := &tar.Header{
			Name:     e.name,
			Typeflag: typeflag,
			Linkname: e.linkname,
			Mode:     mode,
			Size:     int64(len(e.body)),
			ModTime:  time.Unix(1700000000, 0),
		}

		if typeflag != tar.TypeReg {
			header.Size = 0
		}

		require.NoError(t, tw.WriteHeader(header))

		if typeflag == tar.TypeReg {
			_, err := tw.Write(e.body)
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())

	return buf.Bytes()
}

// compress encodes data in the given archive format.
func compress(t *testing.T, data []byte, format Format) []byte {
	t.Helper()

	var (
		buf bytes.Buffer
		w   io.WriteCloser
		err error
	)

	switch format {
	case FormatTar, FormatRaw:
		return data
	case FormatTarGz:
		w = gzip.NewWriter(&buf)
	case FormatLZ4:
		w = lz4.NewWriter(&buf)
	case FormatZstd:
		w, err = zstd.NewWriter(&buf)
		require.NoError(t, err)
	default:
		t.Fatalf("unsupported test format %q", format)
	}

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// newRangeServer serves data with full Range support.
func newRangeServer(t *testing.T, name string, data []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	return srv
}

// newPlainServer ignores Range headers and always answers 200.
func newPlainServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	return srv
}

// newFlakyServer fails the first failures chunk requests with 503.
func newFlakyServer(t *testing.T, name string, data []byte, failures int64) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var failed atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		byteRange := r.Header.Get("Range")
		if byteRange != "" && byteRange != "bytes=0-0" && failed.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	return srv, &failed
}

// testOptions uses small chunks and fast retries.
func testOptions() Options {
	return Options{
		ChunkSize:       4096,
		Parallelism:     3,
		Timeout:         5 * time.Second,
		BreakerFailures: 10,
		Retry: RetryPolicy{
			MaxAttempts:     4,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

func artifactURL(srv *httptest.Server, name string) string {
	return srv.URL + "/" + strings.TrimPrefix(name, "/")
}
