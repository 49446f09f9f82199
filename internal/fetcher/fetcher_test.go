package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/symindex/internal/metrics"
	"github.com/dshills/symindex/internal/testutil"
	"github.com/dshills/symindex/pkg/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.StallTimeout = 0
	cfg.Retry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	return cfg
}

func sha(data string) types.Checksum {
	sum := sha256.Sum256([]byte(data))
	return types.Checksum{Type: "sha256", Digest: hex.EncodeToString(sum[:])}
}

func readBody(dst *string) func(io.Reader) error {
	return func(r io.Reader) error {
		data, err := io.ReadAll(r)
		*dst = string(data)
		return err
	}
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "package bytes")
	}))
	defer srv.Close()

	m := metrics.New()
	f := New(testConfig(), testutil.NewTestLogger(t), m)

	var got string
	err := f.Fetch(context.Background(), srv.URL+"/p.rpm", sha("package bytes"), readBody(&got))
	require.NoError(t, err)
	assert.Equal(t, "package bytes", got)
	assert.Equal(t, int64(len("package bytes")), m.BytesFetched.Load())
}

func TestFetch_ChecksumMismatchIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "tampered")
	}))
	defer srv.Close()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)
	err := f.Fetch(context.Background(), srv.URL, sha("original"), func(r io.Reader) error { return nil })

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFetch)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.False(t, types.IsTransient(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_DrainsBeforeVerifying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "header and trailing data")
	}))
	defer srv.Close()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)
	err := f.Fetch(context.Background(), srv.URL, sha("header and trailing data"), func(r io.Reader) error {
		buf := make([]byte, 6)
		_, err := io.ReadFull(r, buf)
		return err
	})
	assert.NoError(t, err)
}

func TestFetch_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)
	err := f.Fetch(context.Background(), srv.URL, types.Checksum{}, func(r io.Reader) error { return nil })

	var fe *types.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.False(t, fe.Transient)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	m := metrics.New()
	f := New(testConfig(), testutil.NewTestLogger(t), m)

	var got string
	require.NoError(t, f.Fetch(context.Background(), srv.URL, sha("ok"), readBody(&got)))
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int64(2), m.FetchRetries.Load())
}

func TestFetch_GivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)
	err := f.Fetch(context.Background(), srv.URL, types.Checksum{}, func(r io.Reader) error { return nil })

	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_RetriesTruncatedBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Content-Length", "100")
			_, _ = io.WriteString(w, "short")
			return
		}
		_, _ = io.WriteString(w, "complete")
	}))
	defer srv.Close()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)

	calls := 0
	var got string
	err := f.Fetch(context.Background(), srv.URL, types.Checksum{}, func(r io.Reader) error {
		calls++
		return readBody(&got)(r)
	})
	require.NoError(t, err)
	assert.Equal(t, "complete", got)
	assert.Equal(t, 2, calls)
}

func TestFetch_ConsumerErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "data")
	}))
	defer srv.Close()

	corrupt := &types.ArchiveCorruptError{Offset: 3, Err: errors.New("bad magic")}
	f := New(testConfig(), testutil.NewTestLogger(t), nil)
	err := f.Fetch(context.Background(), srv.URL, types.Checksum{}, func(r io.Reader) error { return corrupt })

	assert.Same(t, corrupt, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_StallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		_, _ = io.WriteString(w, "12")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.StallTimeout = 50 * time.Millisecond
	cfg.Retry.MaxRetries = 1
	f := New(cfg, testutil.NewTestLogger(t), nil)

	start := time.Now()
	err := f.Fetch(context.Background(), srv.URL, types.Checksum{}, func(r io.Reader) error {
		_, err := io.ReadAll(r)
		return err
	})
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.ErrorIs(t, err, errStalled)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestFetch_BoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		_, _ = io.WriteString(w, "x")
	}))
	defer srv.Close()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.Fetch(context.Background(), srv.URL, types.Checksum{}, func(r io.Reader) error {
				_, err := io.ReadAll(r)
				return err
			}))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetch_BandwidthLimitedStillComplete(t *testing.T) {
	payload := make([]byte, 100*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BandwidthLimit = 1 << 20
	f := New(cfg, testutil.NewTestLogger(t), nil)

	var got string
	require.NoError(t, f.Fetch(context.Background(), srv.URL, types.Checksum{}, readBody(&got)))
	assert.Equal(t, len(payload), len(got))
}

func TestFetch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)
	err := f.Fetch(ctx, srv.URL, types.Checksum{}, func(r io.Reader) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer srv.Close()

	f := New(testConfig(), testutil.NewTestLogger(t), nil)

	data, err := f.Get(context.Background(), srv.URL, 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = f.Get(context.Background(), srv.URL, 5)
	assert.Error(t, err)
}

func TestNewHash(t *testing.T) {
	for _, typ := range []string{"", "sha256", "SHA1", "sha", "sha224", "sha384", "sha512", "md5"} {
		_, err := NewHash(typ)
		assert.NoError(t, err, typ)
	}
	_, err := NewHash("crc32")
	assert.Error(t, err)
}
