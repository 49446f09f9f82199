package fetcher

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dshills/symindex/internal/metrics"
	"github.com/dshills/symindex/pkg/types"
)

// ErrChecksumMismatch is wrapped by the FetchError returned on a digest mismatch
var ErrChecksumMismatch = errors.New("checksum mismatch")

// errStalled is the cause recorded when no bytes arrived within StallTimeout
var errStalled = errors.New("download stalled")

// Config configures a Fetcher
type Config struct {
	Workers               int           `yaml:"workers"`                 // Concurrent downloads
	BandwidthLimit        int64         `yaml:"bandwidth_limit"`         // Bytes per second across all downloads, 0 for unlimited
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"` // Wait for the status line and headers
	StallTimeout          time.Duration `yaml:"stall_timeout"`           // Abort when the body makes no progress this long
	MetadataTimeout       time.Duration `yaml:"metadata_timeout"`        // Bound on one repository metadata download
	Retry                 RetryConfig   `yaml:"retry"`
	UserAgent             string        `yaml:"user_agent"`
}

// DefaultConfig returns the default download settings
func DefaultConfig() Config {
	return Config{
		Workers:               8,
		ResponseHeaderTimeout: 30 * time.Second,
		StallTimeout:          60 * time.Second,
		MetadataTimeout:       5 * time.Minute,
		Retry:                 DefaultRetryConfig(),
		UserAgent:             "symindex/1.0",
	}
}

// Fetcher downloads package files over HTTP with bounded concurrency,
// an optional shared bandwidth limit and retries of transient failures.
type Fetcher struct {
	client  *http.Client
	cfg     Config
	sem     chan struct{}
	limiter *rate.Limiter
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Fetcher. A nil Metrics is replaced with a private one.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Fetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if m == nil {
		m = metrics.New()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Workers
	transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	// Payloads are already compressed; transparent gzip would corrupt checksums of .gz metadata
	transport.DisableCompression = true

	f := &Fetcher{
		client:  &http.Client{Transport: transport},
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.Workers),
		logger:  logger,
		metrics: m,
	}
	if cfg.BandwidthLimit > 0 {
		burst := int(cfg.BandwidthLimit)
		if burst < 32*1024 {
			burst = 32 * 1024
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthLimit), burst)
	}
	return f
}

// Config returns the settings the Fetcher was built with
func (f *Fetcher) Config() Config {
	return f.cfg
}

// Fetch downloads url and streams the body into consume. The whole attempt,
// consume included, is restarted from the beginning after a transient
// failure, so consume must discard any state from an earlier call.
//
// When sum is set, the digest is computed while streaming; the unread rest
// of the body is drained after consume returns and the digest is compared
// before Fetch returns. An error returned by consume itself is not retried
// and is passed through unchanged.
func (f *Fetcher) Fetch(ctx context.Context, url string, sum types.Checksum, consume func(io.Reader) error) error {
	attempt := 0
	return retryWithBackoff(ctx, f.cfg.Retry, func() error {
		attempt++
		err := f.fetchOnce(ctx, url, sum, consume)
		if err == nil || types.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, func(err error, next time.Duration) {
		f.metrics.FetchRetries.Add(1)
		f.logger.Debug().Err(err).Str("url", url).Int("attempt", attempt).Dur("backoff", next).Msg("retrying download")
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, sum types.Checksum, consume func(io.Reader) error) error {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-f.sem }()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return &types.FetchError{URL: url, Err: err}
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &types.FetchError{URL: url, Transient: isTransientNetErr(err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &types.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Err:        errors.New(resp.Status),
		}
	}

	h, err := NewHash(sum.Type)
	if err != nil {
		f.logger.Debug().Str("url", url).Str("type", sum.Type).Msg("unsupported checksum type, not verifying")
	}
	body := f.wrapBody(reqCtx, cancel, resp.Body, h)
	defer body.stop()

	if err := consume(body); err != nil {
		if berr := body.failure(ctx); berr != nil {
			return &types.FetchError{URL: url, Transient: true, Err: berr}
		}
		return err
	}

	if _, err := io.Copy(io.Discard, body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &types.FetchError{URL: url, Transient: true, Err: body.failure(ctx)}
	}

	if h != nil && !sum.IsZero() {
		got := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(got, sum.Digest) {
			return &types.FetchError{
				URL: url,
				Err: fmt.Errorf("%w: %s want %s, got %s", ErrChecksumMismatch, sum.Type, sum.Digest, got),
			}
		}
	}
	return nil
}

// Get downloads a small document into memory, up to limit bytes
func (f *Fetcher) Get(ctx context.Context, url string, limit int64) ([]byte, error) {
	var data []byte
	err := f.Fetch(ctx, url, types.Checksum{}, func(r io.Reader) error {
		var err error
		data, err = io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > limit {
			return fmt.Errorf("%s exceeds %d bytes", url, limit)
		}
		return nil
	})
	return data, err
}

func (f *Fetcher) wrapBody(ctx context.Context, cancel context.CancelFunc, body io.Reader, h hash.Hash) *trackedBody {
	tb := &trackedBody{metrics: f.metrics}

	var r io.Reader = body
	if f.cfg.StallTimeout > 0 {
		tb.stall = time.AfterFunc(f.cfg.StallTimeout, func() {
			tb.markStalled()
			cancel()
		})
		tb.stallTimeout = f.cfg.StallTimeout
	}
	if f.limiter != nil {
		r = &limitedReader{ctx: ctx, r: r, limiter: f.limiter}
	}
	if h != nil {
		r = io.TeeReader(r, h)
	}
	tb.r = r
	return tb
}

// trackedBody records the first read failure of the response body so it
// can be told apart from an error produced by the consumer.
type trackedBody struct {
	r            io.Reader
	metrics      *metrics.Metrics
	stall        *time.Timer
	stallTimeout time.Duration

	mu      sync.Mutex
	stalled bool
	err     error
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if n > 0 {
		b.metrics.BytesFetched.Add(int64(n))
		if b.stall != nil {
			b.stall.Reset(b.stallTimeout)
		}
	}
	if err != nil && err != io.EOF {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
	}
	if err == io.EOF && b.stall != nil {
		b.stall.Stop()
	}
	return n, err
}

func (b *trackedBody) stop() {
	if b.stall != nil {
		b.stall.Stop()
	}
}

func (b *trackedBody) markStalled() {
	b.mu.Lock()
	b.stalled = true
	b.mu.Unlock()
}

// failure returns the body read error, if any. A cancellation of the parent
// context is not a body failure.
func (b *trackedBody) failure(parent context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if parent.Err() != nil {
		return nil
	}
	if b.stalled {
		return errStalled
	}
	return b.err
}

type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// NewHash returns a hash for a repository checksum type. The empty type
// yields a nil hash and no error.
func NewHash(typ string) (hash.Hash, error) {
	switch strings.ToLower(typ) {
	case "":
		return nil, nil
	case "sha256":
		return sha256.New(), nil
	case "sha", "sha1":
		return sha1.New(), nil
	case "sha224":
		return sha256.New224(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum type %q", typ)
	}
}

func isTransientNetErr(err error) bool {
	// *url.Error satisfies net.Error itself; classify by its cause
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "connection reset")
}
