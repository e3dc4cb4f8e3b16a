// Package downloader fetches remote files into append-only staging files
// using HTTP range requests.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/accelara/treesync/internal/common"
	"github.com/accelara/treesync/internal/logging"
	"github.com/accelara/treesync/internal/metrics"
)

// HTTPDownloader downloads files segment by segment. One instance may be
// shared by sequential fetches; the rate limit applies across all of them.
type HTTPDownloader struct {
	client  *http.Client
	fs      afero.Fs
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

// stagingError marks failures of the local staging file, as opposed to the
// remote side.
type stagingError struct {
	err error
}

func (e *stagingError) Error() string { return e.err.Error() }
func (e *stagingError) Unwrap() error { return e.err }

func NewHTTPDownloader(fs afero.Fs, opts Options, log *slog.Logger) *HTTPDownloader {
	opts = opts.withDefaults()
	if log == nil {
		log = logging.Discard()
	}

	d := &HTTPDownloader{
		client: NewClient(opts),
		fs:     fs,
		opts:   opts,
		log:    log,
	}

	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < opts.BlockSize {
			burst = opts.BlockSize
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return d
}

// NewClient builds the HTTP client used for manifests and files: proxy from
// the options or the environment, a dial timeout and a bounded redirect
// chain. Body read timeouts are enforced per read by the downloader.
func NewClient(opts Options) *http.Client {
	opts = opts.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment
	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	if opts.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = opts.ConnectTimeout
	}
	if opts.ReadTimeout > 0 {
		transport.ResponseHeaderTimeout = opts.ReadTimeout
	}

	maxRedirects := opts.MaxRedirects
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// SetClient replaces the HTTP client, e.g. with an httptest server client.
func (d *HTTPDownloader) SetClient(c *http.Client) {
	d.client = c
}

func (d *HTTPDownloader) Client() *http.Client {
	return d.client
}

// Fetch brings stagingPath up to expectedSize bytes of the resource at
// rawURL, resuming from whatever the staging file already holds. It does not
// verify content. Remote failures wrap common.ErrTransferFailed, cancellation
// wraps common.ErrCancelled and leaves the staging file in place.
func (d *HTTPDownloader) Fetch(ctx context.Context, rawURL, stagingPath string, expectedSize int64, progress Progress) error {
	log := d.log.With(slog.String("item", stagingPath))

	staged, err := d.stagedSize(stagingPath)
	if err != nil {
		return fmt.Errorf("stat staging file: %w", err)
	}
	if staged > expectedSize {
		log.Warn("staging file larger than expected, discarding", slog.Int64("staged", staged), slog.Int64("expected", expectedSize))
		if err := d.fs.Remove(stagingPath); err != nil {
			return fmt.Errorf("discard staging file: %w", err)
		}
		staged = 0
	}
	if staged > 0 {
		log.Debug("resuming", slog.Int64("staged", staged), slog.Int64("expected", expectedSize))
		if progress != nil {
			progress.Resumed(staged)
		}
	}

	f, err := d.fs.OpenFile(stagingPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	for staged < expectedSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}

		end := staged + d.opts.SegmentSize - 1
		if end > expectedSize-1 {
			end = expectedSize - 1
		}

		n, err := d.fetchSegment(ctx, log, f, rawURL, staged, end, expectedSize, progress)
		staged += n
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
			}
			var se *stagingError
			if errors.As(err, &se) {
				return fmt.Errorf("write staging file: %w", se.err)
			}
			return fmt.Errorf("%w: %s: %w", common.ErrTransferFailed, rawURL, err)
		}

		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync staging file: %w", err)
		}
	}

	final, err := d.stagedSize(stagingPath)
	if err != nil {
		return fmt.Errorf("stat staging file: %w", err)
	}
	if final != expectedSize {
		return fmt.Errorf("%w: staging holds %d bytes, expected %d", common.ErrTransferFailed, final, expectedSize)
	}

	return nil
}

func (d *HTTPDownloader) stagedSize(path string) (int64, error) {
	fi, err := d.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// fetchSegment downloads [start, end] with retries. A retry resumes after
// the bytes earlier attempts already appended. It returns the total number
// of bytes appended across attempts.
func (d *HTTPDownloader) fetchSegment(ctx context.Context, log *slog.Logger, f afero.File, rawURL string, start, end, size int64, progress Progress) (int64, error) {
	var appended int64

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.opts.RetryDelay
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.opts.Retries-1)), ctx)

	op := func() error {
		n, err := d.fetchRange(ctx, f, rawURL, start+appended, end, size, progress)
		appended += n
		if err == nil {
			metrics.SegmentRequests.WithLabelValues(metrics.OutcomeOK).Inc()
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.SegmentRequests.WithLabelValues(metrics.OutcomeRetry).Inc()
		log.Warn("segment failed, retrying",
			slog.Int64("offset", start+appended),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	err := backoff.RetryNotify(op, b, notify)
	if err != nil {
		metrics.SegmentRequests.WithLabelValues(metrics.OutcomeFailed).Inc()
	}
	return appended, err
}

// fetchRange issues one request for [start, end] and appends what arrives.
// Errors wrapped in backoff.Permanent are not retried.
func (d *HTTPDownloader) fetchRange(ctx context.Context, f afero.File, rawURL string, start, end, size int64, progress Progress) (int64, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	req.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	want := end - start + 1
	var body io.Reader = resp.Body

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			first, _, _, err := ParseContentRange(cr)
			if err != nil {
				return 0, backoff.Permanent(err)
			}
			if first != start {
				return 0, backoff.Permanent(fmt.Errorf("server answered offset %d, requested %d", first, start))
			}
		}
	case resp.StatusCode == http.StatusOK:
		// Ranges are ignored: the body is the whole file.
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return 0, fmt.Errorf("skip %d staged bytes: %w", start, err)
		}
		want = size - start
	case retryableStatus(resp.StatusCode):
		return 0, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	default:
		return 0, backoff.Permanent(fmt.Errorf("unexpected HTTP status: %s", resp.Status))
	}

	var idle *time.Timer
	if d.opts.ReadTimeout > 0 {
		idle = time.AfterFunc(d.opts.ReadTimeout, cancel)
		defer idle.Stop()
	}

	buf := make([]byte, d.opts.BlockSize)
	var written int64

	for written < want {
		block := buf
		if rem := want - written; rem < int64(len(block)) {
			block = block[:rem]
		}

		n, rerr := body.Read(block)
		if idle != nil {
			idle.Reset(d.opts.ReadTimeout)
		}
		if n > 0 {
			if d.limiter != nil {
				if err := d.limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}
			if _, err := f.Write(block[:n]); err != nil {
				return written, backoff.Permanent(&stagingError{err: err})
			}
			written += int64(n)
			metrics.TransferredBytes.Add(float64(n))
			if progress != nil {
				progress.Transferred(int64(n))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if reqCtx.Err() != nil && ctx.Err() == nil {
				return written, fmt.Errorf("no data for %s", d.opts.ReadTimeout)
			}
			return written, rerr
		}
	}

	if written < want {
		return written, fmt.Errorf("short body: got %d of %d bytes", written, want)
	}

	return written, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// ParseContentRange parses "bytes first-last/total". An unknown total ("*")
// is returned as -1.
func ParseContentRange(v string) (first, last, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	rng, tot, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}

	total = -1
	if tot != "*" {
		if total, err = strconv.ParseInt(tot, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range %q: %w", v, err)
		}
	}

	a, b, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	if first, err = strconv.ParseInt(a, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q: %w", v, err)
	}
	if last, err = strconv.ParseInt(b, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q: %w", v, err)
	}
	if last < first {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}

	return first, last, total, nil
}
