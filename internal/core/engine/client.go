package engine

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/metrics"
)

const (
	// DefaultUserAgent identifies outbound requests.
	DefaultUserAgent = "KosmoStars-Space/1.0"

	// DefaultTimeout applies when a request does not carry its own.
	DefaultTimeout = 30 * time.Second

	defaultMaxBodyBytes = 16 * 1024 * 1024
)

var errBodyTooLarge = errors.New("response body too large")

// RetryPolicy bounds how often and how long a fetch is retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BackoffBase is the 429 delay unit: BackoffBase * 2^attempt.
	BackoffBase time.Duration
	// RetryDelay is the fixed delay after a 5xx or transport failure.
	RetryDelay time.Duration
}

// DefaultRetryPolicy allows four calls in total.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:  3,
	BackoffBase: time.Second,
	RetryDelay:  2 * time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p == (RetryPolicy{}) {
		return DefaultRetryPolicy
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = DefaultRetryPolicy.BackoffBase
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryPolicy.RetryDelay
	}
	return p
}

// Delay returns the wait before the retry that follows attempt (zero based).
func (p RetryPolicy) Delay(kind core.ErrorKind, attempt int) time.Duration {
	p = p.normalized()
	if kind == core.KindRateLimited {
		return p.BackoffBase * time.Duration(1<<uint(attempt))
	}
	return p.RetryDelay
}

// Response is a successful upstream reply.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
}

// Client performs upstream GETs through the shared limiter with bounded retries.
// One Client and one RateLimiter are shared by every fetcher in the process.
type Client struct {
	HTTP         *http.Client
	Limiter      *RateLimiter
	Retry        RetryPolicy
	UserAgent    string
	MaxBodyBytes int64
	Logger       *logging.Logger

	// Sleep waits between attempts. Tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient returns the pooled transport shared by all sources.
// Per-call deadlines come from the request context, so the client has no timeout.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// Execute runs req until it succeeds, fails terminally or exhausts its retries.
// Every attempt takes a limiter permit, including retries. Failures are
// returned as *core.FetchError.
func (c *Client) Execute(ctx context.Context, req core.FetchRequest) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := req.Target()
	if err != nil {
		return nil, &core.FetchError{Kind: core.KindClient, Source: req.Source, Message: err.Error(), Err: err}
	}

	policy := c.Retry.normalized()
	source := string(req.Source)

	for attempt := 0; ; attempt++ {
		calls := attempt + 1

		waitStart := time.Now()
		if err := c.Limiter.Acquire(ctx); err != nil {
			return nil, aborted(req.Source, attempt, err)
		}
		metrics.RecordLimiterWait(source, time.Since(waitStart))

		status, header, body, err := c.attempt(ctx, req, target)

		var failure *core.FetchError
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, aborted(req.Source, calls, ctx.Err())
		case errors.Is(err, errBodyTooLarge):
			metrics.RecordFetchAttempt(source, strconv.Itoa(status))
			return nil, &core.FetchError{Kind: core.KindDecode, Source: req.Source, Status: status, Message: err.Error(), Attempts: calls, Err: err}
		case err != nil:
			metrics.RecordFetchAttempt(source, "transport_error")
			failure = &core.FetchError{Kind: core.KindTransport, Source: req.Source, Message: err.Error(), Err: err}
		case status >= 200 && status < 300:
			metrics.RecordFetchAttempt(source, strconv.Itoa(status))
			return &Response{Status: status, Header: header, Body: body, Attempts: calls}, nil
		case status == http.StatusTooManyRequests:
			metrics.RecordFetchAttempt(source, strconv.Itoa(status))
			failure = &core.FetchError{Kind: core.KindRateLimited, Source: req.Source, Status: status, Message: "upstream rate limited"}
		case status >= 500:
			metrics.RecordFetchAttempt(source, strconv.Itoa(status))
			failure = &core.FetchError{Kind: core.KindServer, Source: req.Source, Status: status, Message: statusMessage(status)}
		default:
			metrics.RecordFetchAttempt(source, strconv.Itoa(status))
			return nil, &core.FetchError{Kind: core.KindClient, Source: req.Source, Status: status, Message: statusMessage(status), Attempts: calls}
		}

		failure.Attempts = calls
		if attempt >= policy.MaxRetries {
			return nil, failure
		}

		delay := policy.Delay(failure.Kind, attempt)
		metrics.RecordFetchRetry(source, string(failure.Kind))
		if c.Logger != nil {
			c.Logger.Debug("Retrying upstream request",
				zap.String("source", source),
				zap.Int("attempt", calls),
				zap.String("kind", string(failure.Kind)),
				zap.Int("status", failure.Status),
				zap.Duration("delay", delay))
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, failure
		}
	}
}

func (c *Client) attempt(ctx context.Context, req core.FetchRequest, target string) (int, http.Header, []byte, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	httpReq.Header.Set("User-Agent", c.userAgent())

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return resp.StatusCode, resp.Header, nil, nil
	}

	body, err := readBody(resp, c.maxBodyBytes())
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	reader := io.Reader(resp.Body)
	var closer io.Closer

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader, closer = gz, gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader, closer = fl, fl
	}
	if closer != nil {
		defer closer.Close() // nolint:errcheck // decoder close only releases buffers
	}

	body, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", errBodyTooLarge, limit)
	}
	return body, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) userAgent() string {
	if c != nil && strings.TrimSpace(c.UserAgent) != "" {
		return c.UserAgent
	}
	return DefaultUserAgent
}

func (c *Client) maxBodyBytes() int64 {
	if c != nil && c.MaxBodyBytes > 0 {
		return c.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

func aborted(source core.Source, attempts int, err error) *core.FetchError {
	return &core.FetchError{
		Kind:     core.KindTransport,
		Source:   source,
		Message:  "request aborted: " + err.Error(),
		Attempts: attempts,
		Err:      err,
	}
}

func statusMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("upstream returned %d %s", status, text)
	}
	return fmt.Sprintf("upstream returned %d", status)
}
