package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosmostars/spacefeed/internal/core"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// sequenceServer replies with the given statuses in order, repeating the last one.
func sequenceServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newTestClient(server *httptest.Server, sleeper *sleepRecorder) *Client {
	return &Client{
		HTTP:    server.Client(),
		Limiter: NewRateLimiter(RateLimit{RequestsPerWindow: 100, WindowDuration: time.Minute}, nil),
		Retry:   DefaultRetryPolicy,
		Sleep:   sleeper.Sleep,
	}
}

func TestClientRateLimitedThenSuccess(t *testing.T) {
	server, calls := sequenceServer(t, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK)
	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)

	resp, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceAPOD, URL: server.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 3, resp.Attempts)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestClientRateLimitedExhausted(t *testing.T) {
	server, calls := sequenceServer(t, http.StatusTooManyRequests)
	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)

	_, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceNEO, URL: server.URL})
	require.Error(t, err)

	var fe *core.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, core.KindRateLimited, fe.Kind)
	require.Equal(t, 4, fe.Attempts)
	require.Equal(t, int32(4), calls.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.Delays())
}

func TestClientServerErrorFixedDelay(t *testing.T) {
	server, calls := sequenceServer(t, http.StatusInternalServerError)
	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)

	_, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceFLR, URL: server.URL})

	var fe *core.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, core.KindServer, fe.Kind)
	require.Equal(t, http.StatusInternalServerError, fe.Status)
	require.Equal(t, int32(4), calls.Load())
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestClientClientErrorNotRetried(t *testing.T) {
	server, calls := sequenceServer(t, http.StatusNotFound)
	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)

	_, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceCME, URL: server.URL})

	var fe *core.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, core.KindClient, fe.Kind)
	require.Equal(t, http.StatusNotFound, fe.Status)
	require.Equal(t, 1, fe.Attempts)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, sleeper.Delays())
}

func TestClientTransportErrorRetried(t *testing.T) {
	server, _ := sequenceServer(t, http.StatusOK)
	url := server.URL
	server.Close()

	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)

	_, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceISS, URL: url, Timeout: time.Second})

	var fe *core.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, core.KindTransport, fe.Kind)
	require.Equal(t, 4, fe.Attempts)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestClientPerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)

	resp, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceISS, URL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Attempts)
	require.Equal(t, []time.Duration{2 * time.Second}, sleeper.Delays())
}

func TestClientEveryAttemptTakesPermit(t *testing.T) {
	server, _ := sequenceServer(t, http.StatusServiceUnavailable, http.StatusOK)
	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)
	client.Limiter = NewRateLimiter(RateLimit{RequestsPerWindow: 10, WindowDuration: time.Hour}, nil)

	_, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceSpaceX, URL: server.URL})
	require.NoError(t, err)
	require.Equal(t, 8, client.Limiter.Available())
}

func TestClientZeroRetries(t *testing.T) {
	server, calls := sequenceServer(t, http.StatusBadGateway)
	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)
	client.Retry = RetryPolicy{MaxRetries: 0, BackoffBase: time.Second, RetryDelay: time.Second}

	_, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceOSDR, URL: server.URL})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, sleeper.Delays())
}

func TestClientCancelledContextStopsRetrying(t *testing.T) {
	server, calls := sequenceServer(t, http.StatusInternalServerError)
	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(server, &sleepRecorder{})
	client.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := client.Execute(ctx, core.FetchRequest{Source: core.SourceAPOD, URL: server.URL})
	var fe *core.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, core.KindServer, fe.Kind)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientSendsHeadersAndQuery(t *testing.T) {
	var (
		gotUA    string
		gotQuery string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server, &sleepRecorder{})
	_, err := client.Execute(context.Background(), core.FetchRequest{
		Source: core.SourceAPOD,
		URL:    server.URL,
		Query:  []core.QueryParam{{Key: "thumbs", Value: "true"}, {Key: "api_key", Value: "k"}},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "thumbs=true&api_key=k", gotQuery)
}

func TestClientDecodesCompressedBodies(t *testing.T) {
	payload := []byte(`{"items":[{"a":1}]}`)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(payload)
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write(payload)
	require.NoError(t, bw.Close())

	cases := map[string][]byte{
		"gzip": gz.Bytes(),
		"br":   br.Bytes(),
	}
	for encoding, body := range cases {
		t.Run(encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(body)
			}))
			defer server.Close()

			client := newTestClient(server, &sleepRecorder{})
			resp, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceOSDR, URL: server.URL})
			require.NoError(t, err)
			require.Equal(t, payload, resp.Body)
		})
	}
}

func TestClientBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer server.Close()

	sleeper := &sleepRecorder{}
	client := newTestClient(server, sleeper)
	client.MaxBodyBytes = 16

	_, err := client.Execute(context.Background(), core.FetchRequest{Source: core.SourceNEO, URL: server.URL})
	var fe *core.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, core.KindDecode, fe.Kind)
	require.Empty(t, sleeper.Delays())
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy
	assert.Equal(t, time.Second, p.Delay(core.KindRateLimited, 0))
	assert.Equal(t, 4*time.Second, p.Delay(core.KindRateLimited, 2))
	assert.Equal(t, 2*time.Second, p.Delay(core.KindServer, 2))
	assert.Equal(t, 2*time.Second, p.Delay(core.KindTransport, 0))
	assert.Equal(t, DefaultRetryPolicy, RetryPolicy{}.normalized())
}
