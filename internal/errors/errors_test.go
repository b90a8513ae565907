package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/server/middleware"
)

func TestCodeForKind(t *testing.T) {
	cases := map[core.ErrorKind]struct {
		code   string
		status int
	}{
		core.KindTransport:   {CodeTransport, http.StatusBadGateway},
		core.KindRateLimited: {CodeUpstreamRateLimited, http.StatusServiceUnavailable},
		core.KindServer:      {CodeUpstreamServer, http.StatusBadGateway},
		core.KindClient:      {CodeUpstreamClient, http.StatusBadGateway},
		core.KindDecode:      {CodeDecode, http.StatusBadGateway},
		core.KindStorage:     {CodeStorage, http.StatusInternalServerError},
		"mystery":            {CodeInternal, http.StatusInternalServerError},
	}
	for kind, want := range cases {
		code := CodeForKind(kind)
		assert.Equal(t, want.code, code, "kind %s", kind)
		assert.Equal(t, want.status, HTTPStatusFromCode(code), "kind %s", kind)
	}
}

func TestFromFetchErrorCarriesContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDContextKey, "req-42")
	fe := &core.FetchError{
		Kind:     core.KindServer,
		Source:   core.SourceNEO,
		Status:   503,
		Message:  "service unavailable",
		Attempts: 4,
	}

	env := FromFetchError(ctx, fe)
	require.NotNil(t, env)
	assert.Equal(t, CodeUpstreamServer, env.Code)
	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Equal(t, "upstream_server_error", env.Context["kind"])
	assert.Equal(t, "neo", env.Context["source"])
	assert.Equal(t, 503, env.Context["upstream_status"])
	assert.Equal(t, 4, env.Context["attempts"])
}

func TestEnsureEnvelopeUnwrapsFetchError(t *testing.T) {
	wrapped := fmt.Errorf("refresh: %w", core.NewFetchError(core.KindDecode, core.SourceAPOD, "not json"))

	env := EnsureEnvelope(wrapped)
	assert.Equal(t, CodeDecode, env.Code)
	assert.NotEmpty(t, env.CorrelationID)

	generic := EnsureEnvelope(fmt.Errorf("boom"))
	assert.Equal(t, CodeInternal, generic.Code)
	assert.Equal(t, "boom", generic.Context["wrapped_error"])

	assert.Equal(t, CodeInternal, EnsureEnvelope(nil).Code)
}

func TestRespondWithErrorWritesBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/iss/refresh", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDContextKey, "req-7"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &core.FetchError{Kind: core.KindRateLimited, Source: core.SourceISS, Status: 429, Message: "slow down"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeUpstreamRateLimited, body.Error.Code)
	assert.Equal(t, "req-7", body.Error.RequestID)
	assert.Equal(t, "iss", body.Error.Details["source"])
}

func TestRateLimitedStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusFromEnvelope(NewRateLimitedError("too many")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromEnvelope(NewInvalidRequestError("bad")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}
