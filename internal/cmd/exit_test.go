package cmd

import (
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kosmostars/spacefeed/internal/core"
)

func failedOutcome(src core.Source, kind core.ErrorKind) *core.FetchOutcome {
	return &core.FetchOutcome{Source: src, Err: &core.FetchError{Kind: kind, Source: src, Attempts: 1}}
}

func TestExitCodeForOutcomes(t *testing.T) {
	ok := &core.FetchOutcome{Source: core.SourceISS}

	tests := []struct {
		name     string
		outcomes []*core.FetchOutcome
		want     foundry.ExitCode
	}{
		{"all succeeded", []*core.FetchOutcome{ok, nil}, foundry.ExitSuccess},
		{"upstream failure", []*core.FetchOutcome{ok, failedOutcome(core.SourceAPOD, core.KindServer)}, foundry.ExitExternalServiceUnavailable},
		{"decode failure", []*core.FetchOutcome{failedOutcome(core.SourceNEO, core.KindDecode)}, foundry.ExitExternalServiceUnavailable},
		{"network beats upstream", []*core.FetchOutcome{
			failedOutcome(core.SourceAPOD, core.KindRateLimited),
			failedOutcome(core.SourceISS, core.KindTransport),
		}, foundry.ExitNetworkUnreachable},
		{"storage beats network", []*core.FetchOutcome{
			failedOutcome(core.SourceISS, core.KindTransport),
			failedOutcome(core.SourceOSDR, core.KindStorage),
			failedOutcome(core.SourceAPOD, core.KindClient),
		}, foundry.ExitDatabaseUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeForOutcomes(tt.outcomes))
		})
	}
}

func TestErrorFieldsCarryFetchDetails(t *testing.T) {
	require.Nil(t, errorFields(nil))

	fe := &core.FetchError{Kind: core.KindServer, Source: core.SourceFLR, Status: 503, Attempts: 4, Message: "unavailable"}
	fields := errorFields(fe)

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	assert.Equal(t, string(core.SourceFLR), enc.Fields["source"])
	assert.Equal(t, string(core.KindServer), enc.Fields["kind"])
	assert.EqualValues(t, 4, enc.Fields["attempts"])
	assert.EqualValues(t, 503, enc.Fields["upstream_status"])
	assert.Contains(t, enc.Fields, "error")

	plain := errorFields(errors.New("boom"))
	require.Len(t, plain, 1)
}
