package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kosmostars/spacefeed/internal/config"
	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/output"
)

func TestPlanFeedsFallsBackToDefinitions(t *testing.T) {
	cfg := &config.Config{
		Sources: map[string]config.SourceConfig{
			"iss":    {Enabled: true, Interval: 30 * time.Second},
			"osdr":   {Enabled: true, URL: "http://osdr.test/datasets"},
			"apod":   {Enabled: false},
			"spacex": {Enabled: true, Timeout: 5 * time.Second},
		},
	}

	plans := planFeeds(cfg)
	bySource := map[core.Source]feedPlan{}
	for _, plan := range plans {
		bySource[plan.Definition.Source] = plan
	}

	assert.NotContains(t, bySource, core.SourceAPOD)
	// Sources missing from the map keep their defaults and stay enabled.
	assert.Contains(t, bySource, core.SourceNEO)
	assert.Len(t, plans, len(core.AllSources)-1)

	assert.Equal(t, 30*time.Second, bySource[core.SourceISS].Interval)
	assert.Equal(t, 20*time.Second, bySource[core.SourceISS].Timeout)
	assert.Equal(t, "http://osdr.test/datasets", bySource[core.SourceOSDR].URL)
	assert.Equal(t, 600*time.Second, bySource[core.SourceOSDR].Interval)
	assert.Equal(t, 5*time.Second, bySource[core.SourceSpaceX].Timeout)
	assert.Equal(t, "https://api.spacexdata.com/v4/launches/next", bySource[core.SourceSpaceX].URL)
}

func TestPlanFeedsWithoutSourceSection(t *testing.T) {
	plans := planFeeds(&config.Config{})
	require.Len(t, plans, len(core.AllSources))
	for i, plan := range plans {
		assert.Equal(t, core.AllSources[i], plan.Definition.Source)
	}
}

func TestSourceRowsMarksDisabled(t *testing.T) {
	cfg := &config.Config{
		Sources: map[string]config.SourceConfig{
			"cme": {Enabled: false},
			"iss": {Enabled: true, URL: "http://iss.test"},
		},
	}

	rows := sourceRows(cfg)
	require.Len(t, rows, len(core.AllSources))
	for _, row := range rows {
		switch row.Source {
		case core.SourceCME:
			assert.False(t, row.Enabled)
			assert.Equal(t, "https://api.nasa.gov/DONKI/CME", row.URL)
			assert.True(t, row.UsesAPIKey)
		case core.SourceISS:
			assert.True(t, row.Enabled)
			assert.Equal(t, "http://iss.test", row.URL)
		case core.SourceOSDR:
			assert.True(t, row.Catalog)
		}
	}
}

func TestParseSourceArgs(t *testing.T) {
	sources, err := parseSourceArgs([]string{"iss", "neo,flr", "ISS"})
	require.NoError(t, err)
	assert.Equal(t, []core.Source{core.SourceISS, core.SourceNEO, core.SourceFLR}, sources)

	sources, err = parseSourceArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, sources)

	_, err = parseSourceArgs([]string{"iss", "hubble"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hubble")
}

func TestServeOverridesOnlyChangedFlags(t *testing.T) {
	savedHost, savedPort := serverHost, serverPort
	t.Cleanup(func() { serverHost, serverPort = savedHost, savedPort })

	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "")
	cmd.Flags().IntVar(&serverPort, "port", 3000, "")

	assert.Nil(t, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("port", "8088"))
	overrides := serveOverrides(cmd)
	require.NotNil(t, overrides)
	assert.Equal(t, map[string]any{"port": 8088}, overrides["server"])
}

func TestEmitViewWritesToOutDir(t *testing.T) {
	dir := t.TempDir()
	cmd := &cobra.Command{Use: "sources"}
	addOutputFlags(cmd)
	require.NoError(t, cmd.Flags().Set("output-format", "json"))
	require.NoError(t, cmd.Flags().Set("out-dir", dir))

	rows := []output.SourceRow{{Source: core.SourceISS, Enabled: true, Interval: 2 * time.Minute}}
	require.NoError(t, emitView(cmd, "sources", output.SourcesView(rows)))

	data, err := os.ReadFile(filepath.Join(dir, "sources.json"))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "iss", decoded[0]["source"])
}

func TestEmitViewRejectsBothTargets(t *testing.T) {
	cmd := &cobra.Command{Use: "sources"}
	addOutputFlags(cmd)
	require.NoError(t, cmd.Flags().Set("out", "a.txt"))
	require.NoError(t, cmd.Flags().Set("out-dir", t.TempDir()))

	err := emitView(cmd, "sources", output.SourcesView(nil))
	require.Error(t, err)
}

func TestBuildInitConfigIsValidYAML(t *testing.T) {
	var withKey map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(buildInitConfig("abc123")), &withKey))
	assert.Equal(t, "abc123", withKey["nasa"].(map[string]any)["api_key"])

	var withoutKey map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(buildInitConfig("")), &withoutKey))
	assert.Nil(t, withoutKey["nasa"])
	assert.Contains(t, withoutKey, "sources")
}
