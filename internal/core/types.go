package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Source identifies one upstream feed.
type Source string

const (
	SourceISS    Source = "iss"
	SourceOSDR   Source = "osdr"
	SourceAPOD   Source = "apod"
	SourceNEO    Source = "neo"
	SourceFLR    Source = "flr"
	SourceCME    Source = "cme"
	SourceSpaceX Source = "spacex"
)

// AllSources lists every known feed in registration order.
var AllSources = []Source{
	SourceISS,
	SourceOSDR,
	SourceAPOD,
	SourceNEO,
	SourceFLR,
	SourceCME,
	SourceSpaceX,
}

// DefaultRefreshSources is the set refreshed when a caller does not name sources.
var DefaultRefreshSources = []Source{
	SourceAPOD,
	SourceNEO,
	SourceFLR,
	SourceCME,
	SourceSpaceX,
}

// ParseSource normalizes a source name and reports whether it is known.
func ParseSource(value string) (Source, bool) {
	candidate := Source(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range AllSources {
		if s == candidate {
			return s, true
		}
	}
	return "", false
}

// ParseSourceList splits a comma separated list. Unknown names are returned separately.
func ParseSourceList(value string) ([]Source, []string) {
	var (
		known   []Source
		unknown []string
		seen    = map[Source]bool{}
	)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, ok := ParseSource(part)
		if !ok {
			unknown = append(unknown, part)
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		known = append(known, s)
	}
	return known, unknown
}

// QueryParam is a single query-string pair. Order is preserved on the wire.
type QueryParam struct {
	Key   string
	Value string
}

// FetchRequest describes one logical upstream GET. It is rebuilt for every attempt.
type FetchRequest struct {
	Source  Source
	URL     string
	Query   []QueryParam
	Timeout time.Duration
}

// Target renders the final URL. Query parameters already present in URL are kept
// and the request parameters are appended in order.
func (r FetchRequest) Target() (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return "", fmt.Errorf("invalid url for %s: %w", r.Source, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid url for %s: %q", r.Source, r.URL)
	}
	if len(r.Query) == 0 {
		return parsed.String(), nil
	}

	var b strings.Builder
	b.WriteString(parsed.RawQuery)
	for _, p := range r.Query {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	parsed.RawQuery = b.String()
	return parsed.String(), nil
}

// FetchOutcome is the result of one fetch cycle, successful or not.
type FetchOutcome struct {
	Source        Source            `json:"source"`
	Payload       json.RawMessage   `json:"-"`
	Records       []json.RawMessage `json:"-"`
	Datasets      []DatasetRecord   `json:"-"`
	FetchedAt     time.Time         `json:"fetched_at"`
	Attempts      int               `json:"attempts"`
	Stored        int               `json:"stored"`
	Skipped       int               `json:"skipped,omitempty"`
	SnapshotID    int64             `json:"snapshot_id,omitempty"`
	Duration      time.Duration     `json:"duration_ns"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Err           *FetchError       `json:"error,omitempty"`
}

// OK reports whether the cycle succeeded.
func (o *FetchOutcome) OK() bool {
	return o != nil && o.Err == nil
}

// Label is the outcome label used in logs and metrics.
func (o *FetchOutcome) Label() string {
	if o == nil {
		return "unknown"
	}
	if o.Err == nil {
		return "success"
	}
	return string(o.Err.Kind)
}

// Snapshot is one stored payload of a feed.
type Snapshot struct {
	ID        int64           `json:"id"`
	Source    Source          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// ScheduleState is the per-source scheduler state.
type ScheduleState string

const (
	StateIdle     ScheduleState = "idle"
	StateQueued   ScheduleState = "queued"
	StateFetching ScheduleState = "fetching"
)

// ScheduleEntry describes one registered source schedule.
type ScheduleEntry struct {
	Source      Source        `json:"source"`
	Interval    time.Duration `json:"interval"`
	NextDue     time.Time     `json:"next_due"`
	State       ScheduleState `json:"state"`
	LastOutcome *FetchOutcome `json:"last_outcome,omitempty"`
	Cycles      int64         `json:"cycles"`
	Failures    int64         `json:"failures"`
}
