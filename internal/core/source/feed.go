package source

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/core/engine"
)

// Executor performs one logical upstream GET, retries included.
type Executor interface {
	Execute(ctx context.Context, req core.FetchRequest) (*engine.Response, error)
}

// Feed fetches one upstream source. The catalog feed additionally extracts
// dataset records from the normalized payload.
type Feed struct {
	Name    core.Source
	Client  Executor
	URL     string
	APIKey  string
	Timeout time.Duration
	Params  func(now time.Time) []core.QueryParam
	Catalog bool
	Clock   func() time.Time
}

// Source returns the feed name.
func (f *Feed) Source() core.Source {
	return f.Name
}

// Fetch performs the request and normalizes the reply. Upstream failures are
// returned as *core.FetchError, with the attempt count preserved on the outcome.
func (f *Feed) Fetch(ctx context.Context) (*core.FetchOutcome, error) {
	if f == nil || f.Client == nil {
		return nil, errors.New("feed is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := f.now()
	req := f.Request(now)

	outcome := &core.FetchOutcome{Source: f.Name, FetchedAt: now}

	resp, err := f.Client.Execute(ctx, req)
	if err != nil {
		fe := core.AsFetchError(f.Name, err)
		outcome.Attempts = fe.Attempts
		return outcome, fe
	}
	outcome.Attempts = resp.Attempts

	records, err := NormalizeRecords(resp.Body)
	if err != nil {
		return outcome, &core.FetchError{
			Kind:     core.KindDecode,
			Source:   f.Name,
			Status:   resp.Status,
			Message:  err.Error(),
			Attempts: resp.Attempts,
			Err:      err,
		}
	}
	outcome.Payload = resp.Body
	outcome.Records = records

	if f.Catalog {
		outcome.Datasets, outcome.Skipped = Datasets(records)
	}
	return outcome, nil
}

// Request builds the upstream request for the given instant.
func (f *Feed) Request(now time.Time) core.FetchRequest {
	var query []core.QueryParam
	if f.Params != nil {
		query = f.Params(now)
	}
	if key := strings.TrimSpace(f.APIKey); key != "" {
		query = append(query, core.QueryParam{Key: "api_key", Value: key})
	}
	return core.FetchRequest{
		Source:  f.Name,
		URL:     f.URL,
		Query:   query,
		Timeout: f.Timeout,
	}
}

func (f *Feed) now() time.Time {
	if f.Clock != nil {
		return f.Clock()
	}
	return time.Now()
}

// Datasets converts catalog records. Records without a dataset id are skipped
// and counted.
func Datasets(records []json.RawMessage) ([]core.DatasetRecord, int) {
	out := make([]core.DatasetRecord, 0, len(records))
	skipped := 0
	for _, raw := range records {
		rec, err := core.DatasetFromJSON(raw)
		if err != nil || rec.DatasetID == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped
}
