package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kosmostars/spacefeed/internal/core"
	"github.com/kosmostars/spacefeed/internal/core/store"
	apperrors "github.com/kosmostars/spacefeed/internal/errors"
)

// Query bounds for the read API.
const (
	DefaultDatasetLimit = 20
	MaxDatasetLimit     = 100
	DefaultTrendHours   = 24
	MaxTrendHours       = 168
)

// Refresher runs fetch cycles on demand and reports schedule status.
type Refresher interface {
	TriggerRefresh(ctx context.Context, source core.Source) (*core.FetchOutcome, error)
	RefreshAll(ctx context.Context, sources []core.Source) []*core.FetchOutcome
	Status() []core.ScheduleEntry
}

// Reader is the read side of the store.
type Reader interface {
	Latest(ctx context.Context, source core.Source) (*core.Snapshot, error)
	ListRecent(ctx context.Context, source core.Source, since time.Time) ([]core.Snapshot, error)
	ListDatasets(ctx context.Context, q store.DatasetQuery) ([]core.DatasetRecord, error)
	CountDatasets(ctx context.Context, search string) (int64, error)
}

// LatestCache serves the most recent snapshot per source.
type LatestCache interface {
	Get(ctx context.Context, source core.Source) (*core.Snapshot, error)
}

// SpaceAPI serves stored feed data and triggers refreshes.
type SpaceAPI struct {
	Refresher Refresher
	Reader    Reader
	Cache     LatestCache
	Clock     func() time.Time

	// RefreshTimeout bounds a manual refresh, guard wait included. When it
	// passes the caller gets a TRANSPORT_ERROR body and the cycle is cancelled.
	// Zero leaves refreshes bounded only by the request context.
	RefreshTimeout time.Duration
}

// Envelope is the success body of every API response.
type Envelope struct {
	OK   bool `json:"ok"`
	Data any  `json:"data"`
}

// RefreshFailure describes one source that failed a manual refresh.
type RefreshFailure struct {
	Source        core.Source `json:"source"`
	Code          string      `json:"code"`
	Message       string      `json:"message"`
	Attempts      int         `json:"attempts,omitempty"`
	CorrelationID string      `json:"correlation_id"`
}

// RefreshReport is the body of POST /api/space/refresh.
type RefreshReport struct {
	Refreshed []*core.FetchOutcome `json:"refreshed"`
	Failed    []RefreshFailure     `json:"failed"`
}

// DatasetPage is one page of catalog records.
type DatasetPage struct {
	Items  []core.DatasetRecord `json:"items"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// CachedSnapshot is the body of GET /api/space/cache/{source}.
type CachedSnapshot struct {
	core.Snapshot
	Cached bool `json:"cached"`
}

// ISSLatest returns the most recent stored position.
func (a *SpaceAPI) ISSLatest(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Reader.Latest(r.Context(), core.SourceISS)
	if err != nil {
		a.storeError(w, r, err, "no iss position stored yet")
		return
	}
	pos, err := core.PositionFromSnapshot(*snap)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "stored iss payload is unreadable"))
		return
	}
	writeData(w, http.StatusOK, pos)
}

// ISSTrend aggregates stored positions into hourly buckets.
func (a *SpaceAPI) ISSTrend(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", DefaultTrendHours)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidRequest(r.Context(), err, "hours must be an integer"))
		return
	}
	hours = clamp(hours, 1, MaxTrendHours)

	since := a.now().Add(-time.Duration(hours) * time.Hour)
	snaps, err := a.Reader.ListRecent(r.Context(), core.SourceISS, since)
	if err != nil {
		a.storeError(w, r, err, "")
		return
	}

	positions := make([]core.IssPosition, 0, len(snaps))
	for _, snap := range snaps {
		pos, err := core.PositionFromSnapshot(snap)
		if err != nil {
			continue
		}
		positions = append(positions, pos)
	}

	writeData(w, http.StatusOK, map[string]any{
		"hours":  hours,
		"points": core.BuildTrend(positions),
	})
}

// ISSRefresh fetches the current position now and returns it.
func (a *SpaceAPI) ISSRefresh(w http.ResponseWriter, r *http.Request) {
	outcome, ok := a.refreshOne(w, r, core.SourceISS)
	if !ok {
		return
	}
	pos, err := core.PositionFromSnapshot(core.Snapshot{
		ID:        outcome.SnapshotID,
		Source:    outcome.Source,
		Payload:   outcome.Payload,
		FetchedAt: outcome.FetchedAt,
	})
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "iss payload is unreadable"))
		return
	}
	writeData(w, http.StatusOK, pos)
}

// ListDatasets pages through the catalog with an optional search term.
func (a *SpaceAPI) ListDatasets(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", DefaultDatasetLimit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidRequest(r.Context(), err, "limit must be an integer"))
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidRequest(r.Context(), err, "offset must be an integer"))
		return
	}
	q := store.DatasetQuery{
		Limit:  clamp(limit, 1, MaxDatasetLimit),
		Offset: max(offset, 0),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}

	items, err := a.Reader.ListDatasets(r.Context(), q)
	if err != nil {
		a.storeError(w, r, err, "")
		return
	}
	total, err := a.Reader.CountDatasets(r.Context(), q.Search)
	if err != nil {
		a.storeError(w, r, err, "")
		return
	}
	if items == nil {
		items = []core.DatasetRecord{}
	}
	writeData(w, http.StatusOK, DatasetPage{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset})
}

// SyncDatasets runs one catalog cycle now.
func (a *SpaceAPI) SyncDatasets(w http.ResponseWriter, r *http.Request) {
	outcome, ok := a.refreshOne(w, r, core.SourceOSDR)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, outcome)
}

// CachedSource returns the latest snapshot of a source, from the cache when
// one is configured and holds it.
func (a *SpaceAPI) CachedSource(w http.ResponseWriter, r *http.Request) {
	src, ok := core.ParseSource(chi.URLParam(r, "source"))
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("unknown source "+chi.URLParam(r, "source")))
		return
	}

	if a.Cache != nil {
		if snap, err := a.Cache.Get(r.Context(), src); err == nil && snap != nil {
			writeData(w, http.StatusOK, CachedSnapshot{Snapshot: *snap, Cached: true})
			return
		}
	}

	snap, err := a.Reader.Latest(r.Context(), src)
	if err != nil {
		a.storeError(w, r, err, "no data stored for "+string(src))
		return
	}
	writeData(w, http.StatusOK, CachedSnapshot{Snapshot: *snap})
}

// RefreshSources refreshes the named sources concurrently. Without a sources
// parameter the default set is refreshed.
func (a *SpaceAPI) RefreshSources(w http.ResponseWriter, r *http.Request) {
	sources := core.DefaultRefreshSources
	if raw := strings.TrimSpace(r.URL.Query().Get("sources")); raw != "" {
		known, unknown := core.ParseSourceList(raw)
		if len(unknown) > 0 {
			env := apperrors.NewInvalidRequestError("unknown sources: " + strings.Join(unknown, ","))
			respondWithError(w, r, env)
			return
		}
		if len(known) > 0 {
			sources = known
		}
	}

	var outcomes []*core.FetchOutcome
	if !a.refreshWithin(r, func(ctx context.Context) {
		outcomes = a.Refresher.RefreshAll(ctx, sources)
	}) {
		respondWithError(w, r, a.refreshTimeoutError(r, ""))
		return
	}
	report := RefreshReport{
		Refreshed: []*core.FetchOutcome{},
		Failed:    []RefreshFailure{},
	}
	for _, outcome := range outcomes {
		if outcome.OK() {
			report.Refreshed = append(report.Refreshed, outcome)
			continue
		}
		env := apperrors.FromFetchError(r.Context(), outcome.Err)
		report.Failed = append(report.Failed, RefreshFailure{
			Source:        outcome.Source,
			Code:          env.Code,
			Message:       env.Message,
			Attempts:      outcome.Err.Attempts,
			CorrelationID: env.CorrelationID,
		})
	}
	writeData(w, http.StatusOK, report)
}

// Sources reports the schedule of every registered source.
func (a *SpaceAPI) Sources(w http.ResponseWriter, r *http.Request) {
	entries := a.Refresher.Status()
	if entries == nil {
		entries = []core.ScheduleEntry{}
	}
	writeData(w, http.StatusOK, entries)
}

func (a *SpaceAPI) refreshOne(w http.ResponseWriter, r *http.Request, src core.Source) (*core.FetchOutcome, bool) {
	var (
		outcome *core.FetchOutcome
		err     error
	)
	if !a.refreshWithin(r, func(ctx context.Context) {
		outcome, err = a.Refresher.TriggerRefresh(ctx, src)
	}) {
		respondWithError(w, r, a.refreshTimeoutError(r, src))
		return nil, false
	}
	if err != nil {
		respondWithError(w, r, apperrors.WrapNotFound(r.Context(), err, string(src)+" is not scheduled"))
		return nil, false
	}
	if !outcome.OK() {
		respondWithError(w, r, apperrors.FromFetchError(r.Context(), outcome.Err))
		return nil, false
	}
	return outcome, true
}

// refreshWithin runs fn under RefreshTimeout and reports whether it returned
// in time. fn keeps running on a cancelled context after a false return, so
// its results must not be read then.
func (a *SpaceAPI) refreshWithin(r *http.Request, fn func(ctx context.Context)) bool {
	if a.RefreshTimeout <= 0 {
		fn(r.Context())
		return true
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.RefreshTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func (a *SpaceAPI) refreshTimeoutError(r *http.Request, src core.Source) error {
	return apperrors.FromFetchError(r.Context(), &core.FetchError{
		Kind:    core.KindTransport,
		Source:  src,
		Message: fmt.Sprintf("refresh did not finish within %s", a.RefreshTimeout),
		Err:     context.DeadlineExceeded,
	})
}

func (a *SpaceAPI) storeError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		if notFound == "" {
			notFound = "not found"
		}
		respondWithError(w, r, apperrors.WrapNotFound(r.Context(), err, notFound))
		return
	}
	respondWithError(w, r, apperrors.WrapStorage(r.Context(), err, "store query failed"))
}

func (a *SpaceAPI) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{OK: true, Data: data})
}

func intParam(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func clamp(value, lo, hi int) int {
	return min(max(value, lo), hi)
}
