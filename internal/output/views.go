package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kosmostars/spacefeed/internal/core"
)

const previewWidth = 60

// View is a value plus its tabular rendering. JSON output marshals Value;
// table and markdown output use Header and Rows.
type View struct {
	Title   string
	Header  []string
	Rows    [][]string
	Summary string
	Empty   string
	Value   any
}

func (v View) emptyText() string {
	if v.Empty != "" {
		return v.Empty
	}
	return "(no rows)"
}

// SourceRow is the effective configuration of one feed.
type SourceRow struct {
	Source      core.Source   `json:"source"`
	Enabled     bool          `json:"enabled"`
	URL         string        `json:"url"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
	UsesAPIKey  bool          `json:"uses_api_key"`
	Catalog     bool          `json:"catalog"`
	Description string        `json:"description"`
}

// OutcomesView renders fetch cycle results.
func OutcomesView(outcomes []*core.FetchOutcome) View {
	view := View{
		Title:  "Fetch results",
		Header: []string{"Source", "Outcome", "Attempts", "Stored", "Duration", "Notes"},
		Empty:  "(no sources fetched)",
		Value:  outcomes,
	}
	ok := 0
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		notes := ""
		if o.Err != nil {
			notes = o.Err.Message
			if o.Err.Status > 0 {
				notes = fmt.Sprintf("HTTP %d: %s", o.Err.Status, notes)
			}
		} else {
			ok++
			if o.Skipped > 0 {
				notes = fmt.Sprintf("%d records skipped", o.Skipped)
			}
		}
		view.Rows = append(view.Rows, []string{
			string(o.Source),
			o.Label(),
			strconv.Itoa(o.Attempts),
			strconv.Itoa(o.Stored),
			o.Duration.Round(time.Millisecond).String(),
			truncate(notes, previewWidth),
		})
	}
	view.Summary = fmt.Sprintf("%d/%d succeeded", ok, len(view.Rows))
	return view
}

// SourcesView renders the feed catalog.
func SourcesView(rows []SourceRow) View {
	view := View{
		Title:  "Sources",
		Header: []string{"Source", "Enabled", "Interval", "Timeout", "API key", "URL"},
		Empty:  "(no sources configured)",
		Value:  rows,
	}
	for _, r := range rows {
		view.Rows = append(view.Rows, []string{
			string(r.Source),
			yesNo(r.Enabled),
			r.Interval.String(),
			r.Timeout.String(),
			yesNo(r.UsesAPIKey),
			r.URL,
		})
	}
	return view
}

// ScheduleView renders scheduler status.
func ScheduleView(entries []core.ScheduleEntry) View {
	view := View{
		Title:  "Schedule",
		Header: []string{"Source", "Interval", "State", "Next due", "Cycles", "Failures", "Last outcome"},
		Empty:  "(nothing scheduled)",
		Value:  entries,
	}
	for _, e := range entries {
		last := "-"
		if e.LastOutcome != nil {
			last = e.LastOutcome.Label()
		}
		view.Rows = append(view.Rows, []string{
			string(e.Source),
			e.Interval.String(),
			string(e.State),
			formatTime(e.NextDue),
			strconv.FormatInt(e.Cycles, 10),
			strconv.FormatInt(e.Failures, 10),
			last,
		})
	}
	return view
}

// SnapshotsView renders stored payloads with a short preview.
func SnapshotsView(snapshots []core.Snapshot) View {
	view := View{
		Title:  "Snapshots",
		Header: []string{"ID", "Source", "Fetched", "Bytes", "Payload"},
		Empty:  "(no snapshots stored)",
		Value:  snapshots,
	}
	for _, s := range snapshots {
		view.Rows = append(view.Rows, []string{
			strconv.FormatInt(s.ID, 10),
			string(s.Source),
			formatTime(s.FetchedAt),
			strconv.Itoa(len(s.Payload)),
			truncate(string(s.Payload), previewWidth),
		})
	}
	return view
}

// DatasetsView renders one page of catalog records.
func DatasetsView(items []core.DatasetRecord, total int64) View {
	view := View{
		Title:  "Datasets",
		Header: []string{"Dataset", "Title", "Organism", "Study type", "Status", "Updated"},
		Empty:  "(no datasets stored)",
		Value: map[string]any{
			"items": items,
			"total": total,
		},
	}
	for _, d := range items {
		updated := "-"
		if d.UpdatedAt != nil {
			updated = formatTime(*d.UpdatedAt)
		}
		view.Rows = append(view.Rows, []string{
			d.DatasetID,
			truncate(d.Title, 40),
			d.Organism,
			d.StudyType,
			d.Status,
			updated,
		})
	}
	view.Summary = fmt.Sprintf("%d of %d", len(items), total)
	return view
}

// TrendView renders hourly ISS aggregates.
func TrendView(points []core.TrendPoint) View {
	view := View{
		Title:  "ISS trend",
		Header: []string{"Hour", "Count", "Avg lat", "Avg lon", "Avg alt km", "Avg vel km/h", "Distance km"},
		Empty:  "(no positions in range)",
		Value:  points,
	}
	for _, p := range points {
		view.Rows = append(view.Rows, []string{
			p.Hour,
			strconv.Itoa(p.Count),
			formatFloat(p.AvgLat),
			formatFloat(p.AvgLon),
			formatFloat(p.AvgAltitude),
			formatFloat(p.AvgVelocity),
			formatFloat(p.DistanceKm),
		})
	}
	return view
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(value string, width int) string {
	runes := []rune(strings.Join(strings.Fields(value), " "))
	if len(runes) <= width {
		return string(runes)
	}
	return string(runes[:width-3]) + "..."
}
