package source

import (
	"time"

	"github.com/kosmostars/spacefeed/internal/core"
)

const dateLayout = "2006-01-02"

// Definition describes a known upstream and its defaults.
type Definition struct {
	Source         core.Source
	Description    string
	URL            string
	Interval       time.Duration
	Timeout        time.Duration
	UsesAPIKey     bool
	Catalog        bool
	Params         func(now time.Time) []core.QueryParam
	DefaultRefresh bool
}

var definitions = []Definition{
	{
		Source:      core.SourceISS,
		Description: "ISS position (wheretheiss.at)",
		URL:         "https://api.wheretheiss.at/v1/satellites/25544",
		Interval:    120 * time.Second,
		Timeout:     20 * time.Second,
	},
	{
		Source:      core.SourceOSDR,
		Description: "NASA OSDR dataset catalog",
		URL:         "https://visualization.osdr.nasa.gov/biodata/api/v2/datasets/?format=json",
		Interval:    600 * time.Second,
		Timeout:     30 * time.Second,
		Catalog:     true,
	},
	{
		Source:         core.SourceAPOD,
		Description:    "NASA Astronomy Picture of the Day",
		URL:            "https://api.nasa.gov/planetary/apod",
		Interval:       12 * time.Hour,
		Timeout:        30 * time.Second,
		UsesAPIKey:     true,
		Params:         apodParams,
		DefaultRefresh: true,
	},
	{
		Source:         core.SourceNEO,
		Description:    "NASA near earth objects feed",
		URL:            "https://api.nasa.gov/neo/rest/v1/feed",
		Interval:       2 * time.Hour,
		Timeout:        30 * time.Second,
		UsesAPIKey:     true,
		Params:         neoParams,
		DefaultRefresh: true,
	},
	{
		Source:         core.SourceFLR,
		Description:    "NASA DONKI solar flares",
		URL:            "https://api.nasa.gov/DONKI/FLR",
		Interval:       time.Hour,
		Timeout:        30 * time.Second,
		UsesAPIKey:     true,
		Params:         donkiParams,
		DefaultRefresh: true,
	},
	{
		Source:         core.SourceCME,
		Description:    "NASA DONKI coronal mass ejections",
		URL:            "https://api.nasa.gov/DONKI/CME",
		Interval:       time.Hour,
		Timeout:        30 * time.Second,
		UsesAPIKey:     true,
		Params:         donkiParams,
		DefaultRefresh: true,
	},
	{
		Source:         core.SourceSpaceX,
		Description:    "SpaceX next launch",
		URL:            "https://api.spacexdata.com/v4/launches/next",
		Interval:       time.Hour,
		Timeout:        30 * time.Second,
		DefaultRefresh: true,
	},
}

// Definitions returns every known source definition in catalog order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Lookup returns the definition for src.
func Lookup(src core.Source) (Definition, bool) {
	for _, def := range definitions {
		if def.Source == src {
			return def, true
		}
	}
	return Definition{}, false
}

// Options override a definition's defaults. Zero values keep the default.
type Options struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Clock   func() time.Time
}

// New builds the feed for src.
func New(src core.Source, client Executor, opts Options) (*Feed, bool) {
	def, ok := Lookup(src)
	if !ok {
		return nil, false
	}
	feed := &Feed{
		Name:    def.Source,
		Client:  client,
		URL:     def.URL,
		Timeout: def.Timeout,
		Params:  def.Params,
		Catalog: def.Catalog,
		Clock:   opts.Clock,
	}
	if opts.URL != "" {
		feed.URL = opts.URL
	}
	if opts.Timeout > 0 {
		feed.Timeout = opts.Timeout
	}
	if def.UsesAPIKey {
		feed.APIKey = opts.APIKey
	}
	return feed, true
}

func apodParams(time.Time) []core.QueryParam {
	return []core.QueryParam{{Key: "thumbs", Value: "true"}}
}

func neoParams(now time.Time) []core.QueryParam {
	start, end := dayRange(now, 2)
	return []core.QueryParam{
		{Key: "start_date", Value: start},
		{Key: "end_date", Value: end},
	}
}

func donkiParams(now time.Time) []core.QueryParam {
	start, end := dayRange(now, 5)
	return []core.QueryParam{
		{Key: "startDate", Value: start},
		{Key: "endDate", Value: end},
	}
}

// dayRange returns UTC dates for today minus days and today.
func dayRange(now time.Time, days int) (string, string) {
	today := now.UTC()
	return today.AddDate(0, 0, -days).Format(dateLayout), today.Format(dateLayout)
}
