package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field fallbacks used to read catalog records. Upstream schemas drift, so each
// logical field is looked up under several names in order.
var (
	DatasetIDKeys = []string{"dataset_id", "id", "uuid", "studyId", "accession", "osdr_id"}
	TitleKeys     = []string{"title", "name", "label"}
	OrganismKeys  = []string{"organism", "species", "model_organism"}
	StudyTypeKeys = []string{"study_type", "type", "experiment_type"}
	StatusKeys    = []string{"status", "state", "lifecycle"}
	UpdatedAtKeys = []string{"updated", "updated_at", "modified", "lastUpdated", "timestamp"}
)

const naiveTimestampLayout = "2006-01-02 15:04:05"

// DatasetRecord is one catalog entry keyed by DatasetID.
type DatasetRecord struct {
	ID         int64           `json:"id,omitempty"`
	DatasetID  string          `json:"dataset_id"`
	Title      string          `json:"title,omitempty"`
	Organism   string          `json:"organism,omitempty"`
	StudyType  string          `json:"study_type,omitempty"`
	Status     string          `json:"status,omitempty"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	InsertedAt time.Time       `json:"inserted_at,omitempty"`
}

// DatasetFromJSON maps a raw catalog object onto a DatasetRecord.
// A record without any identifier field has an empty DatasetID.
func DatasetFromJSON(raw json.RawMessage) (DatasetRecord, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return DatasetRecord{}, err
	}
	return DatasetRecord{
		DatasetID: ExtractString(obj, DatasetIDKeys...),
		Title:     ExtractString(obj, TitleKeys...),
		Organism:  ExtractString(obj, OrganismKeys...),
		StudyType: ExtractString(obj, StudyTypeKeys...),
		Status:    ExtractString(obj, StatusKeys...),
		UpdatedAt: ExtractTimestamp(obj, UpdatedAtKeys...),
		Raw:       raw,
	}, nil
}

// DecodeObject decodes a JSON object keeping numbers as json.Number.
// Non-object values decode to an empty map.
func DecodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return obj, nil
}

// ExtractString returns the first non-empty string under keys. Numbers are rendered as text.
func ExtractString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// ExtractTimestamp parses the first usable timestamp under keys.
// Accepts RFC 3339 strings, "YYYY-MM-DD HH:MM:SS" strings and integer unix seconds.
func ExtractTimestamp(obj map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				ts = ts.UTC()
				return &ts
			}
			if ts, err := time.ParseInLocation(naiveTimestampLayout, v, time.UTC); err == nil {
				return &ts
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				ts := time.Unix(n, 0).UTC()
				return &ts
			}
		}
	}
	return nil
}

// ParseNumber accepts a JSON number or a numeric string.
func ParseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// IssPosition is the derived view of one position snapshot.
type IssPosition struct {
	Latitude   *float64        `json:"latitude"`
	Longitude  *float64        `json:"longitude"`
	Altitude   *float64        `json:"altitude"`
	Velocity   *float64        `json:"velocity"`
	Visibility *string         `json:"visibility"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// PositionFromSnapshot reads position fields from a stored iss payload.
func PositionFromSnapshot(s Snapshot) (IssPosition, error) {
	obj, err := DecodeObject(s.Payload)
	if err != nil {
		return IssPosition{}, err
	}
	pos := IssPosition{
		Latitude:  numberField(obj, "latitude"),
		Longitude: numberField(obj, "longitude"),
		Altitude:  numberField(obj, "altitude"),
		Velocity:  numberField(obj, "velocity"),
		Timestamp: s.FetchedAt,
		Payload:   s.Payload,
	}
	if vis, ok := obj["visibility"].(string); ok {
		pos.Visibility = &vis
	}
	return pos, nil
}

func numberField(obj map[string]any, key string) *float64 {
	if f, ok := ParseNumber(obj[key]); ok {
		return &f
	}
	return nil
}

// TrendPoint aggregates positions within one hour bucket.
type TrendPoint struct {
	Hour        string  `json:"hour"`
	AvgLat      float64 `json:"avg_lat"`
	AvgLon      float64 `json:"avg_lon"`
	AvgAltitude float64 `json:"avg_altitude"`
	AvgVelocity float64 `json:"avg_velocity"`
	Count       int     `json:"cnt"`
	DistanceKm  float64 `json:"distance_km"`
}

const trendHourLayout = "2006-01-02 15:00"

// BuildTrend groups positions into hourly buckets ordered by hour.
// Positions without coordinates are ignored. DistanceKm sums the great-circle
// distance between consecutive positions inside the bucket.
func BuildTrend(positions []IssPosition) []TrendPoint {
	type bucket struct {
		point          TrendPoint
		lat, lon       float64
		alt, vel       float64
		lastLat        float64
		lastLon        float64
		hasLast        bool
		distanceKm     float64
		altCnt, velCnt int
	}

	order := []string{}
	buckets := map[string]*bucket{}
	for _, p := range positions {
		if p.Latitude == nil || p.Longitude == nil {
			continue
		}
		hour := p.Timestamp.UTC().Format(trendHourLayout)
		b, ok := buckets[hour]
		if !ok {
			b = &bucket{point: TrendPoint{Hour: hour}}
			buckets[hour] = b
			order = append(order, hour)
		}
		b.point.Count++
		b.lat += *p.Latitude
		b.lon += *p.Longitude
		if p.Altitude != nil {
			b.alt += *p.Altitude
			b.altCnt++
		}
		if p.Velocity != nil {
			b.vel += *p.Velocity
			b.velCnt++
		}
		if b.hasLast {
			b.distanceKm += HaversineKm(b.lastLat, b.lastLon, *p.Latitude, *p.Longitude)
		}
		b.lastLat, b.lastLon, b.hasLast = *p.Latitude, *p.Longitude, true
	}

	out := make([]TrendPoint, 0, len(order))
	for _, hour := range order {
		b := buckets[hour]
		n := float64(b.point.Count)
		b.point.AvgLat = b.lat / n
		b.point.AvgLon = b.lon / n
		if b.altCnt > 0 {
			b.point.AvgAltitude = b.alt / float64(b.altCnt)
		}
		if b.velCnt > 0 {
			b.point.AvgVelocity = b.vel / float64(b.velCnt)
		}
		b.point.DistanceKm = b.distanceKm
		out = append(out, b.point)
	}
	return out
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Pow(math.Sin(dLat/2), 2) + math.Cos(rLat1)*math.Cos(rLat2)*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
