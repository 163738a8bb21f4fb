package fusion

import (
	"sort"
	"time"

	"github.com/lox/gridweather/internal/models"
)

type joinKey struct {
	ts   int64
	zone string
}

func keyOf(t time.Time, zone string) joinKey {
	return joinKey{ts: t.Unix(), zone: zone}
}

// ZoneSpan is the inclusive range of delivery dates seen for one zone.
type ZoneSpan struct {
	ZoneID string
	Start  time.Time
	End    time.Time
}

// StartDate formats the span start as YYYY-MM-DD.
func (s ZoneSpan) StartDate() string { return s.Start.Format("2006-01-02") }

// EndDate formats the span end as YYYY-MM-DD.
func (s ZoneSpan) EndDate() string { return s.End.Format("2006-01-02") }

// ZoneSpans returns the min/max timestamp of each zone's price records,
// sorted by zone.
func ZoneSpans(prices []models.PriceRecord) []ZoneSpan {
	byZone := make(map[string]*ZoneSpan)
	for _, p := range prices {
		span, ok := byZone[p.ZoneID]
		if !ok {
			byZone[p.ZoneID] = &ZoneSpan{ZoneID: p.ZoneID, Start: p.Timestamp, End: p.Timestamp}
			continue
		}
		if p.Timestamp.Before(span.Start) {
			span.Start = p.Timestamp
		}
		if p.Timestamp.After(span.End) {
			span.End = p.Timestamp
		}
	}

	spans := make([]ZoneSpan, 0, len(byZone))
	for _, s := range byZone {
		spans = append(spans, *s)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].ZoneID < spans[j].ZoneID })
	return spans
}

// Join inner-joins prices with per-zone weather on (timestamp, zone) and then
// keeps only load-zone rows. The zone type is not part of the join key, so the
// filter must run after the merge. Price input order is preserved; a price
// matching several observations yields one row per observation.
func Join(prices []models.PriceRecord, weather map[string][]models.WeatherObservation) []models.JoinedRecord {
	index := make(map[joinKey][]models.WeatherObservation)
	for zone, observations := range weather {
		for _, w := range observations {
			z := w.ZoneID
			if z == "" {
				z = zone
			}
			k := keyOf(w.Timestamp, z)
			index[k] = append(index[k], w)
		}
	}

	var merged []models.JoinedRecord
	for _, p := range prices {
		for _, w := range index[keyOf(p.Timestamp, p.ZoneID)] {
			merged = append(merged, models.JoinedRecord{
				Timestamp:       p.Timestamp,
				ZoneID:          p.ZoneID,
				ZoneType:        p.ZoneType,
				Price:           p.Price,
				Temperature:     w.Temperature,
				WindSpeed:       w.WindSpeed,
				SolarIrradiance: w.SolarIrradiance,
			})
		}
	}

	joined := merged[:0]
	for _, r := range merged {
		if r.ZoneType == models.LoadZone {
			joined = append(joined, r)
		}
	}
	return joined
}
