package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MetricSeries identity is (Name, Labels). Samples reference a series by its
// resolved Id and never re-embed the label set.
type MetricSeries struct {
	Id     int64             `json:"id"`
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
}

type MetricSample struct {
	Id        int64     `json:"id"`
	SeriesId  int64     `json:"series_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Envelope  Envelope  `json:"envelope"`
}

// SeriesKey returns the canonical identity string for a (name, label set)
// pair: the name followed by labels sorted by key. Used for upsert uniqueness
// and for in-process series caches.
func SeriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf(",%s=%s", k, labels[k]))
	}
	return sb.String()
}

type Aggregation string

const (
	AggAvg   Aggregation = "avg"
	AggSum   Aggregation = "sum"
	AggMax   Aggregation = "max"
	AggMin   Aggregation = "min"
	AggCount Aggregation = "count"
)

func (a Aggregation) Valid() bool {
	switch a {
	case AggAvg, AggSum, AggMax, AggMin, AggCount:
		return true
	default:
		return false
	}
}

// MetricBucket is one fixed-width aggregation window of a metric query.
type MetricBucket struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}
