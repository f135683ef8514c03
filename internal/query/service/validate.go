package service

import (
	"errors"
	"fmt"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

const (
	// MaxContainsLength bounds the free-text substring term.
	MaxContainsLength = 256
	// MaxLimit bounds one page of results.
	MaxLimit = 1000
	// DefaultLimit applies when a query names no limit.
	DefaultLimit = 100
	// maxMetricBuckets bounds a metric query's bucket count.
	maxMetricBuckets = 10000
)

// ErrInvalidQuery marks malformed or out-of-range parameters, rejected
// before any storage access.
var ErrInvalidQuery = errors.New("invalid query")

func invalidQuery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

func validateRange(timeRange model.TimeRange) error {
	if timeRange.Start.IsZero() || timeRange.End.IsZero() {
		return invalidQuery("time range bounds are required")
	}
	if timeRange.End.Before(timeRange.Start) {
		return invalidQuery("time range end precedes start")
	}
	return nil
}

// normalizePage validates limit/offset and applies defaults. Returns the
// effective limit.
func normalizePage(limit, offset int) (int, error) {
	if limit < 0 {
		return 0, invalidQuery("limit must not be negative")
	}
	if offset < 0 {
		return 0, invalidQuery("offset must not be negative")
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return 0, invalidQuery("limit exceeds maximum of %d", MaxLimit)
	}
	return limit, nil
}
