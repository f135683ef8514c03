package server

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// SeriesCache memoizes resolved series ids so a steady stream of samples for
// the same series upserts once, not per export.
type SeriesCache struct {
	cache *ristretto.Cache
}

func NewSeriesCache(maxSeries int64) (*SeriesCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxSeries * 10,
		MaxCost:     maxSeries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create series cache: %w", err)
	}
	return &SeriesCache{cache: cache}, nil
}

func (sc *SeriesCache) Get(seriesKey string) (int64, bool) {
	value, found := sc.cache.Get(seriesKey)
	if !found {
		return 0, false
	}
	id, ok := value.(int64)
	if !ok {
		return 0, false
	}
	return id, true
}

func (sc *SeriesCache) Put(seriesKey string, seriesID int64) {
	sc.cache.Set(seriesKey, seriesID, 1)
	sc.cache.Wait()
}
