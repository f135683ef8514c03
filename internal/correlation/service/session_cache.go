package service

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// SessionCache fronts the external session directory so that a burst of
// records from one session performs a single lookup.
type SessionCache struct {
	cache *ristretto.Cache
}

func NewSessionCache(maxSessions int64) (*SessionCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxSessions * 10,
		MaxCost:     maxSessions,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &SessionCache{cache: cache}, nil
}

func (sc *SessionCache) Get(sessionID string) (SessionInfo, bool) {
	value, found := sc.cache.Get(sessionID)
	if !found {
		return SessionInfo{}, false
	}
	info, ok := value.(SessionInfo)
	if !ok {
		return SessionInfo{}, false
	}
	return info, true
}

func (sc *SessionCache) Put(sessionID string, info SessionInfo) {
	sc.cache.Set(sessionID, info, 1)
	sc.cache.Wait()
}
