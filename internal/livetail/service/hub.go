package service

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asaskevich/EventBus"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls behind loses records rather than stalling the publisher.
const subscriberBuffer = 256

// TailFilter restricts a subscription to a level and/or service. Empty
// fields match everything.
type TailFilter struct {
	Level   model.Level `json:"level,omitempty"`
	Service string      `json:"service,omitempty"`
}

func (f TailFilter) matches(entry model.LogEntry) bool {
	if f.Level != "" && entry.Level != f.Level {
		return false
	}
	if f.Service != "" && entry.Envelope.Service != f.Service {
		return false
	}
	return true
}

// Subscription is one live tail. Read from C until Close; the channel is
// closed by Close, never by the hub.
type Subscription struct {
	C chan model.LogEntry

	mu          sync.RWMutex
	closed      bool
	dropped     atomic.Int64
	unsubscribe func() error
}

// Dropped reports how many records this subscriber lost to backpressure.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// deliver sends without blocking; a full or closed subscription drops.
func (s *Subscription) deliver(entry model.LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.C <- entry:
	default:
		s.dropped.Add(1)
	}
}

func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.C)
	s.mu.Unlock()
	return s.unsubscribe()
}

// Hub fans freshly flushed log records out to per-project subscribers.
type Hub struct {
	bus    Bus[model.LogEntry]
	logger *zap.Logger
}

func NewHub(eventBus EventBus.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		bus:    NewBus[model.LogEntry](eventBus, logger),
		logger: logger,
	}
}

func topicForProject(projectID string) string {
	return fmt.Sprintf("tail.logs.%s", projectID)
}

// PublishLogs fans a flushed batch out by project. Called as the write
// buffer's after-flush hook, so only durable records reach subscribers.
func (h *Hub) PublishLogs(entries []model.LogEntry) {
	for _, entry := range entries {
		if entry.Envelope.ProjectID == "" {
			continue
		}
		if err := h.bus.Publish(topicForProject(entry.Envelope.ProjectID), entry); err != nil {
			h.logger.Error("failed to publish log record to live tail",
				zap.String("project_id", entry.Envelope.ProjectID),
				zap.Error(err),
			)
		}
	}
}

// Subscribe opens a forward-only tail of one project's log stream. Records
// already persisted before the call are never replayed.
func (h *Hub) Subscribe(projectID string, filter TailFilter) (*Subscription, error) {
	if projectID == "" {
		return nil, fmt.Errorf("live tail requires a project id")
	}
	sub := &Subscription{C: make(chan model.LogEntry, subscriberBuffer)}
	unsubscribe, err := h.bus.Subscribe(topicForProject(projectID), func(entry model.LogEntry) {
		if filter.matches(entry) {
			sub.deliver(entry)
		}
	})
	if err != nil {
		return nil, err
	}
	sub.unsubscribe = unsubscribe
	return sub, nil
}
