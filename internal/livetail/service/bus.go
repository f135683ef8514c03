// Package service streams freshly persisted log records to live-tail
// subscribers over an in-process event bus. Publication happens only after a
// durable flush, so a tail never shows a record that could still be lost.
package service

import (
	"encoding/json"
	"fmt"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// Bus is a typed topic bus. Payloads cross the bus as JSON so subscribers
// never share memory with the publisher.
type Bus[T any] interface {
	Subscribe(topic string, handler func(item T)) (func() error, error)
	Publish(topic string, item T) error
}

type BusImpl[T any] struct {
	eventBus EventBus.Bus
	logger   *zap.Logger
}

func NewBus[T any](eventBus EventBus.Bus, logger *zap.Logger) Bus[T] {
	return &BusImpl[T]{
		eventBus: eventBus,
		logger:   logger,
	}
}

// Subscribe registers an async handler and returns its unsubscribe function.
func (b *BusImpl[T]) Subscribe(topic string, handler func(item T)) (func() error, error) {
	wrapped := func(arg string) {
		var item T
		if err := json.Unmarshal([]byte(arg), &item); err != nil {
			b.logger.Error("failed to unmarshal payload for topic",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return
		}
		handler(item)
	}
	if err := b.eventBus.SubscribeAsync(topic, wrapped, false); err != nil {
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	unsubscribe := func() error {
		return b.eventBus.Unsubscribe(topic, wrapped)
	}
	return unsubscribe, nil
}

func (b *BusImpl[T]) Publish(topic string, item T) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for topic %s: %w", topic, err)
	}
	b.eventBus.Publish(topic, string(payload))
	return nil
}
