package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"broker-governor/internal/logger"

	"github.com/google/uuid"
)

const orderFillPrefix = "orderFill:"

// OrderFillTopic names the topic carrying fills for one account.
func OrderFillTopic(accountID string) string {
	return orderFillPrefix + accountID
}

type Handler[T any] func(ctx context.Context, payload T)

// ID identifies a registered handler for Off.
type ID = uuid.UUID

type subscriber[T any] struct {
	id      ID
	handler Handler[T]
}

// Bus delivers payloads to the handlers registered on a topic. Handlers run
// synchronously on the emitting goroutine in registration order.
type Bus[T any] struct {
	mu     sync.RWMutex
	topics map[string][]subscriber[T]
}

func New[T any]() *Bus[T] {
	return &Bus[T]{topics: make(map[string][]subscriber[T])}
}

func (b *Bus[T]) On(topic string, h Handler[T]) ID {
	id := uuid.New()

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], subscriber[T]{id: id, handler: h})
	b.mu.Unlock()
	return id
}

// Off removes the handler registered under id. It reports whether one was found.
func (b *Bus[T]) Off(topic string, id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// Copy so an in-flight Emit keeps its snapshot.
		next := make([]subscriber[T], 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = next
		}
		return true
	}
	return false
}

// Emit calls every handler on topic and returns how many ran. A panicking
// handler is logged and skipped.
func (b *Bus[T]) Emit(ctx context.Context, topic string, payload T) int {
	b.mu.RLock()
	subs := b.topics[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(ctx, topic, s, payload)
	}
	return len(subs)
}

func (b *Bus[T]) call(ctx context.Context, topic string, s subscriber[T], payload T) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWithErr(ctx, "Event handler panicked", fmt.Errorf("%v", r),
				"topic", topic, "handler_id", s.id.String())
		}
	}()
	s.handler(ctx, payload)
}

func (b *Bus[T]) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.topics))
	for topic := range b.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
