// Package broadcast fans processed change notifications out to live
// subscribers. Transport framing is the subscriber's concern; the hub only
// guarantees that one slow or broken subscriber never blocks the rest.
package broadcast

import (
	"errors"
	"sync"

	"github.com/Picca1e-12/GenTestAI/internal/logging"
	"github.com/Picca1e-12/GenTestAI/internal/model"
)

// Subscriber receives one notification per processed change. A returned
// error marks the subscriber dead; it is pruned after the broadcast.
type Subscriber interface {
	Send(model.Notification) error
}

type Hub struct {
	mu   sync.Mutex
	subs map[int64]Subscriber
	next int64
	log  logging.Logger
}

func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{subs: make(map[int64]Subscriber), log: log}
}

// Subscribe registers sub and returns a handle for Unsubscribe.
func (h *Hub) Subscribe(sub Subscriber) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.subs[h.next] = sub
	return h.next
}

func (h *Hub) Unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Count reports the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers n to every subscriber. Failing subscribers are logged
// and removed once the full fanout completes.
func (h *Hub) Publish(n model.Notification) {
	h.mu.Lock()
	snapshot := make(map[int64]Subscriber, len(h.subs))
	for id, sub := range h.subs {
		snapshot[id] = sub
	}
	h.mu.Unlock()

	var dead []int64
	for id, sub := range snapshot {
		if err := sub.Send(n); err != nil {
			h.log.Warn("broadcast send failed", "subscriber", id, "error", err)
			dead = append(dead, id)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, id := range dead {
			delete(h.subs, id)
		}
		h.mu.Unlock()
	}
}

// ErrSubscriberFull is returned by ChannelSubscriber when its buffer is
// saturated.
var ErrSubscriberFull = errors.New("subscriber buffer full")

// ChannelSubscriber adapts a buffered channel as a Subscriber. Sends never
// block: a full buffer fails the send and lets the hub prune the consumer.
type ChannelSubscriber struct {
	C chan model.Notification
}

func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{C: make(chan model.Notification, buffer)}
}

func (s *ChannelSubscriber) Send(n model.Notification) error {
	select {
	case s.C <- n:
		return nil
	default:
		return ErrSubscriberFull
	}
}
