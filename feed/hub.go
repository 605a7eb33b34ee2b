package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/maxpert/topocorr/listener"
)

// defaultBatchBufferSize is the per-subscriber queue of undelivered batches.
// Publish blocks when a subscriber's queue is full; batches are never dropped.
const defaultBatchBufferSize = 16

type subscription struct {
	id         uint64
	topologyID string
	ch         chan []listener.Change
	handler    Handler

	cancelOnce sync.Once
	done       chan struct{}
	exited     chan struct{}
}

func (s *subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case changes := <-s.ch:
			s.handler(changes)
		}
	}
}

func (s *subscription) stop() {
	s.cancelOnce.Do(func() { close(s.done) })
	<-s.exited
}

// Hub is an in-process feed. It is both a Source and a Publisher.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subscriptions: make(map[uint64]*subscription)}
}

// Publish hands changes to every subscriber of topologyID. It returns once
// each subscriber has queued the batch, or ctx is done.
func (h *Hub) Publish(ctx context.Context, topologyID string, changes []listener.Change) error {
	h.mu.RLock()
	subs := make([]*subscription, 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		if sub.topologyID == topologyID {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- changes:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, topologyID string, handler Handler) (func(), error) {
	sub := &subscription{
		id:         h.nextID.Add(1),
		topologyID: topologyID,
		ch:         make(chan []listener.Change, defaultBatchBufferSize),
		handler:    handler,
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go sub.run()

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return func() { h.unsubscribe(sub.id, sub) }, nil
}

// Subscribers returns the number of live subscriptions for topologyID
func (h *Hub) Subscribers(topologyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subscriptions {
		if sub.topologyID == topologyID {
			n++
		}
	}
	return n
}

func (h *Hub) unsubscribe(id uint64, sub *subscription) {
	h.mu.Lock()
	delete(h.subscriptions, id)
	h.mu.Unlock()
	sub.stop()
}

// Close cancels every subscription
func (h *Hub) Close() error {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}
