package events

import (
	"log/slog"
	"sync"

	"github.com/txn2/session-gateway/pkg/metrics"
)

// AllTenants subscribes to events for every tenant.
const AllTenants = "*"

const defaultSubscriberBuffer = 16

// Hub delivers events to live subscribers keyed by tenant. A subscriber
// whose buffer is full misses the event; Notify never waits.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[chan Event]struct{}
	buffer  int
	metrics *metrics.Metrics
}

// NewHub creates a hub. buffer is the per-subscriber channel capacity.
func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:    make(map[string]map[chan Event]struct{}),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe registers a subscriber for tenantID (or AllTenants). The
// returned function unsubscribes and closes the channel; it is safe to
// call more than once.
func (h *Hub) Subscribe(tenantID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[chan Event]struct{})
	}
	h.subs[tenantID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[tenantID], ch)
			if len(h.subs[tenantID]) == 0 {
				delete(h.subs, tenantID)
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers registered for tenantID.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

// Notify delivers ev to the tenant's subscribers and to AllTenants
// subscribers.
func (h *Hub) Notify(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := h.deliver(h.subs[ev.TenantID], ev)
	if ev.TenantID != AllTenants {
		dropped += h.deliver(h.subs[AllTenants], ev)
	}
	if dropped > 0 {
		slog.Debug("events: dropped for slow subscribers",
			"tenant_id", ev.TenantID, "dropped", dropped)
	}
}

func (h *Hub) deliver(subs map[chan Event]struct{}, ev Event) int {
	dropped := 0
	for ch := range subs {
		select {
		case ch <- ev:
		default:
			dropped++
			h.metrics.EventDropped("hub")
		}
	}
	return dropped
}

// Verify interface compliance.
var _ Sink = (*Hub)(nil)
