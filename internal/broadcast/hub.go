package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lorawatch/internal/device"
)

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscriber is one live connection.
//
// Send must not block for long: implementations queue the message and
// return an error when they can't. A Send error removes the subscriber.
// Close releases the connection and may be called more than once.
type Subscriber interface {
	Send(msg []byte) error
	Close()
}

// Handle identifies a registered subscriber. The zero Handle is never
// issued by Register.
type Handle struct {
	id string
}

// String returns the handle's identifier.
func (h Handle) String() string {
	return h.id
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool {
	return h.id == ""
}

// StatsSource supplies the aggregate pushed by RunStats.
type StatsSource interface {
	Stats(now time.Time) device.Stats
}

// Hub fans device updates out to every registered subscriber.
//
// The subscriber set is guarded by a mutex held only to mutate or snapshot
// it; sends run outside the lock so one slow subscriber can't hold up
// Register or Unregister. Failures found during a pass are removed after
// the pass, and never stop delivery to the rest.
//
// Updates for one device are sent in the order Notify is called for it.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Handle]Subscriber
	closed bool

	logger Logger
	now    func() time.Time

	delivered atomic.Int64
	dropped   atomic.Int64
}

// HubStats reports hub activity.
type HubStats struct {
	Subscribers int   `json:"subscribers"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[Handle]Subscriber),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// Register adds sub and returns its handle. Registering on a closed hub
// closes sub immediately and returns the zero Handle.
func (h *Hub) Register(sub Subscriber) Handle {
	handle := Handle{id: uuid.NewString()}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.Close()
		return Handle{}
	}
	h.subs[handle] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber registered", "handle", handle.id, "subscribers", count)
	return handle
}

// Unregister removes the subscriber and closes it. Unknown handles are
// ignored, so concurrent removals of the same handle are safe.
func (h *Hub) Unregister(handle Handle) {
	h.mu.Lock()
	sub, ok := h.subs[handle]
	delete(h.subs, handle)
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.Close()
	h.logger.Debug("subscriber unregistered", "handle", handle.id, "subscribers", count)
}

// Notify pushes a device_data message for state to every subscriber.
func (h *Hub) Notify(state device.State) {
	data, err := json.Marshal(newDeviceMessage(state, h.now()))
	if err != nil {
		h.logger.Error("failed to marshal device message", "device_eui", state.DeviceID, "error", err)
		return
	}
	h.Broadcast(data)
}

// NotifyStats pushes a stats_update message to every subscriber.
func (h *Hub) NotifyStats(stats device.Stats) {
	data, err := json.Marshal(StatsMessage{
		Type:      TypeStatsUpdate,
		Stats:     stats,
		Timestamp: formatTimestamp(h.now()),
	})
	if err != nil {
		h.logger.Error("failed to marshal stats message", "error", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast delivers a pre-encoded message to every subscriber and
// removes the ones that fail.
func (h *Hub) Broadcast(data []byte) {
	// Snapshot under the lock, send outside it
	h.mu.RLock()
	handles := make([]Handle, 0, len(h.subs))
	subs := make([]Subscriber, 0, len(h.subs))
	for handle, sub := range h.subs {
		handles = append(handles, handle)
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	var failed []Handle
	for i, sub := range subs {
		if err := sub.Send(data); err != nil {
			h.logger.Debug("subscriber send failed", "handle", handles[i].id, "error", err)
			failed = append(failed, handles[i])
			continue
		}
		h.delivered.Add(1)
	}

	for _, handle := range failed {
		h.dropped.Add(1)
		h.Unregister(handle)
	}
	if len(failed) > 0 {
		h.logger.Info("removed failed subscribers", "count", len(failed))
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Subscribers: h.Count(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close unregisters and closes every subscriber. Later Register calls
// close their subscriber immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Handle]Subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	h.logger.Info("broadcast hub closed", "subscribers", len(subs))
}

// RunStats pushes source's stats every interval while there are
// subscribers. It blocks until ctx is cancelled, then closes the hub.
func (h *Hub) RunStats(ctx context.Context, interval time.Duration, source StatsSource) error {
	defer h.Close()

	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if h.Count() == 0 {
				continue
			}
			h.NotifyStats(source.Stats(h.now()))
		}
	}
}
