package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lorawatch/internal/device"
)

// fakeSubscriber records every message it is sent.
type fakeSubscriber struct {
	mu      sync.Mutex
	msgs    [][]byte
	sendErr error
	closed  int
}

func (f *fakeSubscriber) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeSubscriber) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.msgs...)
}

func (f *fakeSubscriber) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func ptr[T any](v T) *T { return &v }

func testState(id string, count int64) device.State {
	return device.State{
		DeviceID:     id,
		DeviceName:   "Sensor1",
		LastSeen:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		MessageCount: count,
		Fields:       map[string]any{"temp": 22.5},
		RSSI:         ptr(-60.0),
		SNR:          ptr(7.0),
	}
}

// ===== Registration Tests =====

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub()
	sub := &fakeSubscriber{}

	handle := h.Register(sub)
	if handle.IsZero() {
		t.Fatal("Register() returned zero handle")
	}
	if h.Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.Count())
	}

	h.Unregister(handle)
	if h.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.Count())
	}
	if sub.closeCount() != 1 {
		t.Errorf("subscriber closed %d times, want 1", sub.closeCount())
	}

	// Second unregister is a no-op.
	h.Unregister(handle)
	if sub.closeCount() != 1 {
		t.Errorf("double Unregister closed subscriber again")
	}
}

func TestHub_HandlesAreUnique(t *testing.T) {
	h := NewHub()
	seen := make(map[Handle]bool)
	for i := 0; i < 100; i++ {
		handle := h.Register(&fakeSubscriber{})
		if seen[handle] {
			t.Fatalf("duplicate handle %s", handle)
		}
		seen[handle] = true
	}
}

func TestHub_RegisterAfterClose(t *testing.T) {
	h := NewHub()
	h.Close()

	sub := &fakeSubscriber{}
	if handle := h.Register(sub); !handle.IsZero() {
		t.Error("Register() on closed hub returned a live handle")
	}
	if sub.closeCount() != 1 {
		t.Error("subscriber should be closed when registering on a closed hub")
	}
}

// ===== Delivery Tests =====

func TestHub_FailingSubscriberIsolated(t *testing.T) {
	h := NewHub()
	sub1 := &fakeSubscriber{}
	sub2 := &fakeSubscriber{sendErr: ErrSubscriberClosed}
	sub3 := &fakeSubscriber{}

	h.Register(sub1)
	h.Register(sub2)
	h.Register(sub3)

	h.Notify(testState("aa:bb", 1))

	if len(sub1.messages()) != 1 {
		t.Errorf("subscriber 1 got %d messages, want 1", len(sub1.messages()))
	}
	if len(sub3.messages()) != 1 {
		t.Errorf("subscriber 3 got %d messages, want 1", len(sub3.messages()))
	}
	if h.Count() != 2 {
		t.Errorf("Count() = %d, want 2 after failing subscriber removed", h.Count())
	}
	if sub2.closeCount() != 1 {
		t.Error("failing subscriber was not closed")
	}

	stats := h.Stats()
	if stats.Delivered != 2 || stats.Dropped != 1 {
		t.Errorf("Stats() = %+v, want 2 delivered 1 dropped", stats)
	}

	// Later notifications go only to the survivors.
	h.Notify(testState("aa:bb", 2))
	if len(sub1.messages()) != 2 || len(sub3.messages()) != 2 {
		t.Error("survivors missed the second notification")
	}
}

func TestHub_DeviceMessageShape(t *testing.T) {
	h := NewHub()
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC) }
	sub := &fakeSubscriber{}
	h.Register(sub)

	h.Notify(testState("aa:bb", 3))

	var msg map[string]any
	if err := json.Unmarshal(sub.messages()[0], &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg["type"] != TypeDeviceData {
		t.Errorf("type = %v, want %s", msg["type"], TypeDeviceData)
	}
	if msg["device_eui"] != "aa:bb" {
		t.Errorf("device_eui = %v", msg["device_eui"])
	}
	if msg["timestamp"] != "2026-03-01T12:00:30Z" {
		t.Errorf("timestamp = %v", msg["timestamp"])
	}

	data := msg["data"].(map[string]any)
	if data["message_count"] != 3.0 {
		t.Errorf("data.message_count = %v, want 3", data["message_count"])
	}
	if data["rssi"] != -60.0 || data["snr"] != 7.0 {
		t.Errorf("data rssi/snr = %v/%v", data["rssi"], data["snr"])
	}
	if data["status"] != string(device.StatusOnline) {
		t.Errorf("data.status = %v, want online", data["status"])
	}
	decoded := data["decoded_data"].(map[string]any)
	if decoded["temp"] != 22.5 {
		t.Errorf("decoded_data.temp = %v", decoded["temp"])
	}
}

func TestHub_StatsMessageShape(t *testing.T) {
	h := NewHub()
	sub := &fakeSubscriber{}
	h.Register(sub)

	h.NotifyStats(device.Stats{TotalDevices: 4, ActiveDevices: 2, TotalMessages: 17})

	var msg struct {
		Type  string       `json:"type"`
		Stats device.Stats `json:"stats"`
	}
	if err := json.Unmarshal(sub.messages()[0], &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg.Type != TypeStatsUpdate {
		t.Errorf("type = %q, want %q", msg.Type, TypeStatsUpdate)
	}
	if msg.Stats.TotalDevices != 4 || msg.Stats.ActiveDevices != 2 || msg.Stats.TotalMessages != 17 {
		t.Errorf("stats = %+v", msg.Stats)
	}
}

func TestHub_PerDeviceOrder(t *testing.T) {
	h := NewHub()
	sub := &fakeSubscriber{}
	h.Register(sub)

	for i := int64(1); i <= 50; i++ {
		h.Notify(testState("dev1", i))
	}

	var last float64
	for _, raw := range sub.messages() {
		var msg DeviceMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatal(err)
		}
		if float64(msg.Data.MessageCount) <= last {
			t.Fatalf("out of order: %d after %v", msg.Data.MessageCount, last)
		}
		last = float64(msg.Data.MessageCount)
	}
}

func TestHub_ConcurrentRegisterAndNotify(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil && i < 500; i++ {
			handle := h.Register(&fakeSubscriber{})
			if i%2 == 0 {
				h.Unregister(handle)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Notify(testState(fmt.Sprintf("dev%d", i%5), int64(i)))
		}
	}()
	wg.Wait()

	if h.Count() != 250 {
		t.Errorf("Count() = %d, want 250", h.Count())
	}
}

// ===== Lifecycle Tests =====

func TestHub_Close(t *testing.T) {
	h := NewHub()
	subs := []*fakeSubscriber{{}, {}, {}}
	for _, s := range subs {
		h.Register(s)
	}

	h.Close()

	if h.Count() != 0 {
		t.Errorf("Count() = %d after Close, want 0", h.Count())
	}
	for i, s := range subs {
		if s.closeCount() != 1 {
			t.Errorf("subscriber %d closed %d times, want 1", i, s.closeCount())
		}
	}
}

type fixedStats struct{ stats device.Stats }

func (f fixedStats) Stats(time.Time) device.Stats { return f.stats }

func TestHub_RunStats(t *testing.T) {
	h := NewHub()
	sub := &fakeSubscriber{}
	h.Register(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.RunStats(ctx, 10*time.Millisecond, fixedStats{device.Stats{TotalDevices: 1}})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(sub.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("RunStats() error = %v", err)
	}
	if len(sub.messages()) == 0 {
		t.Fatal("no stats message delivered")
	}
	if sub.closeCount() != 1 {
		t.Error("RunStats should close the hub on exit")
	}
}

func TestHub_SendErrorsAreWrapped(t *testing.T) {
	h := NewHub()
	sub := &fakeSubscriber{sendErr: fmt.Errorf("write tcp: %w", ErrSubscriberSlow)}
	h.Register(sub)

	h.NotifyStats(device.Stats{})

	if h.Count() != 0 {
		t.Error("slow subscriber should be removed")
	}
	if !errors.Is(sub.sendErr, ErrSubscriberSlow) {
		t.Error("sanity: wrapped error should match ErrSubscriberSlow")
	}
}
