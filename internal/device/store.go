package device

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lorawatch/internal/uplink"
)

// Logger defines the logging interface used by the Store and Writer.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is one device slot. Its mutex serialises updates for that device
// only; different devices update in parallel.
type entry struct {
	mu    sync.Mutex
	state State
	live  bool // set by the first Upsert, never by LoadInitial
}

// Store is the in-memory view of every device's last-known state and the
// sole owner of that state.
//
// The device map is guarded by a store-level RWMutex that is held only to
// find or create an entry; all mutation happens under the entry's own lock.
// Every value handed out is a deep copy.
//
// All public methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	sealed  atomic.Bool
	logger  Logger
}

// NewStore creates an empty device state store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Upsert folds one uplink into the device's state and returns the
// post-update snapshot. The first Upsert seals the store against LoadInitial.
//
// Parameters:
//   - ev: Decoded uplink; its DeviceID is normalised again here
//
// Returns:
//   - State: Deep copy of the device state after the update
//   - error: ErrInvalidDeviceID if the EUI is empty
func (s *Store) Upsert(ev uplink.Event) (State, error) {
	id := NormalizeID(ev.DeviceID)
	if id == "" {
		return State{}, ErrInvalidDeviceID
	}
	ev.DeviceID = id

	s.sealed.Store(true)
	e := s.getOrCreate(id)

	e.mu.Lock()
	e.state.apply(ev)
	e.live = true
	snapshot := e.state.DeepCopy()
	e.mu.Unlock()

	if snapshot.MessageCount == 1 {
		s.logger.Info("new device seen", "device_eui", id, "name", snapshot.DeviceName)
	}
	return snapshot, nil
}

// getOrCreate returns the entry for id, creating it if needed.
func (s *Store) getOrCreate(id string) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	e = &entry{state: State{DeviceID: id}}
	s.entries[id] = e
	return e
}

// Get returns a snapshot of one device's state.
func (s *Store) Get(id string) (State, bool) {
	s.mu.RLock()
	e, ok := s.entries[NormalizeID(id)]
	s.mu.RUnlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.DeepCopy(), true
}

// GetAll returns a snapshot of every device. Each entry is internally
// consistent; entries may reflect slightly different moments.
func (s *Store) GetAll() map[string]State {
	entries := s.snapshotEntries()

	out := make(map[string]State, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		out[id] = e.state.DeepCopy()
		e.mu.Unlock()
	}
	return out
}

// snapshotEntries copies the entry pointers so callers can lock entries
// without holding the store lock.
func (s *Store) snapshotEntries() map[string]*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e
	}
	return entries
}

// LoadInitial seeds the store from persisted states. It must complete
// before live ingestion starts; once any Upsert has run it refuses with
// ErrAlreadyLive. An entry that already holds live data is never replaced.
//
// Returns:
//   - int: Number of devices seeded
//   - error: ErrAlreadyLive if the store is sealed
func (s *Store) LoadInitial(states []State) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed.Load() {
		return 0, ErrAlreadyLive
	}

	loaded := 0
	for i := range states {
		st := states[i].DeepCopy()
		st.DeviceID = NormalizeID(st.DeviceID)
		if st.DeviceID == "" {
			s.logger.Warn("skipping persisted state without device id")
			continue
		}

		if e, ok := s.entries[st.DeviceID]; ok {
			e.mu.Lock()
			if !e.live {
				e.state = st
				loaded++
			}
			e.mu.Unlock()
			continue
		}
		s.entries[st.DeviceID] = &entry{state: st}
		loaded++
	}

	s.logger.Info("device states loaded", "count", loaded)
	return loaded, nil
}

// Seal marks the store as live so later LoadInitial calls fail.
func (s *Store) Seal() {
	s.sealed.Store(true)
}

// Sealed reports whether the store is receiving live updates.
func (s *Store) Sealed() bool {
	return s.sealed.Load()
}

// Len returns the number of known devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns every device with its status at now, sorted by device EUI.
func (s *Store) List(now time.Time) []Summary {
	all := s.GetAll()

	out := make([]Summary, 0, len(all))
	for _, st := range all {
		out = append(out, Summary{State: st, Status: StatusOf(st, now)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// Stats aggregates counts over all devices at now.
func (s *Store) Stats(now time.Time) Stats {
	all := s.GetAll()

	stats := Stats{TotalDevices: len(all)}
	gateways := make(map[string]struct{})
	var last time.Time

	for _, st := range all {
		switch StatusOf(st, now) {
		case StatusOnline:
			stats.Online++
		case StatusRecent:
			stats.Recent++
		default:
			stats.Offline++
		}
		stats.TotalMessages += st.MessageCount
		if st.GatewayID != nil && *st.GatewayID != "" {
			gateways[*st.GatewayID] = struct{}{}
		}
		if st.LastSeen.After(last) {
			last = st.LastSeen
		}
	}

	stats.ActiveDevices = stats.Online + stats.Recent
	stats.Gateways = len(gateways)
	if !last.IsZero() {
		stats.LastUpdate = &last
	}
	return stats
}
