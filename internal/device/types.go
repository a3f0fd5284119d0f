package device

import (
	"time"

	"github.com/nerrad567/lorawatch/internal/uplink"
)

// Status classification windows.
const (
	// OnlineWindow is how recently a device must have been heard to be online.
	OnlineWindow = 120 * time.Second

	// RecentWindow is how recently a device must have been heard to be recent.
	RecentWindow = 600 * time.Second
)

// Status is the liveness class of a device. It is derived from LastSeen on
// every read and never stored.
type Status string

// Status values.
const (
	StatusOnline  Status = "online"
	StatusRecent  Status = "recent"
	StatusOffline Status = "offline"
)

// State is the last-known aggregate for one device.
//
// Fields holds the decoded payload of the most recent uplink and is replaced
// wholesale on every update. The signal and radio pointers are only
// overwritten when the incoming uplink carries them, so a nil value means
// "never reported", not "absent from the last uplink".
type State struct {
	DeviceID      string `json:"device_eui"`
	DeviceName    string `json:"device_name"`
	DeviceProfile string `json:"device_profile"`
	ApplicationID string `json:"application_id,omitempty"`

	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`

	Fields map[string]any `json:"decoded_data"`

	RSSI            *float64 `json:"rssi"`
	SNR             *float64 `json:"snr"`
	GatewayID       *string  `json:"gateway_id"`
	Frequency       *int64   `json:"frequency"`
	SpreadingFactor *int     `json:"spreading_factor"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns a copy of the state that shares no mutable data with s.
func (s *State) DeepCopy() State {
	cpy := *s
	cpy.Fields = deepCopyMap(s.Fields)
	if cpy.Fields == nil {
		cpy.Fields = map[string]any{}
	}

	// Pointer targets are copied so callers can't write through them.
	cpy.RSSI = copyPtr(s.RSSI)
	cpy.SNR = copyPtr(s.SNR)
	cpy.GatewayID = copyPtr(s.GatewayID)
	cpy.Frequency = copyPtr(s.Frequency)
	cpy.SpreadingFactor = copyPtr(s.SpreadingFactor)

	return cpy
}

// apply folds one uplink into the state. The caller holds the entry lock.
func (s *State) apply(ev uplink.Event) {
	s.MessageCount++
	s.LastSeen = ev.ReceivedAt.UTC()
	s.UpdatedAt = s.LastSeen
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.LastSeen
	}

	s.Fields = deepCopyMap(ev.Fields)
	if s.Fields == nil {
		s.Fields = map[string]any{}
	}

	if ev.HasName() || s.DeviceName == "" {
		s.DeviceName = ev.DeviceName
	}
	if ev.HasProfile() || s.DeviceProfile == "" {
		s.DeviceProfile = ev.DeviceProfile
	}
	if s.DeviceName == "" {
		s.DeviceName = uplink.UnknownName
	}
	if s.DeviceProfile == "" {
		s.DeviceProfile = uplink.UnknownName
	}
	if ev.ApplicationID != "" {
		s.ApplicationID = ev.ApplicationID
	}

	if ev.Signal.RSSI != nil {
		s.RSSI = copyPtr(ev.Signal.RSSI)
	}
	if ev.Signal.SNR != nil {
		s.SNR = copyPtr(ev.Signal.SNR)
	}
	if ev.Signal.GatewayID != nil {
		s.GatewayID = copyPtr(ev.Signal.GatewayID)
	}
	if ev.Radio.Frequency != nil {
		s.Frequency = copyPtr(ev.Radio.Frequency)
	}
	if ev.Radio.SpreadingFactor != nil {
		s.SpreadingFactor = copyPtr(ev.Radio.SpreadingFactor)
	}
}

// StatusOf classifies a device by how long ago it was last heard.
// A zero LastSeen is always offline.
func StatusOf(s State, now time.Time) Status {
	if s.LastSeen.IsZero() {
		return StatusOffline
	}
	age := now.Sub(s.LastSeen)
	switch {
	case age < OnlineWindow:
		return StatusOnline
	case age < RecentWindow:
		return StatusRecent
	default:
		return StatusOffline
	}
}

// IsActive reports whether the status counts towards active devices.
func (st Status) IsActive() bool {
	return st == StatusOnline || st == StatusRecent
}

// Summary is a state together with its status at a point in time.
type Summary struct {
	State
	Status Status `json:"status"`
}

// Stats is the dashboard aggregate over all known devices.
type Stats struct {
	TotalDevices  int        `json:"total_devices"`
	ActiveDevices int        `json:"active_devices"`
	Online        int        `json:"online"`
	Recent        int        `json:"recent"`
	Offline       int        `json:"offline"`
	TotalMessages int64      `json:"total_messages"`
	Gateways      int        `json:"gateways"`
	LastUpdate    *time.Time `json:"last_update"`
}

// NormalizeID returns the canonical key for a device EUI.
func NormalizeID(id string) string {
	return uplink.NormalizeDeviceID(id)
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, float64, etc.) are safe to copy by value
		return v
	}
}
