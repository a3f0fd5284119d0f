package uplink

import (
	"strings"
	"time"
)

// UnknownName is used for device name and profile when the event omits them.
const UnknownName = "Unknown"

// Event is one decoded uplink. It is treated as immutable once Decode
// returns; consumers copy Fields before keeping it.
type Event struct {
	DeviceID      string
	DeviceName    string
	DeviceProfile string
	ApplicationID string

	// Fields is the codec output ("object") of the uplink.
	Fields map[string]any

	Signal Signal
	Radio  Radio

	// FPort is the LoRaWAN application port, when present.
	FPort *int

	ReceivedAt time.Time
}

// Signal is the reception metadata of the first gateway that heard the uplink.
// Nil fields were absent from the event.
type Signal struct {
	RSSI      *float64
	SNR       *float64
	GatewayID *string
}

// Radio is the transmission metadata of the uplink.
type Radio struct {
	Frequency       *int64
	SpreadingFactor *int
}

// HasName reports whether the event carries a real device name.
func (e Event) HasName() bool {
	return e.DeviceName != "" && e.DeviceName != UnknownName
}

// HasProfile reports whether the event carries a real device profile name.
func (e Event) HasProfile() bool {
	return e.DeviceProfile != "" && e.DeviceProfile != UnknownName
}

// NormalizeDeviceID returns the canonical form of a device EUI: trimmed and
// lower-cased. Every map key and topic segment uses this form.
func NormalizeDeviceID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
