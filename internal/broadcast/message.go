package broadcast

import (
	"time"

	"github.com/nerrad567/lorawatch/internal/device"
)

// Message types pushed to live subscribers.
const (
	TypeDeviceData  = "device_data"
	TypeStatsUpdate = "stats_update"
)

// DeviceMessage announces a new state for one device.
type DeviceMessage struct {
	Type      string     `json:"type"`
	DeviceEUI string     `json:"device_eui"`
	Data      DeviceData `json:"data"`
	Timestamp string     `json:"timestamp"`
}

// DeviceData is the device payload of a DeviceMessage.
type DeviceData struct {
	DeviceName      string         `json:"device_name"`
	DecodedData     map[string]any `json:"decoded_data"`
	LastSeen        time.Time      `json:"last_seen"`
	MessageCount    int64          `json:"message_count"`
	Status          device.Status  `json:"status"`
	RSSI            *float64       `json:"rssi"`
	SNR             *float64       `json:"snr"`
	GatewayID       *string        `json:"gateway_id,omitempty"`
	Frequency       *int64         `json:"frequency,omitempty"`
	SpreadingFactor *int           `json:"spreading_factor,omitempty"`
}

// StatsMessage carries the dashboard aggregate.
type StatsMessage struct {
	Type      string       `json:"type"`
	Stats     device.Stats `json:"stats"`
	Timestamp string       `json:"timestamp"`
}

func newDeviceMessage(st device.State, now time.Time) DeviceMessage {
	return DeviceMessage{
		Type:      TypeDeviceData,
		DeviceEUI: st.DeviceID,
		Data: DeviceData{
			DeviceName:      st.DeviceName,
			DecodedData:     st.Fields,
			LastSeen:        st.LastSeen,
			MessageCount:    st.MessageCount,
			Status:          device.StatusOf(st, now),
			RSSI:            st.RSSI,
			SNR:             st.SNR,
			GatewayID:       st.GatewayID,
			Frequency:       st.Frequency,
			SpreadingFactor: st.SpreadingFactor,
		},
		Timestamp: formatTimestamp(now),
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
