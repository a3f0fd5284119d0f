package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/lorawatch/internal/device"
)

// Reserved field names; decoded fields with these names are prefixed.
var reservedFields = map[string]struct{}{
	"rssi":             {},
	"snr":              {},
	"frequency":        {},
	"spreading_factor": {},
	"message_count":    {},
}

// WriteUplink records one accepted uplink as a point in the configured
// measurement (default "uplink"), timestamped at LastSeen.
//
// The write is non-blocking; points are batched and sent asynchronously,
// and failures reach the SetOnError callback. Calls on a closed client
// are dropped.
//
// Tags: device_eui, device_name, gateway_id (when known).
// Fields: rssi, snr, frequency, spreading_factor, message_count, plus every
// numeric or boolean decoded field. Strings and nested objects are skipped.
func (c *Client) WriteUplink(state device.State) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(uplinkPoint(c.measurement, state))
	c.points.Add(1)
}

// uplinkPoint builds the point for a state.
func uplinkPoint(measurement string, state device.State) *write.Point {
	tags := map[string]string{
		"device_eui":  state.DeviceID,
		"device_name": state.DeviceName,
	}
	if state.GatewayID != nil && *state.GatewayID != "" {
		tags["gateway_id"] = *state.GatewayID
	}

	fields := map[string]interface{}{
		"message_count": state.MessageCount,
	}
	if state.RSSI != nil {
		fields["rssi"] = *state.RSSI
	}
	if state.SNR != nil {
		fields["snr"] = *state.SNR
	}
	if state.Frequency != nil {
		fields["frequency"] = *state.Frequency
	}
	if state.SpreadingFactor != nil {
		fields["spreading_factor"] = int64(*state.SpreadingFactor)
	}

	for name, v := range state.Fields {
		key := name
		if _, clash := reservedFields[name]; clash {
			key = "data_" + name
		}
		switch val := v.(type) {
		case float64:
			fields[key] = val
		case bool:
			fields[key] = val
		case int:
			fields[key] = int64(val)
		case int64:
			fields[key] = val
		}
	}

	return write.NewPoint(measurement, tags, fields, state.LastSeen)
}
