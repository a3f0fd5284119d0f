package uplink

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope mirrors the parts of a ChirpStack v4 uplink event we read.
type envelope struct {
	DeviceInfo *deviceInfo    `json:"deviceInfo"`
	FPort      *int           `json:"fPort"`
	Object     map[string]any `json:"object"`
	RxInfo     []rxInfo       `json:"rxInfo"`
	TxInfo     *txInfo        `json:"txInfo"`
}

type deviceInfo struct {
	DevEUI            string `json:"devEui"`
	DeviceName        string `json:"deviceName"`
	DeviceProfileName string `json:"deviceProfileName"`
	ApplicationID     string `json:"applicationId"`
}

type rxInfo struct {
	GatewayID *string  `json:"gatewayId"`
	RSSI      *float64 `json:"rssi"`
	SNR       *float64 `json:"snr"`
}

type txInfo struct {
	Frequency  *int64      `json:"frequency"`
	Modulation *modulation `json:"modulation"`
}

type modulation struct {
	LoRa *loraModulation `json:"lora"`
}

type loraModulation struct {
	SpreadingFactor *int `json:"spreadingFactor"`
}

// Decode turns one broker message into an Event.
//
// Parameters:
//   - topic: MQTT topic the message arrived on
//   - payload: raw message body (JSON)
//   - receivedAt: receipt time, stored as the event's ReceivedAt
//
// Returns:
//   - Event: decoded uplink with a lower-cased DeviceID
//   - error: ErrNotUplink or ErrMalformed (wrapped with detail)
func Decode(topic string, payload []byte, receivedAt time.Time) (Event, error) {
	topicAppID, _, err := ParseTopic(topic)
	if err != nil {
		return Event{}, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.DeviceInfo == nil {
		return Event{}, fmt.Errorf("%w: missing deviceInfo", ErrMalformed)
	}

	id := NormalizeDeviceID(env.DeviceInfo.DevEUI)
	if id == "" {
		return Event{}, fmt.Errorf("%w: missing deviceInfo.devEui", ErrMalformed)
	}

	ev := Event{
		DeviceID:      id,
		DeviceName:    valueOr(env.DeviceInfo.DeviceName, UnknownName),
		DeviceProfile: valueOr(env.DeviceInfo.DeviceProfileName, UnknownName),
		ApplicationID: valueOr(env.DeviceInfo.ApplicationID, topicAppID),
		Fields:        env.Object,
		FPort:         env.FPort,
		ReceivedAt:    receivedAt,
	}
	if ev.Fields == nil {
		ev.Fields = map[string]any{}
	}

	if len(env.RxInfo) > 0 {
		rx := env.RxInfo[0]
		ev.Signal = Signal{
			RSSI:      rx.RSSI,
			SNR:       rx.SNR,
			GatewayID: rx.GatewayID,
		}
	}

	if env.TxInfo != nil {
		ev.Radio.Frequency = env.TxInfo.Frequency
		if m := env.TxInfo.Modulation; m != nil && m.LoRa != nil {
			ev.Radio.SpreadingFactor = m.LoRa.SpreadingFactor
		}
	}

	return ev, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
