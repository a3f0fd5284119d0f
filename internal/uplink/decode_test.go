package uplink

import (
	"errors"
	"testing"
	"time"
)

const uplinkTopic = "application/3f1c6a9e/device/a84041000181c6b1/event/up"

// fullUplink is a trimmed ChirpStack v4 uplink event.
const fullUplink = `{
	"deduplicationId": "5d2b9bb0-9f0e-4b8a-9d79-6f8d0d1b2c3a",
	"time": "2026-03-01T10:15:00.123Z",
	"deviceInfo": {
		"tenantId": "52f14cd4-c6f1-4fbd-8f87-4025e1d49242",
		"applicationId": "3f1c6a9e",
		"applicationName": "Greenhouse",
		"deviceProfileName": "LHT65N",
		"deviceName": "Bench-Sensor-1",
		"devEui": "A84041000181C6B1"
	},
	"devAddr": "01f3a2b4",
	"fCnt": 42,
	"fPort": 2,
	"object": {"TempC_SHT": 22.5, "Hum_SHT": 61.2, "BatV": 3.05, "ext": {"probe": "ok"}},
	"rxInfo": [
		{"gatewayId": "0016c001ff10a235", "rssi": -60, "snr": 7.5},
		{"gatewayId": "0016c001ff10a236", "rssi": -101, "snr": -3}
	],
	"txInfo": {
		"frequency": 868100000,
		"modulation": {"lora": {"bandwidth": 125000, "spreadingFactor": 7, "codeRate": "CR_4_5"}}
	}
}`

// ===== Decode Tests =====

func TestDecode_FullUplink(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 15, 1, 0, time.UTC)

	ev, err := Decode(uplinkTopic, []byte(fullUplink), now)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if ev.DeviceID != "a84041000181c6b1" {
		t.Errorf("DeviceID = %q, want lower-cased EUI", ev.DeviceID)
	}
	if ev.DeviceName != "Bench-Sensor-1" {
		t.Errorf("DeviceName = %q", ev.DeviceName)
	}
	if ev.DeviceProfile != "LHT65N" {
		t.Errorf("DeviceProfile = %q", ev.DeviceProfile)
	}
	if ev.ApplicationID != "3f1c6a9e" {
		t.Errorf("ApplicationID = %q", ev.ApplicationID)
	}
	if !ev.ReceivedAt.Equal(now) {
		t.Errorf("ReceivedAt = %v, want %v", ev.ReceivedAt, now)
	}
	if got := ev.Fields["TempC_SHT"]; got != 22.5 {
		t.Errorf("Fields[TempC_SHT] = %v, want 22.5", got)
	}
	if _, ok := ev.Fields["ext"].(map[string]any); !ok {
		t.Errorf("Fields[ext] = %T, want nested map", ev.Fields["ext"])
	}
	if ev.FPort == nil || *ev.FPort != 2 {
		t.Errorf("FPort = %v, want 2", ev.FPort)
	}

	// Only the first gateway is used.
	if ev.Signal.RSSI == nil || *ev.Signal.RSSI != -60 {
		t.Errorf("Signal.RSSI = %v, want -60", ev.Signal.RSSI)
	}
	if ev.Signal.SNR == nil || *ev.Signal.SNR != 7.5 {
		t.Errorf("Signal.SNR = %v, want 7.5", ev.Signal.SNR)
	}
	if ev.Signal.GatewayID == nil || *ev.Signal.GatewayID != "0016c001ff10a235" {
		t.Errorf("Signal.GatewayID = %v", ev.Signal.GatewayID)
	}

	if ev.Radio.Frequency == nil || *ev.Radio.Frequency != 868100000 {
		t.Errorf("Radio.Frequency = %v", ev.Radio.Frequency)
	}
	if ev.Radio.SpreadingFactor == nil || *ev.Radio.SpreadingFactor != 7 {
		t.Errorf("Radio.SpreadingFactor = %v", ev.Radio.SpreadingFactor)
	}
}

func TestDecode_MinimalUplink(t *testing.T) {
	payload := `{"deviceInfo":{"devEui":"AA:BB"}}`

	ev, err := Decode("application/app-1/device/aabb/event/up", []byte(payload), time.Now())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if ev.DeviceID != "aa:bb" {
		t.Errorf("DeviceID = %q, want %q", ev.DeviceID, "aa:bb")
	}
	if ev.DeviceName != UnknownName || ev.DeviceProfile != UnknownName {
		t.Errorf("name/profile = %q/%q, want Unknown/Unknown", ev.DeviceName, ev.DeviceProfile)
	}
	if ev.HasName() || ev.HasProfile() {
		t.Error("HasName()/HasProfile() should be false for defaults")
	}
	if ev.ApplicationID != "app-1" {
		t.Errorf("ApplicationID = %q, want topic fallback app-1", ev.ApplicationID)
	}
	if ev.Fields == nil || len(ev.Fields) != 0 {
		t.Errorf("Fields = %v, want empty non-nil map", ev.Fields)
	}
	if ev.Signal.RSSI != nil || ev.Signal.SNR != nil || ev.Signal.GatewayID != nil {
		t.Errorf("Signal = %+v, want all nil", ev.Signal)
	}
	if ev.Radio.Frequency != nil || ev.Radio.SpreadingFactor != nil {
		t.Errorf("Radio = %+v, want all nil", ev.Radio)
	}
}

func TestDecode_PartialMetadata(t *testing.T) {
	payload := `{
		"deviceInfo": {"devEui": "aabb"},
		"rxInfo": [{"rssi": -88}],
		"txInfo": {"frequency": 867300000}
	}`

	ev, err := Decode("application/a/device/aabb/event/up", []byte(payload), time.Now())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if ev.Signal.RSSI == nil || *ev.Signal.RSSI != -88 {
		t.Errorf("Signal.RSSI = %v, want -88", ev.Signal.RSSI)
	}
	if ev.Signal.SNR != nil {
		t.Errorf("Signal.SNR = %v, want nil", *ev.Signal.SNR)
	}
	if ev.Radio.SpreadingFactor != nil {
		t.Errorf("Radio.SpreadingFactor = %v, want nil", *ev.Radio.SpreadingFactor)
	}
}

func TestDecode_NotUplink(t *testing.T) {
	topics := []string{
		"application/app-1/device/aabb/event/join",
		"application/app-1/device/aabb/event/ack",
		"application/app-1/device/aabb/event/status",
		"application/app-1/device/aabb/command/down",
		"gateway/0016c001ff10a235/event/up",
		"application/app-1/device/aabb/event/up/extra",
		"application//device/aabb/event/up",
		"",
	}

	for _, topic := range topics {
		t.Run(topic, func(t *testing.T) {
			_, err := Decode(topic, []byte(fullUplink), time.Now())
			if !errors.Is(err, ErrNotUplink) {
				t.Errorf("Decode(%q) error = %v, want ErrNotUplink", topic, err)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `not json`},
		{"json array", `[1,2,3]`},
		{"empty object", `{}`},
		{"null device info", `{"deviceInfo": null}`},
		{"missing devEui", `{"deviceInfo": {"deviceName": "Sensor1"}, "object": {"temp": 22.5}}`},
		{"blank devEui", `{"deviceInfo": {"devEui": "   "}}`},
		{"object not a map", `{"deviceInfo": {"devEui": "aabb"}, "object": "22.5"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(uplinkTopic, []byte(tt.payload), time.Now())
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode() error = %v, want ErrMalformed", err)
			}
		})
	}
}

// ===== Topic Tests =====

func TestParseTopic(t *testing.T) {
	app, eui, err := ParseTopic("application/app-7/device/A84041000181C6B1/event/up")
	if err != nil {
		t.Fatalf("ParseTopic() error = %v", err)
	}
	if app != "app-7" {
		t.Errorf("application = %q, want app-7", app)
	}
	if eui != "a84041000181c6b1" {
		t.Errorf("devEUI = %q, want lower-cased", eui)
	}
}

func TestNormalizeDeviceID(t *testing.T) {
	tests := map[string]string{
		"A84041000181C6B1":   "a84041000181c6b1",
		"  aa:BB  ":          "aa:bb",
		"already-normalized": "already-normalized",
		"":                   "",
	}
	for in, want := range tests {
		if got := NormalizeDeviceID(in); got != want {
			t.Errorf("NormalizeDeviceID(%q) = %q, want %q", in, got, want)
		}
	}
}
