//go:build integration

package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/lorawatch/internal/infrastructure/config"
	"github.com/nerrad567/lorawatch/internal/testutil/mqtttest"
)

// Integration tests against an embedded broker.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func brokerConfig(b *mqtttest.Broker, clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     b.Host,
			Port:     b.Port,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			Backoff:        1,
			ConnectTimeout: 5,
		},
	}
}

func connectClient(t *testing.T, cfg config.MQTTConfig) *Client {
	t.Helper()

	client := New(cfg)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_ConnectAndClose(t *testing.T) {
	broker := mqtttest.Start(t)
	client := New(brokerConfig(broker, "lorawatch-int-connect"))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestIntegration_UplinkRoundtrip(t *testing.T) {
	broker := mqtttest.Start(t)
	client := connectClient(t, brokerConfig(broker, "lorawatch-int-roundtrip"))

	received := make(chan string, 1)
	filter := Topics{}.AllUplinks("")
	err := client.Subscribe(filter, 1, func(topic string, _ []byte) error {
		received <- topic
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(filter) {
		t.Error("HasSubscription() = false after Subscribe()")
	}

	topic := Topics{}.DeviceUplink("app-1", "a84041000181c6b1")
	if err := broker.Publish(topic, []byte(`{"deviceInfo":{"devEui":"a84041000181c6b1"}}`)); err != nil {
		t.Fatalf("broker Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != topic {
			t.Errorf("received topic = %q, want %q", got, topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("uplink not delivered")
	}
}

func TestIntegration_PublishDownlink(t *testing.T) {
	broker := mqtttest.Start(t)
	client := connectClient(t, brokerConfig(broker, "lorawatch-int-publish"))

	got := make(chan []byte, 1)
	topic := Topics{}.DeviceDownlink("app-1", "a84041000181c6b1")
	if err := broker.Subscribe(topic, 1, func(_ string, payload []byte) { got <- payload }); err != nil {
		t.Fatalf("broker Subscribe() error = %v", err)
	}

	if err := client.Publish(topic, []byte(`{"object":{"switch_1":"on"}}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-got:
		if string(payload) != `{"object":{"switch_1":"on"}}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("downlink not observed by broker")
	}
}

func TestIntegration_LostConnectionNotifies(t *testing.T) {
	broker := mqtttest.Start(t)
	cfg := brokerConfig(broker, "lorawatch-int-lost")
	client := connectClient(t, cfg)

	lost := make(chan error, 1)
	client.SetOnDisconnect(func(err error) { lost <- err })

	if err := client.Subscribe("application/+/device/+/event/up", 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !broker.WaitForClient(cfg.Broker.ClientID, time.Second) {
		t.Fatal("broker never saw the client")
	}
	if err := broker.Kick(cfg.Broker.ClientID); err != nil {
		t.Fatalf("Kick() error = %v", err)
	}

	select {
	case <-lost:
	case <-time.After(3 * time.Second):
		t.Fatal("onDisconnect not called after broker dropped the session")
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after lost connection")
	}
	if client.HasSubscription("application/+/device/+/event/up") {
		t.Error("HasSubscription() = true after lost connection, want false")
	}
	if err := client.Publish("a/b", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}

	// The same client can open a new session.
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
}
