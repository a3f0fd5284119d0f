//go:build integration

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/lorawatch/internal/device"
	"github.com/nerrad567/lorawatch/internal/infrastructure/config"
	"github.com/nerrad567/lorawatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/lorawatch/internal/testutil/mqtttest"
)

// Run with:
//   go test -tags=integration -v ./internal/ingest/...

func TestIntegration_PipelineSurvivesBrokerKick(t *testing.T) {
	broker := mqtttest.Start(t)
	const clientID = "lorawatch-int-ingest"

	client := mqtt.New(config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: broker.Host, Port: broker.Port, ClientID: clientID},
		QoS:    1,
		Reconnect: config.MQTTReconnectConfig{
			Backoff:        1,
			ConnectTimeout: 5,
		},
	})

	store := device.NewStore()
	notified := &recorder{}
	p, err := New(Config{QoS: 1, Backoff: 100 * time.Millisecond}, Deps{
		Broker:   client,
		Store:    store,
		Notifier: notified,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "subscribed", func() bool { return p.State() == StateSubscribed })
	if err := p.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() after subscribe error = %v", err)
	}

	if err := broker.Publish(uplinkTopic("AA:BB"), uplinkPayload("AA:BB", 21)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, "first uplink", func() bool { return notified.count() == 1 })

	if err := broker.Kick(clientID); err != nil {
		t.Fatalf("Kick() error = %v", err)
	}
	waitFor(t, "reconnect", func() bool {
		return p.Stats().Reconnects == 1 && p.State() == StateSubscribed
	})
	if err := p.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() after reconnect error = %v", err)
	}

	if err := broker.Publish(uplinkTopic("AA:BB"), uplinkPayload("AA:BB", 22)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, "second uplink", func() bool { return notified.count() == 2 })

	st, _ := store.Get("aa:bb")
	if st.MessageCount != 2 || st.Fields["temp"] != 22.0 {
		t.Errorf("state = %+v, want count 2 temp 22", st)
	}
}
