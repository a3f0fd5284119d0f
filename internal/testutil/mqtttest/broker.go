// Package mqtttest runs an in-process MQTT broker for tests that need a
// real session: connect, subscribe, publish and forced disconnects.
package mqtttest

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Broker is an embedded broker listening on a loopback port.
type Broker struct {
	server *mochi.Server
	Host   string
	Port   int
}

// Start launches a broker on a free loopback port and stops it when the
// test finishes.
func Start(t testing.TB) *Broker {
	t.Helper()

	port := freePort(t)

	server := mochi.New(&mochi.Options{InlineClient: true})
	server.Log = slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("mqtttest: add auth hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "mqtttest",
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("mqtttest: add listener: %v", err)
	}

	if err := server.Serve(); err != nil {
		t.Fatalf("mqtttest: serve: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	return &Broker{server: server, Host: "127.0.0.1", Port: port}
}

// Publish injects a message as if a remote client had published it.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 0)
}

// Subscribe registers an inline subscriber and forwards every matching
// message to fn.
func (b *Broker) Subscribe(filter string, id int, fn func(topic string, payload []byte)) error {
	return b.server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
}

// Kick drops the broker side of a client's connection, which the client
// observes as a lost connection.
func (b *Broker) Kick(clientID string) error {
	cl, ok := b.server.Clients.Get(clientID)
	if !ok {
		return errors.New("mqtttest: client not connected: " + clientID)
	}
	cl.Stop(errors.New("kicked by test"))
	return nil
}

// WaitForClient polls until clientID has a live session or the timeout passes.
func (b *Broker) WaitForClient(clientID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cl, ok := b.server.Clients.Get(clientID); ok && !cl.Closed() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func freePort(t testing.TB) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mqtttest: reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
