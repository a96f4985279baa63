//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
)

// Integration tests run against an in-process broker.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

const integrationPort = 18831

var errTestDisconnect = errors.New("test disconnect")

func startBroker(t *testing.T) *mochi.Server {
	t.Helper()

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: "127.0.0.1:18831",
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	}()
	t.Cleanup(func() { server.Close() })

	return server
}

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.Port = integrationPort
	cfg.Broker.ClientID = clientID
	return cfg
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	startBroker(t)

	client, err := Connect(integrationConfig("homiehub-int-roundtrip"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{}, 1)

	err = client.Subscribe("homie/homey/+/+/set", 1, func(topic string, payload []byte) error {
		mu.Lock()
		received = append(received, topic+"="+string(payload))
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish("homie/homey/lamp/onoff/set", []byte("true"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "homie/homey/lamp/onoff/set=true" {
		t.Errorf("received = %v, want [homie/homey/lamp/onoff/set=true]", received)
	}
}

func TestIntegration_RetainedAndClear(t *testing.T) {
	server := startBroker(t)

	client, err := Connect(integrationConfig("homiehub-int-retained"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.PublishRetained("homie/homey/$state", []byte("ready")); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := server.Topics.Retained.Len(); n != 1 {
		t.Errorf("retained count = %d, want 1", n)
	}

	if err := client.ClearRetained("homie/homey/$state"); err != nil {
		t.Fatalf("ClearRetained() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := server.Topics.Retained.Len(); n != 0 {
		t.Errorf("retained count after clear = %d, want 0", n)
	}
}

func TestIntegration_WillPublishedOnUncleanDisconnect(t *testing.T) {
	server := startBroker(t)

	wills := make(chan string, 1)
	err := server.Subscribe("homie/homey/$state", 1, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		wills <- string(pk.Payload)
	})
	if err != nil {
		t.Fatalf("inline Subscribe() error = %v", err)
	}

	client, err := Connect(integrationConfig("homiehub-int-will"),
		WithWill(Will{Topic: "homie/homey/$state", Payload: "lost", QoS: 1, Retained: true}),
	)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Drop the connection from the broker side so the will fires.
	if cl, ok := server.Clients.Get(client.ClientID()); ok {
		cl.Stop(errTestDisconnect)
	} else {
		t.Fatal("broker does not know the client")
	}

	select {
	case got := <-wills:
		if got != "lost" {
			t.Errorf("will payload = %q, want lost", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for will")
	}

	client.Close()
}

func TestIntegration_BackgroundConnect(t *testing.T) {
	cfg := integrationConfig("homiehub-int-background")
	cfg.Broker.Port = integrationPort + 1

	client, err := Connect(cfg, WithBackgroundConnect())
	if err != nil {
		t.Fatalf("Connect() error = %v, want nil with background connect", err)
	}
	defer client.Close()

	if client.IsConnected() {
		t.Error("IsConnected() = true with no broker")
	}
	if err := client.Subscribe("homie/homey/#", 1, func(string, []byte) error { return nil }); err != nil {
		t.Errorf("Subscribe() while offline error = %v, want nil", err)
	}
}
