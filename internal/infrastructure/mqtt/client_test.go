package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "homiehub-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// offlineClient returns a Client that never connected.
func offlineClient() *Client {
	return &Client{
		cfg:           testConfig(),
		subscriptions: make(map[string]subscription),
	}
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestResolveClientID(t *testing.T) {
	if got := resolveClientID("fixed"); got != "fixed" {
		t.Errorf("resolveClientID(fixed) = %q, want fixed", got)
	}

	a := resolveClientID("")
	b := resolveClientID("")
	if !strings.HasPrefix(a, clientIDPrefix) {
		t.Errorf("resolveClientID(\"\") = %q, want prefix %q", a, clientIDPrefix)
	}
	if a == b {
		t.Errorf("resolveClientID(\"\") returned %q twice, want unique IDs", a)
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q, want tcp://127.0.0.1:1883", got)
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() = %q, want ssl://127.0.0.1:8883", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "hub"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, "id-1")
	configureLWT(opts, Will{Topic: "homie/homey/$state", Payload: "lost", QoS: 1, Retained: true})

	if opts.ClientID != "id-1" {
		t.Errorf("ClientID = %q, want id-1", opts.ClientID)
	}
	if opts.Username != "hub" {
		t.Errorf("Username = %q, want hub", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if !opts.WillEnabled || opts.WillTopic != "homie/homey/$state" || string(opts.WillPayload) != "lost" {
		t.Errorf("will = (%v, %q, %q), want enabled homie/homey/$state lost",
			opts.WillEnabled, opts.WillTopic, opts.WillPayload)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
}

// =============================================================================
// Offline Behaviour Tests
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := offlineClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "a/b", []byte("x"), 1, ErrNotConnected},
		{"nil payload not connected", "a/b", nil, 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, true)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeWhileDisconnectedIsTracked(t *testing.T) {
	c := offlineClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("homie/homey/+/+/set", 1, handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("homie/homey/+/+/set") {
		t.Error("HasSubscription() = false, want true")
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}

	if err := c.Unsubscribe("homie/homey/+/+/set"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := offlineClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
}

func TestHealthCheckOffline(t *testing.T) {
	c := offlineClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	c := offlineClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "a/b", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "a/b", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

// =============================================================================
// Topic Helper Tests
// =============================================================================

func TestJoinTopic(t *testing.T) {
	tests := []struct {
		levels []string
		want   string
	}{
		{[]string{"homie", "homey", "$state"}, "homie/homey/$state"},
		{[]string{"", "homey", "light", "kitchen"}, "homey/light/kitchen"},
		{[]string{"homie/homey/", "/node"}, "homie/homey/node"},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := JoinTopic(tt.levels...); got != tt.want {
			t.Errorf("JoinTopic(%q) = %q, want %q", tt.levels, got, tt.want)
		}
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"homie/homey/+/+/set", "homie/homey/lamp/onoff/set", true},
		{"homie/homey/+/+/set", "homie/homey/lamp/onoff", false},
		{"homie/homey/+/+/set", "homie/homey/lamp/onoff/set/x", false},
		{"homie/#", "homie/homey/lamp/onoff", true},
		{"homie/#", "homie", false},
		{"homie/homey/$broadcast/#", "homie/homey/$broadcast/onoff", true},
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestTrimTopicPrefix(t *testing.T) {
	levels, ok := TrimTopicPrefix("homie/homey/lamp/onoff/set", "homie/homey")
	if !ok || strings.Join(levels, ",") != "lamp,onoff,set" {
		t.Errorf("TrimTopicPrefix() = %v, %v, want [lamp onoff set], true", levels, ok)
	}

	if _, ok := TrimTopicPrefix("other/homey/lamp", "homie/homey"); ok {
		t.Error("TrimTopicPrefix() matched a foreign topic")
	}
	if _, ok := TrimTopicPrefix("homie/homey/", "homie/homey"); ok {
		t.Error("TrimTopicPrefix() matched the bare base")
	}
}
