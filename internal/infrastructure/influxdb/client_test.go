package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
	"github.com/nerrad567/homie-hub/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and captures line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		for _, l := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if l != "" {
				f.lines = append(f.lines, l)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func connectFake(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "hub",
		Bucket:        "history",
		BatchSize:     10,
		FlushInterval: 1,
	}, "hub-1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, fake
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{Enabled: false}, "hub-1")
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{Enabled: true, URL: url, Token: "x"}, "")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := connectFake(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestRecordValue_FieldPerType(t *testing.T) {
	client, fake := connectFake(t)

	client.RecordValue("lamp-1", "dim", 0.5, map[string]string{"zone": "kitchen", "class": ""})
	client.RecordValue("lamp-1", "onoff", true, nil)
	client.RecordValue("tv", "mode", "hdmi1", nil)
	client.RecordValue("tv", "ignored", []int{1}, nil)
	client.Flush()

	lines := fake.written()
	if len(lines) != 3 {
		t.Fatalf("wrote %d lines, want 3: %v", len(lines), lines)
	}

	wants := []string{
		"capability_value,capability=dim,device_id=lamp-1,hub_id=hub-1,zone=kitchen value=0.5",
		"capability_value,capability=onoff,device_id=lamp-1,hub_id=hub-1 state=true",
		`capability_value,capability=mode,device_id=tv,hub_id=hub-1 text="hdmi1"`,
	}
	for i, want := range wants {
		if !strings.HasPrefix(lines[i], want+" ") {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
	if got := client.Stats().Points; got != 3 {
		t.Errorf("Stats().Points = %d, want 3", got)
	}
}

func TestWriteHubState(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteHubState("hub-1", map[string]any{"devices": 3})
	client.WriteHubState("hub-1", nil)
	client.Flush()

	lines := fake.written()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "hub_state,hub_id=hub-1 devices=3i ") {
		t.Errorf("lines = %v, want one hub_state point", lines)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	client.Flush()
	if client.IsConnected() {
		t.Error("IsConnected() on zero client = true, want false")
	}
}

// rejectingInflux answers /ping but refuses every write.
type rejectingInflux struct{}

func (rejectingInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ping" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Error(w, `{"code":"invalid","message":"bad point"}`, http.StatusBadRequest)
}

func TestRecordValue_RejectedWriteCounted(t *testing.T) {
	srv := httptest.NewServer(rejectingInflux{})
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true, URL: srv.URL, Token: "t", Org: "hub", Bucket: "history", BatchSize: 1, FlushInterval: 1,
	}, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.RecordValue("lamp-1", "dim", 0.5, nil)
	client.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for client.Stats().FailedWrites == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := client.Stats().FailedWrites; got == 0 {
		t.Error("Stats().FailedWrites = 0, want rejected batch counted")
	}
}
