package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeSource struct {
	snap Snapshot
}

func (f *fakeSource) Snapshot() Snapshot { return f.snap }

func TestBroadcastsSnapshotsToConnectedClient(t *testing.T) {
	src := &fakeSource{snap: Snapshot{
		EventTime: 1.5,
		Axes:      map[string]float64{"x": 10},
		Heaters:   []HeaterStatus{{Index: 0, Current: 180, Target: 200}},
	}}
	srv := New(Config{Addr: "127.0.0.1:0", Source: src, Rate: 10 * time.Millisecond})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	url := "ws://" + srv.Addr() + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got Snapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got.EventTime != 1.5 {
		t.Fatalf("EventTime = %v, want 1.5", got.EventTime)
	}
	if got.Axes["x"] != 10 {
		t.Fatalf("Axes[x] = %v, want 10", got.Axes["x"])
	}
	if len(got.Heaters) != 1 || got.Heaters[0].Target != 200 {
		t.Fatalf("Heaters = %+v, want one heater with Target 200", got.Heaters)
	}
}

func TestStopClosesConnectedClients(t *testing.T) {
	src := &fakeSource{}
	srv := New(Config{Addr: "127.0.0.1:0", Source: src, Rate: 10 * time.Millisecond})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := "ws://" + srv.Addr() + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("ReadMessage after Stop: want an error (closed connection), got nil")
	}
}
