package status

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chunkstream/internal/world"
)

type fakeSource struct {
	calls atomic.Int64
}

func (f *fakeSource) Published() world.Stats {
	n := f.calls.Add(1)
	return world.Stats{
		Chunks:    int(n),
		States:    map[string]int{"Active": int(n)},
		Executing: map[string]int{"generate": 1},
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestWSHandlerStreamsFrames(t *testing.T) {
	src := &fakeSource{}
	srv := NewServer(src, 10*time.Millisecond, quietLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var prev Frame
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if frame.Seq != prev.Seq+1 {
			t.Fatalf("frame seq = %d, want %d", frame.Seq, prev.Seq+1)
		}
		if frame.Stats.Chunks <= prev.Stats.Chunks || frame.Stats.Executing["generate"] != 1 {
			t.Fatalf("unexpected stats %+v", frame.Stats)
		}
		prev = frame
	}
	if srv.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", srv.Clients())
	}
}

func TestSnapshotHandler(t *testing.T) {
	srv := NewServer(&fakeSource{}, time.Second, quietLogger())
	req := httptest.NewRequest(http.MethodGet, "/status.json", nil)
	req.RemoteAddr = "127.0.0.1:4321"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var frame Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Stats.Chunks != 1 || frame.Stats.States["Active"] != 1 {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestHandlersRejectRemotePeers(t *testing.T) {
	srv := NewServer(&fakeSource{}, time.Second, quietLogger())
	tests := []struct {
		name   string
		method string
		path   string
		remote string
		want   int
	}{
		{"remote stream", http.MethodGet, "/status", "10.1.2.3:5555", http.StatusForbidden},
		{"remote snapshot", http.MethodGet, "/status.json", "192.168.0.7:80", http.StatusForbidden},
		{"post snapshot", http.MethodPost, "/status.json", "127.0.0.1:80", http.StatusMethodNotAllowed},
		{"ipv6 loopback", http.MethodGet, "/status.json", "[::1]:80", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(&fakeSource{}, time.Second, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/status.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not stop")
	}
}
