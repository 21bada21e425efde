package events

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"storyreel/internal/domain"
)

type fakeConn struct {
	mu      sync.Mutex
	written []any
	err     error
	closed  bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestBroadcastPrunesDeadSubscribers(t *testing.T) {
	hub := NewHub(nil)
	live := &fakeConn{}
	dead := &fakeConn{err: errors.New("broken pipe")}
	hub.Subscribe(live)
	hub.Subscribe(dead)

	hub.Broadcast(context.Background(), GenerationComplete())

	if hub.Len() != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.Len())
	}
	if !dead.closed {
		t.Fatal("dead subscriber should be closed")
	}
	if len(live.written) != 1 {
		t.Fatalf("live subscriber got %d events", len(live.written))
	}

	hub.Broadcast(context.Background(), GenerationComplete())
	if len(live.written) != 2 {
		t.Fatalf("live subscriber got %d events after second broadcast", len(live.written))
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}
	unsubscribe := hub.Subscribe(conn)
	unsubscribe()
	unsubscribe()
	hub.Broadcast(context.Background(), GenerationComplete())
	if len(conn.written) != 0 || hub.Len() != 0 {
		t.Fatal("unsubscribed connection still receives events")
	}
}

func TestServeHTTPDeliversEvents(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(context.Background(), CompositionComplete(4, "composed/scene_4_abcd1234.mp4"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["type"] != TypeCompositionComplete || got["video_path"] != "composed/scene_4_abcd1234.mp4" || got["scene_id"] != float64(4) {
		t.Fatalf("unexpected event %v", got)
	}
}

func TestShotProgress(t *testing.T) {
	asset := &domain.Asset{ID: 1, ShotID: 2, Kind: domain.AssetKindVideo, FilePath: "videos/shot_2.mp4"}
	tests := []struct {
		name     string
		event    domain.Event
		wantType string
		wantKey  string
	}{
		{name: "image generating", event: ShotProgress(domain.ResourceImage, 2, domain.JobStatusGenerating, nil, ""), wantType: TypeShotProgress},
		{name: "video complete", event: ShotProgress(domain.ResourceVideo, 2, domain.JobStatusComplete, asset, ""), wantType: TypeVideoProgress, wantKey: "video"},
		{name: "image error", event: ShotProgress(domain.ResourceImage, 2, domain.JobStatusError, nil, ""), wantType: TypeShotProgress, wantKey: "error_message"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.event["type"] != tc.wantType {
				t.Fatalf("type = %v", tc.event["type"])
			}
			if tc.wantKey != "" {
				if _, ok := tc.event[tc.wantKey]; !ok {
					t.Fatalf("missing %q in %v", tc.wantKey, tc.event)
				}
			}
		})
	}
	if msg := ShotProgress(domain.ResourceImage, 2, domain.JobStatusError, nil, "")["error_message"]; msg != "Unknown error" {
		t.Fatalf("default error message = %v", msg)
	}
}

func TestCompositionCompleteWithoutPath(t *testing.T) {
	ev := CompositionComplete(3, "")
	if v, ok := ev["video_path"]; !ok || v != nil {
		t.Fatalf("video_path = %v", v)
	}
}

func TestCompositionFailed(t *testing.T) {
	ev := CompositionFailed(3, "media processor failed")
	if ev["type"] != TypeCompositionComplete || ev["status"] != "error" || ev["error_message"] != "media processor failed" {
		t.Fatalf("event = %v", ev)
	}
	if v, ok := ev["video_path"]; !ok || v != nil {
		t.Fatalf("video_path = %v", v)
	}
	if CompositionFailed(3, "")["error_message"] != "Unknown error" {
		t.Fatal("empty reason should get a default")
	}
	if CompositionComplete(3, "composed/a.mp4")["status"] != "complete" {
		t.Fatal("successful composition should carry status complete")
	}
}
