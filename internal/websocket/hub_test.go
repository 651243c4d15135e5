package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matchcast/backend/internal/auth"
	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/events"
	"github.com/matchcast/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

func eventFor(org string) []byte {
	b := models.NewBroadcast("match", org, "key", time.Now())
	data, _ := json.Marshal(events.FromBroadcast(events.BroadcastStarted, b, "publish", time.Now()))
	return data
}

func TestHubDeliverFiltersByOrganization(t *testing.T) {
	h := NewHub(nil, "")

	orgA := &Client{organizationID: "org-a", send: make(chan []byte, 4)}
	orgB := &Client{organizationID: "org-b", send: make(chan []byte, 4)}
	all := &Client{send: make(chan []byte, 4)}
	for _, c := range []*Client{orgA, orgB, all} {
		h.clients[c] = struct{}{}
	}

	h.deliver(context.Background(), eventFor("org-a"))

	if len(orgA.send) != 1 {
		t.Errorf("Expected org-a client to receive the event")
	}
	if len(orgB.send) != 0 {
		t.Errorf("Expected org-b client to receive nothing")
	}
	if len(all.send) != 1 {
		t.Errorf("Expected unscoped client to receive the event")
	}
}

func TestHubDeliverDropsSlowClient(t *testing.T) {
	h := NewHub(nil, "")
	slow := &Client{send: make(chan []byte)}
	h.clients[slow] = struct{}{}

	h.deliver(context.Background(), eventFor("org"))

	if h.ClientCount() != 0 {
		t.Fatal("Expected slow client to be dropped")
	}
	if _, ok := <-slow.send; ok {
		t.Error("Expected send channel closed")
	}
}

func TestHubDeliverIgnoresMalformed(t *testing.T) {
	h := NewHub(nil, "")
	c := &Client{send: make(chan []byte, 1)}
	h.clients[c] = struct{}{}

	h.deliver(context.Background(), []byte("not json"))
	if len(c.send) != 0 {
		t.Error("malformed payload must not be delivered")
	}
}

func TestHubRelaysRedisEvents(t *testing.T) {
	m := miniredis.RunT(t)
	rc := cache.WrapClient(redis.NewClient(&redis.Options{Addr: m.Addr()}))
	t.Cleanup(func() { rc.Close() })

	h := NewHub(rc, "broadcast-events")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := &Client{hub: h, organizationID: "org-r", send: make(chan []byte, 4)}
	if !h.Register(c) {
		t.Fatal("hub refused client")
	}

	waitFor(t, func() bool { return m.PubSubNumSub("broadcast-events")["broadcast-events"] == 1 })

	pub := events.NewRedisPublisher(rc, "broadcast-events")
	b := models.NewBroadcast("match", "org-r", "key", time.Now())
	if err := pub.Publish(ctx, events.FromBroadcast(events.BroadcastCancelled, b, "manual", time.Now())); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-c.send:
		var got events.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != events.BroadcastCancelled || got.BroadcastID != b.ID {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
	}
}

func TestHandleWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtService := auth.NewJWTService("ws-secret", 1)
	h := NewHub(nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	router := gin.New()
	router.GET("/ws/broadcasts", NewHandler(h, jwtService, nil).HandleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/broadcasts"

	scoped, _ := jwtService.GenerateToken(uuid.New(), "ops@example.com", "org-1")

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base, nil)
		if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %v %v", resp, err)
		}
	})

	t.Run("foreign organization", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"?token="+scoped+"&organization_id=org-2", nil)
		if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("Expected 403, got %v %v", resp, err)
		}
	})

	t.Run("receives events", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+scoped, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		waitFor(t, func() bool { return h.ClientCount() == 1 })
		h.incoming <- eventFor("org-2")
		h.incoming <- eventFor("org-1")

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var got events.Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.OrganizationID != "org-1" {
			t.Errorf("Expected only org-1 events, got %s", got.OrganizationID)
		}
	})
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern string
		origin  string
		want    bool
	}{
		{"https://app.example.com", "https://app.example.com", true},
		{"*.example.com", "https://ops.example.com", true},
		{"*.example.com", "https://badexample.com", false},
		{"https://app.example.com", "https://evil.com", false},
	}
	for _, tt := range tests {
		if got := matchOrigin(tt.pattern, tt.origin); got != tt.want {
			t.Errorf("matchOrigin(%q, %q) = %v, want %v", tt.pattern, tt.origin, got, tt.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHubStopped_RegisterAndUnregisterReturn(t *testing.T) {
	h := NewHub(nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	live := &Client{hub: h, send: make(chan []byte, 1)}
	if !h.Register(live) {
		t.Fatal("hub refused client while running")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	returned := make(chan bool, 1)
	go func() {
		late := &Client{hub: h, send: make(chan []byte, 1)}
		ok := h.Register(late)
		h.Unregister(live)
		h.Unregister(late)
		returned <- ok
	}()
	select {
	case ok := <-returned:
		if ok {
			t.Error("Expected Register to refuse clients after the hub stopped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Register/Unregister blocked after the hub stopped")
	}
}
