package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/brendan721/flipsync-agents/internal/realtime"
)

func TestWebsocketStreamsBroadcastEvents(t *testing.T) {
	bc := realtime.New()
	h := NewHandler(bc, nil)

	r := chi.NewRouter()
	h.Mount(r)
	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/conversations/c1"
	dialer := websocket.Dialer{}
	wsConn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer wsConn.Close()

	// Give the handler a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)

	bc.SendMessage("c1", map[string]string{"text": "hello"})

	_ = wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	if err := wsConn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["event_type"] != "message" {
		t.Fatalf("expected message event, got %+v", got)
	}
	if got["conversation_id"] != "c1" {
		t.Fatalf("expected conversation_id c1, got %+v", got)
	}
}
