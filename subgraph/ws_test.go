package subgraph_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/n9te9/federation-gateway/subgraph"
)

// TestSubscriber_Subscribe runs a minimal graphql-transport-ws server and
// verifies Subscribe delivers the `next` payloads it emits and closes cleanly
// on `complete`.
func TestSubscriber_Subscribe(t *testing.T) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"graphql-transport-ws"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var init map[string]interface{}
		if err := conn.ReadJSON(&init); err != nil || init["type"] != "connection_init" {
			t.Errorf("expected connection_init, got %+v, err=%v", init, err)
			return
		}

		var sub struct {
			ID   string          `json:"id"`
			Type string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
			t.Errorf("expected subscribe, got %+v, err=%v", sub, err)
			return
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"data": map[string]interface{}{"count": 1},
		})
		conn.WriteJSON(map[string]interface{}{"id": sub.ID, "type": "next", "payload": json.RawMessage(payload)})
		conn.WriteJSON(map[string]interface{}{"id": sub.ID, "type": "complete"})
	}))
	defer server.Close()

	wsHost := "ws" + strings.TrimPrefix(server.URL, "http")
	sub := subgraph.NewSubscriber(wsHost)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, errCh := sub.Subscribe(ctx, "subscription { count }", nil)

	select {
	case data, ok := <-out:
		if !ok {
			t.Fatal("expected a next payload, channel closed immediately")
		}
		if data["count"] != float64(1) {
			t.Errorf("unexpected payload: %+v", data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for next payload")
	}

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected out to close after complete")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for out to close")
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("expected no terminal error on clean complete, got %v", err)
		}
	default:
	}
}
