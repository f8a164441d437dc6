package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/n9te9/federation-gateway/gateway"
)

// TestDynamicGateway_ServeSubscription builds a gateway with one subgraph
// that owns a Subscription field and a graphql-transport-ws server behind
// it, then dials the gateway itself over WebSocket and verifies a
// "subscribe" message is proxied through to the subgraph and its emitted
// value comes back as a "next" frame.
func TestDynamicGateway_ServeSubscription(t *testing.T) {
	const sdl = `
type Query {
	ping: String
}

type Subscription {
	countUpdated: Int
}`

	upgrader := websocket.Upgrader{
		Subprotocols: []string{"graphql-transport-ws"},
	}

	subgraphWS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("subgraph upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var init map[string]interface{}
		if err := conn.ReadJSON(&init); err != nil || init["type"] != "connection_init" {
			t.Errorf("expected connection_init, got %+v, err=%v", init, err)
			return
		}

		var sub struct {
			ID      string          `json:"id"`
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
			t.Errorf("expected subscribe, got %+v, err=%v", sub, err)
			return
		}

		payload, _ := json.Marshal(map[string]interface{}{"countUpdated": 7})
		conn.WriteJSON(map[string]interface{}{"id": sub.ID, "type": "next", "payload": json.RawMessage(payload)})
		conn.WriteJSON(map[string]interface{}{"id": sub.ID, "type": "complete"})
	}))
	defer subgraphWS.Close()

	subgraphHTTP := httptest.NewServer(sdlHandler(sdl))
	defer subgraphHTTP.Close()

	wsHost := "ws" + strings.TrimPrefix(subgraphWS.URL, "http")

	config := gateway.GatewayConfig{
		ServiceName: "test-gateway",
		Services: []gateway.ServiceConfig{
			{Name: "counters", URLs: []string{subgraphHTTP.URL}, WSURL: wsHost, Mandatory: true},
		},
		RetryServicesCount:    1,
		RetryServicesInterval: "10ms",
		PollingInterval:       "1h",
	}

	gw := gateway.NewDynamicGateway(config)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	gwServer := httptest.NewServer(gw)
	defer gwServer.Close()

	gwWSHost := "ws" + strings.TrimPrefix(gwServer.URL, "http")
	dialer := websocket.Dialer{Subprotocols: []string{"graphql-transport-ws"}}
	conn, _, err := dialer.Dial(gwWSHost, nil)
	if err != nil {
		t.Fatalf("failed to dial gateway subscription endpoint: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"type": "connection_init"}); err != nil {
		t.Fatalf("failed to send connection_init: %v", err)
	}

	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil || ack["type"] != "connection_ack" {
		t.Fatalf("expected connection_ack, got %+v, err=%v", ack, err)
	}

	if err := conn.WriteJSON(map[string]interface{}{
		"id":   "sub-1",
		"type": "subscribe",
		"payload": map[string]interface{}{
			"query": "subscription { countUpdated }",
		},
	}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	var next struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("failed to read next frame: %v", err)
	}
	if next.Type != "next" || next.ID != "sub-1" {
		t.Fatalf("expected next frame for sub-1, got %+v", next)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(next.Payload, &data); err != nil {
		t.Fatalf("failed to decode next payload: %v", err)
	}
	if data["data"] == nil {
		t.Fatalf("expected a data envelope in next payload, got %+v", data)
	}
}
