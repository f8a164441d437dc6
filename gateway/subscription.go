package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

var subscriptionUpgrader = websocket.Upgrader{
	Subprotocols: []string{"graphql-transport-ws", "graphql-ws"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// subscriptionMessage is one graphql-transport-ws protocol frame.
type subscriptionMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribeRequestPayload struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// isSubscriptionUpgrade reports whether r asks to upgrade to a WebSocket
// connection, the transport every Subscription operation arrives over.
func isSubscriptionUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// safeConn serializes writes to a *websocket.Conn: gorilla's Conn permits one
// concurrent reader and one concurrent writer, but serveSubscription can have
// several in-flight subscriptions writing to the same connection at once.
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *safeConn) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// serveSubscription upgrades r to a WebSocket and speaks the
// graphql-transport-ws protocol: every client "subscribe" message is routed to
// whichever subgraph owns the requested Subscription root field, and every
// value that subgraph emits is forwarded back as a "next" message.
func (g *Gateway) serveSubscription(w http.ResponseWriter, r *http.Request) {
	conn, err := subscriptionUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("gateway: subscription upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sc := &safeConn{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var msg subscriptionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "connection_init":
			if err := sc.writeJSON(subscriptionMessage{Type: "connection_ack"}); err != nil {
				return
			}
		case "subscribe":
			var payload subscribeRequestPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				g.writeSubscriptionError(sc, msg.ID, err)
				continue
			}
			wg.Add(1)
			go func(id string, payload subscribeRequestPayload) {
				defer wg.Done()
				g.runSubscription(ctx, sc, id, payload)
			}(msg.ID, payload)
		case "complete":
			return
		}
	}
}

// runSubscription resolves the subgraph owning payload's root field and
// streams its emitted values back over sc as "next" messages until the
// subgraph completes, errors, or ctx is done.
func (g *Gateway) runSubscription(ctx context.Context, sc *safeConn, id string, payload subscribeRequestPayload) {
	store, _ := g.store.Load().(*schemaStore)
	if store == nil || store.engine == nil {
		g.writeSubscriptionError(sc, id, fmt.Errorf("gateway: schema not yet ready"))
		return
	}

	l := lexer.New(payload.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		g.writeSubscriptionError(sc, id, fmt.Errorf("%v", p.Errors()))
		return
	}

	fieldName, err := subscriptionRootField(doc)
	if err != nil {
		g.writeSubscriptionError(sc, id, err)
		return
	}

	subGraph := store.engine.superGraph.GetFieldOwnerSubGraph("Subscription", fieldName)
	if subGraph == nil {
		g.writeSubscriptionError(sc, id, fmt.Errorf("gateway: no subgraph owns Subscription field %q", fieldName))
		return
	}

	client := g.registry.Snapshot()[subGraph.Name]
	if client == nil || client.Subscriber == nil {
		g.writeSubscriptionError(sc, id, fmt.Errorf("gateway: subgraph %q has no subscription transport", subGraph.Name))
		return
	}

	data, errs := client.Subscriber.Subscribe(ctx, payload.Query, payload.Variables)
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-data:
			if !ok {
				sc.writeJSON(subscriptionMessage{ID: id, Type: "complete"})
				return
			}
			body, err := json.Marshal(map[string]interface{}{"data": next})
			if err != nil {
				continue
			}
			if err := sc.writeJSON(subscriptionMessage{ID: id, Type: "next", Payload: body}); err != nil {
				return
			}
		case err, ok := <-errs:
			if ok && err != nil {
				g.writeSubscriptionError(sc, id, err)
			}
			return
		}
	}
}

func (g *Gateway) writeSubscriptionError(sc *safeConn, id string, err error) {
	body, _ := json.Marshal([]map[string]interface{}{{"message": err.Error()}})
	sc.writeJSON(subscriptionMessage{ID: id, Type: "error", Payload: body})
}

// subscriptionRootField returns the single root field name of doc's
// Subscription operation.
func subscriptionRootField(doc *ast.Document) (string, error) {
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok || op.Operation != ast.Subscription {
			continue
		}
		for _, sel := range op.SelectionSet {
			if field, ok := sel.(*ast.Field); ok {
				return field.Name.String(), nil
			}
		}
		return "", fmt.Errorf("gateway: subscription operation has no root field")
	}
	return "", fmt.Errorf("gateway: document has no subscription operation")
}
