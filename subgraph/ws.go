package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsMessage is one graphql-transport-ws protocol frame.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type nextPayload struct {
	Data   map[string]interface{} `json:"data"`
	Errors []interface{}          `json:"errors,omitempty"`
}

// Subscriber maintains a persistent graphql-transport-ws connection to one
// subgraph, reconnecting with exponential backoff whenever the connection drops.
type Subscriber struct {
	host   string
	dialer *websocket.Dialer
}

func NewSubscriber(wsHost string) *Subscriber {
	return &Subscriber{
		host: wsHost,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{"graphql-transport-ws", "graphql-ws"},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Subscribe starts (or resumes, across reconnects) a subscription and streams
// `next` payloads on the returned channel. Both channels close once ctx is done
// or the subgraph sends `complete`; a terminal error is sent on the error channel.
func (s *Subscriber) Subscribe(ctx context.Context, query string, variables map[string]interface{}) (<-chan map[string]interface{}, <-chan error) {
	out := make(chan map[string]interface{})
	errCh := make(chan error, 1)

	go s.run(ctx, query, variables, out, errCh)

	return out, errCh
}

func (s *Subscriber) run(ctx context.Context, query string, variables map[string]interface{}, out chan<- map[string]interface{}, errCh chan<- error) {
	defer close(out)
	defer close(errCh)

	boff := backoff.NewExponentialBackOff()

	for {
		conn, _, err := s.dialer.DialContext(ctx, s.host, nil)
		if err != nil {
			if !s.sleepOrDone(ctx, boff, err, errCh) {
				return
			}
			continue
		}

		streamErr := s.stream(ctx, conn, query, variables, out)
		conn.Close()

		if streamErr == nil {
			return // subgraph sent `complete`
		}
		if ctx.Err() != nil {
			return
		}
		if !s.sleepOrDone(ctx, boff, streamErr, errCh) {
			return
		}
	}
}

func (s *Subscriber) sleepOrDone(ctx context.Context, boff backoff.BackOff, lastErr error, errCh chan<- error) bool {
	wait := boff.NextBackOff()
	if wait == backoff.Stop {
		select {
		case errCh <- lastErr:
		default:
		}
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (s *Subscriber) stream(ctx context.Context, conn *websocket.Conn, query string, variables map[string]interface{}, out chan<- map[string]interface{}) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		return fmt.Errorf("connection_init failed: %w", err)
	}

	payload, err := json.Marshal(subscribePayload{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe payload: %w", err)
	}

	subID := uuid.NewString()
	if err := conn.WriteJSON(wsMessage{ID: subID, Type: "subscribe", Payload: payload}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		switch msg.Type {
		case "connection_ack", "ping", "pong":
			continue
		case "next":
			var next nextPayload
			if err := json.Unmarshal(msg.Payload, &next); err != nil {
				return fmt.Errorf("failed to decode next payload: %w", err)
			}
			select {
			case out <- next.Data:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "complete":
			return nil
		case "error":
			return fmt.Errorf("subgraph subscription error: %s", string(msg.Payload))
		}
	}
}
