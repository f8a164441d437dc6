package subgraph

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// batchCall is one caller's pending execute() request, queued until the current
// coalescing window flushes.
type batchCall struct {
	id        string
	query     string
	variables map[string]interface{}
	headers   http.Header
	resultCh  chan batchResult
}

type batchResult struct {
	data       map[string]interface{}
	statusCode int
	err        error
}

// BatchCoalescer merges concurrent Execute calls arriving within one tick into a
// single JSON-array POST to the subgraph, demultiplexing replies back to callers
// by their position in the array. Mirrors a Node event-loop tick via a zero-delay
// goroutine dispatch: the first call in a window starts the flush goroutine, and
// every call queued before that goroutine takes the lock rides the same flush.
type BatchCoalescer struct {
	host   string
	client *http.Client

	mu      sync.Mutex
	pending []*batchCall
	armed   bool
}

func NewBatchCoalescer(host string, client *http.Client) *BatchCoalescer {
	return &BatchCoalescer{
		host:   host,
		client: client,
	}
}

// Execute enqueues one GraphQL call and blocks until its slot in the next batch
// flush resolves, or ctx is done first. The shared outbound request of a flush
// carries the headers of the first call queued in it; the headers of the other
// calls in that flush are not sent.
func (b *BatchCoalescer) Execute(ctx context.Context, query string, variables map[string]interface{}, headers http.Header) (map[string]interface{}, int, error) {
	call := &batchCall{
		id:        uuid.NewString(),
		query:     query,
		variables: variables,
		headers:   headers,
		resultCh:  make(chan batchResult, 1),
	}

	b.mu.Lock()
	b.pending = append(b.pending, call)
	shouldFlush := !b.armed
	b.armed = true
	b.mu.Unlock()

	if shouldFlush {
		go b.flush()
	}

	select {
	case res := <-call.resultCh:
		return res.data, res.statusCode, res.err
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (b *BatchCoalescer) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.armed = false
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	body := make([]map[string]interface{}, len(batch))
	for i, call := range batch {
		entry := map[string]interface{}{"query": call.query}
		if len(call.variables) > 0 {
			entry["variables"] = call.variables
		}
		body[i] = entry
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		b.failAll(batch, fmt.Errorf("failed to marshal batch request: %w", err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, b.host, bytes.NewReader(bodyBytes))
	if err != nil {
		b.failAll(batch, fmt.Errorf("failed to build batch request: %w", err))
		return
	}
	if batch[0].headers != nil {
		req.Header = batch[0].headers
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.failAll(batch, fmt.Errorf("batch request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	var results []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		b.failAll(batch, fmt.Errorf("failed to decode batch response: %w", err))
		return
	}

	for i, call := range batch {
		if i >= len(results) {
			call.resultCh <- batchResult{statusCode: resp.StatusCode, err: fmt.Errorf("no response for batched call at index %d", i)}
			continue
		}
		call.resultCh <- batchResult{data: results[i], statusCode: resp.StatusCode}
	}
}

func (b *BatchCoalescer) failAll(batch []*batchCall, err error) {
	for _, call := range batch {
		call.resultCh <- batchResult{err: err}
	}
}
