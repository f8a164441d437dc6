// Package subgraph holds the gateway's outbound connections to a federated subgraph:
// a pooled HTTP client, an optional batching coalescer, and a subscription
// transport, grouped behind a single Client the registry creates, monitors,
// and closes.
package subgraph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Status is the lifecycle state of a subgraph connection.
type Status string

const (
	StatusInit    Status = "init"
	StatusHealthy Status = "healthy"
	StatusErrored Status = "errored"
	StatusClosed  Status = "closed"
)

// TransportOptions tunes the *http.Transport every pooled client shares the shape of.
type TransportOptions struct {
	CallTimeout         time.Duration
	KeepAliveTimeout    time.Duration
	KeepAliveMaxTimeout time.Duration
	EnableTracing       bool
}

// Pool hands out one *http.Client per subgraph name, built once and reused for
// the lifetime of the process so connections are kept warm across reconciliations.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*http.Client
	opts    TransportOptions
}

func NewPool(opts TransportOptions) *Pool {
	return &Pool{
		clients: make(map[string]*http.Client),
		opts:    opts,
	}
}

// Client returns the pooled *http.Client for name, creating it on first use.
func (p *Pool) Client(name string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[name]; ok {
		return c
	}

	var transport http.RoundTripper = &http.Transport{
		IdleConnTimeout:       p.opts.KeepAliveTimeout,
		ResponseHeaderTimeout: p.opts.KeepAliveMaxTimeout,
	}
	if p.opts.EnableTracing {
		transport = otelhttp.NewTransport(transport)
	}

	c := &http.Client{
		Timeout:   p.opts.CallTimeout,
		Transport: transport,
	}
	p.clients[name] = c
	return c
}

// Close releases the idle connections for every client the pool created.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.CloseIdleConnections()
	}
}

// Client is the gateway's live connection to one subgraph: an HTTP client for
// queries/mutations, an optional batching coalescer, and the SDL it last fetched.
type Client struct {
	Name          string
	Host          string
	WSHost        string
	Mandatory     bool
	AllowBatching bool

	HTTPClient *http.Client
	Batcher    *BatchCoalescer
	Subscriber *Subscriber

	mu      sync.RWMutex
	status  Status
	sdl     string
	sdlHash string

	rewriteHeader     func(http.Header, *http.Request)
	secureJSON        bool
	collectStatus     bool
	collectExtensions bool
}

// NewClient builds a Client backed by pool's shared HTTP client, wiring up a
// BatchCoalescer when allowBatching is set and a Subscriber when wsHost is non-empty.
func NewClient(name, host, wsHost string, mandatory, allowBatching bool, pool *Pool) *Client {
	httpClient := pool.Client(name)

	c := &Client{
		Name:          name,
		Host:          host,
		WSHost:        wsHost,
		Mandatory:     mandatory,
		AllowBatching: allowBatching,
		HTTPClient:    httpClient,
		status:        StatusInit,
	}

	if allowBatching {
		c.Batcher = NewBatchCoalescer(host, httpClient)
	}
	if wsHost != "" {
		c.Subscriber = NewSubscriber(wsHost)
	}

	return c
}

// SetRewriteHeader configures a function called with the outbound request's
// headers (pre-populated with the forwarded inbound set) and the request
// itself; its mutations to the header become the outbound set.
func (c *Client) SetRewriteHeader(fn func(http.Header, *http.Request)) { c.rewriteHeader = fn }

// RewriteHeaderFunc returns the configured header rewriter, or nil.
func (c *Client) RewriteHeaderFunc() func(http.Header, *http.Request) { return c.rewriteHeader }

// SetSecureJSON configures whether direct (unbatched) responses are decoded via
// DecodeSecure instead of a plain json.Unmarshal; batched responses from the
// BatchCoalescer are always decoded without it.
func (c *Client) SetSecureJSON(v bool) { c.secureJSON = v }

// SecureJSON reports whether secure JSON decoding is configured.
func (c *Client) SecureJSON() bool { return c.secureJSON }

// SetCollectors configures whether the executor's per-Step collector records the
// subgraph's HTTP status code and response extensions; Execute itself always
// returns the status code.
func (c *Client) SetCollectors(collectStatus, collectExtensions bool) {
	c.collectStatus = collectStatus
	c.collectExtensions = collectExtensions
}

// CollectStatus reports whether the subgraph's HTTP status code should be collected.
func (c *Client) CollectStatus() bool { return c.collectStatus }

// CollectExtensions reports whether the subgraph response's extensions should be collected.
func (c *Client) CollectExtensions() bool { return c.collectExtensions }

// Execute sends one GraphQL call to the subgraph, through the BatchCoalescer
// when batching is enabled and a direct POST otherwise, returning the decoded
// response body alongside the subgraph's HTTP status code. A non-2xx status is
// not itself an error: the body is still parsed and returned.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]interface{}, forwarded http.Header) (map[string]interface{}, int, error) {
	headers, err := c.buildOutboundHeaders(ctx, forwarded)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build outbound headers: %w", err)
	}

	if c.AllowBatching && c.Batcher != nil {
		return c.Batcher.Execute(ctx, query, variables, headers)
	}
	return c.doSend(ctx, query, variables, headers)
}

// buildOutboundHeaders clones forwarded onto a throwaway request so
// rewriteHeader (if configured) can mutate it with the same signature a
// caller would use against a real outbound request.
func (c *Client) buildOutboundHeaders(ctx context.Context, forwarded http.Header) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range forwarded {
		req.Header[k] = append([]string(nil), v...)
	}
	if c.rewriteHeader != nil {
		c.rewriteHeader(req.Header, req)
	}
	return req.Header, nil
}

// doSend issues a single, unbatched GraphQL POST.
func (c *Client) doSend(ctx context.Context, query string, variables map[string]interface{}, headers http.Header) (map[string]interface{}, int, error) {
	reqBody := map[string]interface{}{"query": query}
	if len(variables) > 0 {
		reqBody["variables"] = variables
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	var result map[string]interface{}
	if c.secureJSON {
		err = DecodeSecure(respBody, &result)
	} else {
		err = json.Unmarshal(respBody, &result)
	}
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return result, resp.StatusCode, nil
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// SDL returns the most recently fetched SDL and its hash.
func (c *Client) SDL() (sdl, hash string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sdl, c.sdlHash
}

func (c *Client) SetSDL(sdl, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sdl = sdl
	c.sdlHash = hash
}

// Close marks the client closed. The underlying *http.Client is pool-owned and is
// not torn down here; Pool.Close handles that for every client at once.
func (c *Client) Close() error {
	c.SetStatus(StatusClosed)
	return nil
}
