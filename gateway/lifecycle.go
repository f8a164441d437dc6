package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/registry"
	"github.com/n9te9/federation-gateway/subgraph"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"golang.org/x/sync/errgroup"
)

// SubGraphState is a per-subgraph lifecycle state, tracked independently of
// whether the gateway as a whole currently has a usable composed schema.
type SubGraphState string

const (
	SubGraphInit    SubGraphState = "init"
	SubGraphHealthy SubGraphState = "healthy"
	SubGraphErrored SubGraphState = "errored"
	SubGraphClosed  SubGraphState = "closed"
)

// Gateway is the dynamic Gateway Core: it reconciles a registry.Registry
// against config.Services, composes an executionEngine from the resulting
// subgraph SDLs, and atomically hot-swaps that engine into schemaStore as
// subgraphs come and go or their schemas change on a polling interval.
type Gateway struct {
	config   GatewayConfig
	registry *registry.Registry
	pool     *subgraph.Pool

	store atomic.Value // *schemaStore

	states   map[string]SubGraphState
	statesMu sync.RWMutex

	onReplaceSchema ReplaceSchemaHook
	onResolution    ResolutionHook

	logger *slog.Logger
}

// NewDynamicGateway builds a Gateway Core from config. It does not fetch any
// subgraph SDL until Start is called.
func NewDynamicGateway(config GatewayConfig) *Gateway {
	pool := subgraph.NewPool(subgraph.TransportOptions{
		CallTimeout:   3 * time.Second,
		EnableTracing: config.Opentelemetry.TracingSetting.Enable,
	})

	return &Gateway{
		config:   config,
		registry: registry.NewRegistry(pool),
		pool:     pool,
		states:   make(map[string]SubGraphState),
		logger:   slog.Default(),
	}
}

// OnReplaceSchema registers a hook invoked after every successful schema swap.
func (g *Gateway) OnReplaceSchema(hook ReplaceSchemaHook) { g.onReplaceSchema = hook }

// OnResolution registers a hook invoked after every served operation with its
// per-Step collectors.
func (g *Gateway) OnResolution(hook ResolutionHook) { g.onResolution = hook }

func (g *Gateway) setState(name string, s SubGraphState) {
	g.statesMu.Lock()
	defer g.statesMu.Unlock()
	if g.states[name] != s {
		g.logger.Info("gateway: subgraph state transition", "subgraph", name, "state", string(s))
	}
	g.states[name] = s
}

// State returns the current lifecycle state of a registered subgraph.
func (g *Gateway) State(name string) SubGraphState {
	g.statesMu.RLock()
	defer g.statesMu.RUnlock()
	return g.states[name]
}

// Start registers config.Services, then retries building the initial composed
// schema up to retryServicesCount times (retryServicesInterval apart), and
// finally launches the background polling loop. It returns once the initial
// schema is ready or every retry attempt has been exhausted.
func (g *Gateway) Start(ctx context.Context) error {
	desired := make([]registry.Descriptor, 0, len(g.config.Services))
	for _, s := range g.config.Services {
		desired = append(desired, registry.Descriptor{
			Name:               s.Name,
			Host:               s.Host(),
			WSHost:             s.WSURL,
			Mandatory:          s.Mandatory,
			AllowBatching:      s.AllowBatchedQueries,
			RewriteHeader:      lookupHeaderRewrite(s.RewriteHeaders),
			SecureJSON:         s.SecureJSON,
			CollectStatusCodes: s.Collectors.CollectStatusCodes,
			CollectExtensions:  s.Collectors.CollectExtensions,
		})
		g.setState(s.Name, SubGraphInit)
	}

	if err := g.registry.Reconcile(ctx, desired); err != nil {
		return fmt.Errorf("gateway: initial reconcile failed: %w", err)
	}

	retryInterval := g.config.retryInterval()
	attempts := g.config.retryCount()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := g.refreshSchema(ctx); err != nil {
			lastErr = err
			g.logger.Warn("gateway: startup schema refresh failed", "attempt", attempt, "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryInterval):
			}
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		return fmt.Errorf("gateway: failed to build initial schema after %d attempt(s): %w", attempts, lastErr)
	}

	go g.pollLoop(ctx)

	return nil
}

// Reconcile re-diffs the registry against a fresh descriptor list (e.g. from a
// dynamic service-discovery provider) and recomposes the schema if anything changed.
func (g *Gateway) Reconcile(ctx context.Context, desired []registry.Descriptor) error {
	if err := g.registry.Reconcile(ctx, desired); err != nil {
		return err
	}
	return g.refreshSchema(ctx)
}

// refreshSchema fetches every registered subgraph's SDL concurrently, composes
// a new engine, and atomically swaps it into the store on success. A mandatory
// subgraph's fetch failure fails the whole refresh (NoValidServiceSDLs /
// SchemaInitIssues taxonomy); an optional one is simply excluded.
func (g *Gateway) refreshSchema(ctx context.Context) error {
	clients := g.registry.Snapshot()

	sdls := make(map[string]string, len(clients))
	hosts := make(map[string]string, len(clients))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	for name, client := range clients {
		name, client := name, client
		eg.Go(func() error {
			sdl, err := fetchSDL(client.Host, client.HTTPClient, RetryOption{Attempts: 3, Timeout: "5s"})
			if err != nil {
				g.setState(name, SubGraphErrored)
				if client.Mandatory {
					return fmt.Errorf("mandatory subgraph %q: %w", name, err)
				}
				g.logger.Warn("gateway: optional subgraph SDL fetch failed, excluding from schema", "subgraph", name, "error", err)
				return nil
			}

			client.SetSDL(sdl, "")
			g.setState(name, SubGraphHealthy)

			mu.Lock()
			sdls[name] = sdl
			hosts[name] = client.Host
			mu.Unlock()

			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
				return nil
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	if len(sdls) == 0 {
		return fmt.Errorf("gateway: no valid service SDLs")
	}

	engine, err := buildEngine(sdls, hosts, clients)
	if err != nil {
		return fmt.Errorf("gateway: schema composition failed: %w", err)
	}

	var oldSuperGraph *graph.SuperGraph
	if old, ok := g.store.Load().(*schemaStore); ok && old != nil {
		oldSuperGraph = old.engine.superGraph
	}

	g.store.Store(&schemaStore{sdls: copyMap(sdls), hosts: copyMap(hosts), engine: engine})

	if g.onReplaceSchema != nil {
		g.onReplaceSchema(oldSuperGraph, engine.superGraph)
	}

	return nil
}

// pollLoop re-runs refreshSchema on config.PollingInterval until ctx is done.
func (g *Gateway) pollLoop(ctx context.Context) {
	interval := g.config.pollingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.refreshSchema(ctx); err != nil {
				g.logger.Error("gateway: polling schema refresh failed", "error", err)
			}
		}
	}
}

// ServeHTTP executes one GraphQL request against the currently active engine.
// A WebSocket upgrade carrying the graphql-transport-ws/graphql-ws subprotocol
// is routed to serveSubscription instead of the regular POST/JSON path.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isSubscriptionUpgrade(r) {
		g.serveSubscription(w, r)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	store, _ := g.store.Load().(*schemaStore)
	if store == nil || store.engine == nil {
		http.Error(w, "gateway: schema not yet ready", http.StatusServiceUnavailable)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := executor.SetRequestHeaderToContext(r.Context(), r.Header)

	l := lexer.New(req.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		g.writeErrors(w, p.Errors())
		return
	}

	if err := validateAccessibility(store.engine.superGraph, doc); err != nil {
		g.writeErrors(w, []string{err.Error()})
		return
	}

	var collect func() []executor.StepCollector
	if g.onResolution != nil {
		ctx, collect = executor.WithCollectors(ctx)
	}

	plan, err := store.engine.planner.Plan(doc, req.Variables)
	if err != nil {
		g.writeErrors(w, []string{err.Error()})
		return
	}

	resp, err := store.engine.executor.Execute(ctx, plan, req.Variables)
	if err != nil {
		g.writeErrors(w, []string{err.Error()})
		return
	}

	if collect != nil {
		g.onResolution(r.Context(), collect())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) writeErrors(w http.ResponseWriter, errs interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"errors": errs})
}

// Shutdown marks every registered subgraph closed and releases pooled connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	for _, client := range g.registry.Snapshot() {
		g.setState(client.Name, SubGraphClosed)
		if err := client.Close(); err != nil {
			g.logger.Warn("gateway: error closing subgraph client", "subgraph", client.Name, "error", err)
		}
	}
	g.pool.Close()
	return nil
}
