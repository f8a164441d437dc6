// Package registry holds the gateway's live view of its subgraphs: which ones
// exist, their connection clients, and a pull-model Reconcile that brings that
// view in line with a freshly-fetched descriptor list.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/n9te9/federation-gateway/subgraph"
)

// Descriptor is one entry of a desired subgraph set, as returned by a static
// config list or a dynamic provider callback.
type Descriptor struct {
	Name          string
	Host          string
	WSHost        string
	Mandatory     bool
	AllowBatching bool

	RewriteHeader      func(http.Header, *http.Request)
	SecureJSON         bool
	CollectStatusCodes bool
	CollectExtensions  bool
}

// Registry diffs a desired Descriptor set against the subgraph.Clients it
// currently holds: new names are upserted, removed names are closed. The
// current set is read through an atomic.Value snapshot so ServeHTTP-path reads
// never block on a Reconcile in progress.
type Registry struct {
	pool *subgraph.Pool

	snapshot atomic.Value // map[string]*subgraph.Client
	mu       sync.Mutex   // serializes Reconcile calls

	logger *slog.Logger
}

func NewRegistry(pool *subgraph.Pool) *Registry {
	r := &Registry{
		pool:   pool,
		logger: slog.Default(),
	}
	r.snapshot.Store(make(map[string]*subgraph.Client))
	return r
}

// Snapshot returns the currently registered subgraph clients, keyed by name.
// The returned map must be treated as read-only.
func (r *Registry) Snapshot() map[string]*subgraph.Client {
	return r.snapshot.Load().(map[string]*subgraph.Client)
}

// Reconcile brings the registry's client set in line with desired. New names
// get a freshly-created subgraph.Client (SDL fetch is the caller's
// responsibility once Reconcile returns, via Client.SetSDL); removed names are
// closed. Close errors are logged and never propagated, per the registry's
// error taxonomy entry: a subgraph failing to close cleanly must not block the
// rest of reconciliation.
func (r *Registry) Reconcile(ctx context.Context, desired []Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Snapshot()
	next := make(map[string]*subgraph.Client, len(desired))

	for _, d := range desired {
		if d.Name == "" {
			return fmt.Errorf("registry: descriptor with empty name")
		}
		if existing, ok := current[d.Name]; ok {
			next[d.Name] = existing
			continue
		}

		client := subgraph.NewClient(d.Name, d.Host, d.WSHost, d.Mandatory, d.AllowBatching, r.pool)
		client.SetRewriteHeader(d.RewriteHeader)
		client.SetSecureJSON(d.SecureJSON)
		client.SetCollectors(d.CollectStatusCodes, d.CollectExtensions)
		next[d.Name] = client
		r.logger.Info("registry: registered subgraph", "name", d.Name, "host", d.Host)
	}

	for name, existing := range current {
		if _, stillWanted := next[name]; stillWanted {
			continue
		}
		if err := existing.Close(); err != nil {
			r.logger.Warn("registry: failed to close removed subgraph", "name", name, "error", err)
			continue
		}
		r.logger.Info("registry: removed subgraph", "name", name)
	}

	r.snapshot.Store(next)
	return nil
}

// Descriptors returns the currently registered set as a Descriptor slice,
// useful for building the next Reconcile call incrementally.
func (r *Registry) Descriptors() []Descriptor {
	current := r.Snapshot()
	out := make([]Descriptor, 0, len(current))
	for _, c := range current {
		out = append(out, Descriptor{
			Name:               c.Name,
			Host:               c.Host,
			WSHost:             c.WSHost,
			Mandatory:          c.Mandatory,
			AllowBatching:      c.AllowBatching,
			RewriteHeader:      c.RewriteHeaderFunc(),
			SecureJSON:         c.SecureJSON(),
			CollectStatusCodes: c.CollectStatus(),
			CollectExtensions:  c.CollectExtensions(),
		})
	}
	return out
}
