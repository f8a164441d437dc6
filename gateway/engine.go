package gateway

import (
	"fmt"
	"sort"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/subgraph"
)

// executionEngine bundles all read-only components required to serve GraphQL requests.
type executionEngine struct {
	planner    *planner.Planner
	executor   *executor.Executor
	superGraph *graph.SuperGraph
}

// schemaStore holds the current set of raw SDLs, host URLs, and the pre-built engine.
// It is stored in atomic.Value, so every value must be read-only after it is constructed.
type schemaStore struct {
	sdls   map[string]string // subgraph name → SDL string
	hosts  map[string]string // subgraph name → base URL
	engine *executionEngine
}

// buildEngine composes a new SuperGraph from the given SDLs and host map, then wraps it
// in an executionEngine together with a Planner and Executor. Subgraphs are processed in
// sorted name order so Step IDs stay deterministic across reconciliations of the same set.
// clients lets the Executor route each Step's request through its subgraph's own
// Client (batching, header rewrite, secure JSON, collectors) instead of a shared one.
func buildEngine(sdls, hosts map[string]string, clients map[string]*subgraph.Client) (*executionEngine, error) {
	names := make([]string, 0, len(sdls))
	for name := range sdls {
		names = append(names, name)
	}
	sort.Strings(names)

	subGraphs := make([]*graph.SubGraph, 0, len(names))
	for _, name := range names {
		sg, err := graph.NewSubGraph(name, []byte(sdls[name]), hosts[name])
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", name, err)
		}
		subGraphs = append(subGraphs, sg)
	}

	superGraph, err := graph.NewSuperGraph(subGraphs)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	return &executionEngine{
		planner:    planner.NewPlanner(superGraph),
		executor:   executor.NewExecutor(clients, superGraph),
		superGraph: superGraph,
	}, nil
}

// copyMap returns a shallow copy of a string map.
func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
