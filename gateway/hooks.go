package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/federation/graph"
)

// ReplaceSchemaHook runs whenever the Gateway Core swaps in a newly composed
// SuperGraph, e.g. after a successful polling-loop refresh. old is nil on the
// very first composition.
type ReplaceSchemaHook func(old, new *graph.SuperGraph)

// ResolutionHook runs once per completed operation with the per-Step
// collectors the executor recorded, letting a host emit metrics or logs.
type ResolutionHook func(ctx context.Context, collectors []executor.StepCollector)

// HeaderRewriteFunc mutates an outbound subgraph request's headers before it is sent.
type HeaderRewriteFunc func(h http.Header, r *http.Request)

var (
	headerRewriteMu       sync.RWMutex
	headerRewriteRegistry = map[string]HeaderRewriteFunc{}
)

// RegisterHeaderRewrite names a HeaderRewriteFunc so a ServiceConfig's
// rewriteHeaders field can reference it by name instead of by Go identifier.
func RegisterHeaderRewrite(name string, fn HeaderRewriteFunc) {
	headerRewriteMu.Lock()
	defer headerRewriteMu.Unlock()
	headerRewriteRegistry[name] = fn
}

func lookupHeaderRewrite(name string) HeaderRewriteFunc {
	if name == "" {
		return nil
	}
	headerRewriteMu.RLock()
	defer headerRewriteMu.RUnlock()
	return headerRewriteRegistry[name]
}
