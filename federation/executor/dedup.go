package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

// entityCacheEntry holds the fields fetched so far for one entity key, accumulated across
// every Step of a single Execute call that has resolved that entity.
type entityCacheEntry map[string]interface{}

// repCacheKey builds a stable cache key from a representation's __typename and key field
// values, independent of map iteration order.
func repCacheKey(rep map[string]interface{}) string {
	keys := make([]string, 0, len(rep))
	for k := range rep {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		fmt.Fprintf(&sb, "%v", rep[k])
		sb.WriteString("|")
	}
	return sb.String()
}

// requestedFieldNames returns the field names (aliases where set) a Step's top-level
// SelectionSet asks for, key fields included and __typename excluded, used to decide
// whether a cached entity already satisfies a step.
func requestedFieldNames(step *planner.Step) []string {
	names := make([]string, 0, len(step.SelectionSet))
	for _, sel := range step.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if name == "__typename" {
			continue
		}
		lookup := name
		if field.Alias != nil && field.Alias.String() != "" {
			lookup = field.Alias.String()
		}
		names = append(names, lookup)
	}
	return names
}

func cacheSatisfies(entry entityCacheEntry, fields []string) bool {
	for _, f := range fields {
		if _, ok := entry[f]; !ok {
			return false
		}
	}
	return true
}

// planEntityLookups partitions a Step's representations into the unique set that must
// still be fetched from the subgraph (deduplicated, and excluded when the execution-wide
// cache already has every field this Step needs) and a parallel per-representation cache
// key used to reassemble the full, in-order entity list once fetching completes.
func (execCtx *ExecutionContext) planEntityLookups(step *planner.Step, reps []map[string]interface{}) (toFetch []map[string]interface{}, keys []string) {
	fields := requestedFieldNames(step)
	keys = make([]string, len(reps))
	seenToFetch := make(map[string]bool)

	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	for i, rep := range reps {
		key := repCacheKey(rep)
		keys[i] = key

		if entry, ok := execCtx.entityCache[key]; ok && cacheSatisfies(entry, fields) {
			continue // fully served from cache
		}
		if !seenToFetch[key] {
			seenToFetch[key] = true
			toFetch = append(toFetch, rep)
		}
	}
	return toFetch, keys
}

// recordEntityResults merges freshly fetched entity field data into the execution-wide
// cache, keyed by the representation that produced each entity (fetched reps and
// entities are positionally aligned, mirroring how representations were sent).
func (execCtx *ExecutionContext) recordEntityResults(fetchedReps []map[string]interface{}, entities []interface{}) {
	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	if execCtx.entityCache == nil {
		execCtx.entityCache = make(map[string]entityCacheEntry)
	}

	for i, rep := range fetchedReps {
		if i >= len(entities) {
			break
		}
		entityMap, ok := entities[i].(map[string]interface{})
		if !ok {
			continue
		}
		key := repCacheKey(rep)
		entry, exists := execCtx.entityCache[key]
		if !exists {
			entry = make(entityCacheEntry)
			execCtx.entityCache[key] = entry
		}
		for k, v := range entityMap {
			entry[k] = v
		}
	}
}

// assembleEntities reconstructs the full, in-order entity list for a Step's
// representations from the execution-wide cache, once every needed key is present.
func (execCtx *ExecutionContext) assembleEntities(keys []string) []interface{} {
	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	result := make([]interface{}, len(keys))
	for i, key := range keys {
		if entry, ok := execCtx.entityCache[key]; ok {
			copied := make(map[string]interface{}, len(entry))
			for k, v := range entry {
				copied[k] = v
			}
			result[i] = copied
		}
	}
	return result
}
