package executor

import (
	"testing"

	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

func stepRequesting(fieldNames ...string) *planner.Step {
	sels := make([]ast.Selection, 0, len(fieldNames))
	for _, name := range fieldNames {
		sels = append(sels, &ast.Field{Name: &ast.Name{Value: name}})
	}
	return &planner.Step{SelectionSet: sels}
}

func TestRepCacheKey_StableAcrossFieldOrder(t *testing.T) {
	a := map[string]interface{}{"__typename": "Product", "id": "1"}
	b := map[string]interface{}{"id": "1", "__typename": "Product"}

	if repCacheKey(a) != repCacheKey(b) {
		t.Error("expected repCacheKey to be independent of map iteration order")
	}
}

func TestPlanEntityLookups_DeduplicatesAndSkipsFullyCached(t *testing.T) {
	execCtx := &ExecutionContext{
		entityCache: map[string]entityCacheEntry{},
	}

	step := stepRequesting("reviews")
	reps := []map[string]interface{}{
		{"__typename": "Product", "id": "1"},
		{"__typename": "Product", "id": "1"}, // duplicate of the first
		{"__typename": "Product", "id": "2"},
	}

	execCtx.entityCache[repCacheKey(reps[2])] = entityCacheEntry{"reviews": []interface{}{"cached"}}

	toFetch, keys := execCtx.planEntityLookups(step, reps)

	if len(keys) != 3 {
		t.Fatalf("expected 3 keys (one per representation), got %d", len(keys))
	}
	if len(toFetch) != 1 {
		t.Fatalf("expected 1 representation left to fetch (id=1, deduped, id=2 cached), got %d: %+v", len(toFetch), toFetch)
	}
	if toFetch[0]["id"] != "1" {
		t.Errorf("expected the deduped fetch to be for id=1, got %+v", toFetch[0])
	}
}

func TestRecordAndAssembleEntities_RoundTrips(t *testing.T) {
	execCtx := &ExecutionContext{}

	reps := []map[string]interface{}{
		{"__typename": "Product", "id": "1"},
		{"__typename": "Product", "id": "2"},
	}
	entities := []interface{}{
		map[string]interface{}{"reviews": []interface{}{"r1"}},
		map[string]interface{}{"reviews": []interface{}{"r2"}},
	}

	execCtx.recordEntityResults(reps, entities)

	keys := []string{repCacheKey(reps[0]), repCacheKey(reps[1])}
	assembled := execCtx.assembleEntities(keys)

	if len(assembled) != 2 {
		t.Fatalf("expected 2 assembled entities, got %d", len(assembled))
	}
	first, ok := assembled[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected assembled[0] to be a map, got %T", assembled[0])
	}
	if reviews, _ := first["reviews"].([]interface{}); len(reviews) != 1 || reviews[0] != "r1" {
		t.Errorf("unexpected assembled entity: %+v", first)
	}
}

func TestAssembleEntities_SecondCallSeesAccumulatedFields(t *testing.T) {
	execCtx := &ExecutionContext{}
	rep := map[string]interface{}{"__typename": "Product", "id": "1"}
	key := repCacheKey(rep)

	execCtx.recordEntityResults([]map[string]interface{}{rep}, []interface{}{
		map[string]interface{}{"name": "Widget"},
	})
	execCtx.recordEntityResults([]map[string]interface{}{rep}, []interface{}{
		map[string]interface{}{"price": 9.99},
	})

	assembled := execCtx.assembleEntities([]string{key})
	entry, ok := assembled[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", assembled[0])
	}
	if entry["name"] != "Widget" || entry["price"] != 9.99 {
		t.Errorf("expected accumulated fields from both calls, got %+v", entry)
	}
}
