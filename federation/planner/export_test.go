package planner

import (
	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// InjectProvidedFieldsForTest exports injectProvidedFields for white-box testing.
func (p *Planner) InjectProvidedFieldsForTest(
	selections []ast.Selection,
	parentType, fieldName string,
	childSelections []ast.Selection,
	sg *graph.SubGraph,
	fieldType string,
	fragmentDefs map[string]*ast.FragmentDefinition,
) []ast.Selection {
	return p.injectProvidedFields(selections, parentType, fieldName, childSelections, sg, fieldType, fragmentDefs)
}

// MergeSelectionsByNameForTest exports mergeSelectionsByName for white-box testing.
func (p *Planner) MergeSelectionsByNameForTest(existing, additions []ast.Selection) []ast.Selection {
	return p.mergeSelectionsByName(existing, additions)
}

// CanResolveViaProvidesForTest exports canResolveViaProvides for white-box testing.
func (p *Planner) CanResolveViaProvidesForTest(
	childSelections []ast.Selection,
	parentSG *graph.SubGraph,
	parentType, fieldName, fieldType string,
	dijkstraResult *graph.DijkstraResult,
) bool {
	return p.canResolveViaProvides(childSelections, parentSG, parentType, fieldName, fieldType, dijkstraResult)
}
