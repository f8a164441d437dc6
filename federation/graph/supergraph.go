package graph

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// SuperGraph is the composed schema over a set of SubGraphs: the merged SDL plus the Type
// Map recording field ownership, entity keys, and the @provides shortcut graph the Planner
// uses to elide redundant entity jumps.
//
// A SuperGraph is immutable once returned by NewSuperGraph: in-flight queries hold a
// reference to the SuperGraph they began planning against, and the Gateway Core replaces
// its pointer wholesale on recomposition (hot-swap) rather than mutating one in place.
type SuperGraph struct {
	SubGraphs []*SubGraph
	Schema    *ast.Document
	Ownership map[string][]*SubGraph // "Type.field" -> subgraphs that can resolve it, in preference order
	Graph     *WeightedDirectedGraph // @key / @provides routing graph, used by the Dijkstra-optimized planner
}

// NewSuperGraph composes a SuperGraph from a set of SubGraphs. Composition fails only when
// there is nothing to compose; whether an unhealthy subgraph even makes it into the input
// slice is decided upstream by the Gateway Core.
func NewSuperGraph(subGraphs []*SubGraph) (*SuperGraph, error) {
	if len(subGraphs) == 0 {
		return nil, fmt.Errorf("no subgraphs to compose")
	}

	sg := &SuperGraph{
		SubGraphs: subGraphs,
		Ownership: make(map[string][]*SubGraph),
	}

	sg.Schema = &ast.Document{Definitions: make([]ast.Definition, 0)}
	for _, subGraph := range subGraphs {
		sg.mergeSchema(subGraph.Schema)
	}

	if err := sg.buildOwnershipMap(); err != nil {
		return nil, err
	}

	sg.Graph = BuildGraph(subGraphs)

	return sg, nil
}

// mergeSchema folds one subgraph's SDL definitions into the composed document, unioning
// fields of same-named object types, appending the members of same-named interface,
// input, enum and union types, and skipping duplicate scalar/directive declarations.
// Object type fields are copied (not aliased) so later subgraphs' additions never mutate
// an earlier subgraph's own AST; interface, input, enum and union definitions are taken
// over uncopied from the first subgraph that declares them, and later members are
// appended onto that definition.
func (sg *SuperGraph) mergeSchema(newSchema *ast.Document) {
	for _, newDef := range newSchema.Definitions {
		switch newTypeDef := newDef.(type) {
		case *ast.ObjectTypeDefinition:
			sg.mergeObjectTypeDefinition(newTypeDef)
		case *ast.ObjectTypeExtension:
			sg.mergeObjectTypeExtension(newTypeDef)
		case *ast.InterfaceTypeDefinition:
			sg.mergeInterfaceTypeDefinition(newTypeDef)
		case *ast.InputObjectTypeDefinition:
			sg.mergeInputObjectTypeDefinition(newTypeDef)
		case *ast.EnumTypeDefinition:
			sg.mergeEnumTypeDefinition(newTypeDef)
		case *ast.ScalarTypeDefinition:
			sg.mergeScalarTypeDefinition(newTypeDef)
		case *ast.UnionTypeDefinition:
			sg.mergeUnionTypeDefinition(newTypeDef)
		case *ast.DirectiveDefinition:
			sg.mergeDirectiveDefinition(newTypeDef)
		}
	}
}

func (sg *SuperGraph) mergeObjectTypeDefinition(newDef *ast.ObjectTypeDefinition) {
	var existingDef *ast.ObjectTypeDefinition
	for _, def := range sg.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok && objDef.Name.String() == newDef.Name.String() {
			existingDef = objDef
			break
		}
	}

	if existingDef != nil {
		existingDef.Fields = mergeFields(existingDef.Fields, copyFields(newDef.Fields))
		existingDef.Directives = append(existingDef.Directives, copyDirectives(newDef.Directives)...)
		return
	}

	sg.Schema.Definitions = append(sg.Schema.Definitions, &ast.ObjectTypeDefinition{
		Name:       newDef.Name,
		Interfaces: newDef.Interfaces,
		Fields:     copyFields(newDef.Fields),
		Directives: copyDirectives(newDef.Directives),
	})
}

func (sg *SuperGraph) mergeObjectTypeExtension(newExt *ast.ObjectTypeExtension) {
	for _, def := range sg.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok && objDef.Name.String() == newExt.Name.String() {
			objDef.Fields = mergeFields(objDef.Fields, copyFields(newExt.Fields))
			objDef.Directives = append(objDef.Directives, copyDirectives(newExt.Directives)...)
			return
		}
	}
	// No base definition seen yet: promote the extension to a definition so later subgraphs
	// (and the extension itself) have something to merge into.
	sg.Schema.Definitions = append(sg.Schema.Definitions, &ast.ObjectTypeDefinition{
		Name:   newExt.Name,
		Fields: copyFields(newExt.Fields),
	})
}

func copyFields(fields []*ast.FieldDefinition) []*ast.FieldDefinition {
	if fields == nil {
		return nil
	}
	copied := make([]*ast.FieldDefinition, len(fields))
	for i, field := range fields {
		copied[i] = &ast.FieldDefinition{
			Name:       field.Name,
			Arguments:  field.Arguments,
			Type:       field.Type,
			Directives: copyDirectives(field.Directives),
		}
	}
	return copied
}

func copyDirectives(directives []*ast.Directive) []*ast.Directive {
	if directives == nil {
		return nil
	}
	copied := make([]*ast.Directive, len(directives))
	for i, dir := range directives {
		copied[i] = &ast.Directive{Name: dir.Name, Arguments: dir.Arguments}
	}
	return copied
}

// mergeFields unions two field lists by name, preferring the existing (earlier-merged)
// definition on conflict. It only de-duplicates: a later definition of the same field with
// a different signature is dropped silently, and composition does not report it as an error.
func mergeFields(existing, newFields []*ast.FieldDefinition) []*ast.FieldDefinition {
	fieldMap := make(map[string]*ast.FieldDefinition, len(existing)+len(newFields))
	order := make([]string, 0, len(existing)+len(newFields))

	for _, field := range existing {
		name := field.Name.String()
		if _, ok := fieldMap[name]; !ok {
			order = append(order, name)
		}
		fieldMap[name] = field
	}
	for _, field := range newFields {
		name := field.Name.String()
		if _, exists := fieldMap[name]; !exists {
			order = append(order, name)
			fieldMap[name] = field
		}
	}

	result := make([]*ast.FieldDefinition, 0, len(order))
	for _, name := range order {
		result = append(result, fieldMap[name])
	}
	return result
}

func (sg *SuperGraph) mergeInterfaceTypeDefinition(newDef *ast.InterfaceTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if intDef, ok := def.(*ast.InterfaceTypeDefinition); ok && intDef.Name.String() == newDef.Name.String() {
			intDef.Fields = append(intDef.Fields, newDef.Fields...)
			intDef.Directives = append(intDef.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeInputObjectTypeDefinition(newDef *ast.InputObjectTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if inputDef, ok := def.(*ast.InputObjectTypeDefinition); ok && inputDef.Name.String() == newDef.Name.String() {
			inputDef.Fields = append(inputDef.Fields, newDef.Fields...)
			inputDef.Directives = append(inputDef.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeEnumTypeDefinition(newDef *ast.EnumTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if enumDef, ok := def.(*ast.EnumTypeDefinition); ok && enumDef.Name.String() == newDef.Name.String() {
			enumDef.Values = append(enumDef.Values, newDef.Values...)
			enumDef.Directives = append(enumDef.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeScalarTypeDefinition(newDef *ast.ScalarTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if scalarDef, ok := def.(*ast.ScalarTypeDefinition); ok && scalarDef.Name.String() == newDef.Name.String() {
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeUnionTypeDefinition(newDef *ast.UnionTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if unionDef, ok := def.(*ast.UnionTypeDefinition); ok && unionDef.Name.String() == newDef.Name.String() {
			unionDef.Types = append(unionDef.Types, newDef.Types...)
			unionDef.Directives = append(unionDef.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeDirectiveDefinition(newDef *ast.DirectiveDefinition) {
	for _, def := range sg.Schema.Definitions {
		if dirDef, ok := def.(*ast.DirectiveDefinition); ok && dirDef.Name.String() == newDef.Name.String() {
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

// buildOwnershipMap determines, for every Type.field in the composed schema, which
// subgraphs can resolve it, in preference order. @override shifts ownership away from
// the named `from` service even when that service still declares the field non-externally.
func (sg *SuperGraph) buildOwnershipMap() error {
	for _, def := range sg.Schema.Definitions {
		objDef, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		typeName := objDef.Name.String()

		for _, field := range objDef.Fields {
			fieldName := field.Name.String()
			key := fmt.Sprintf("%s.%s", typeName, fieldName)

			var overrideFrom string
			var overrideSubGraph *SubGraph
			for _, subGraph := range sg.SubGraphs {
				if entity, exists := subGraph.GetEntity(typeName); exists {
					if entityField, ok := entity.Fields[fieldName]; ok {
						if override := entityField.GetOverride(); override != nil {
							overrideFrom = override.From
							overrideSubGraph = subGraph
							break
						}
					}
				}
			}

			for _, subGraph := range sg.SubGraphs {
				if overrideFrom != "" && subGraph.Name == overrideFrom {
					continue
				}
				if sg.canResolveField(subGraph, typeName, fieldName) {
					sg.Ownership[key] = append(sg.Ownership[key], subGraph)
				}
			}

			if overrideSubGraph != nil {
				found := false
				for _, owner := range sg.Ownership[key] {
					if owner.Name == overrideSubGraph.Name {
						found = true
						break
					}
				}
				if !found {
					sg.Ownership[key] = append(sg.Ownership[key], overrideSubGraph)
				}
			}
		}
	}

	return nil
}

// canResolveField reports whether subGraph declares typeName.fieldName non-externally.
func (sg *SuperGraph) canResolveField(subGraph *SubGraph, typeName, fieldName string) bool {
	for _, def := range subGraph.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok && objDef.Name.String() == typeName {
			for _, field := range objDef.Fields {
				if field.Name.String() == fieldName {
					return !hasDirective(field.Directives, "external")
				}
			}
			return false
		}
	}
	for _, def := range subGraph.Schema.Definitions {
		if objExt, ok := def.(*ast.ObjectTypeExtension); ok && objExt.Name.String() == typeName {
			for _, field := range objExt.Fields {
				if field.Name.String() == fieldName {
					return !hasDirective(field.Directives, "external")
				}
			}
			return false
		}
	}
	return false
}

func hasDirective(directives []*ast.Directive, name string) bool {
	for _, d := range directives {
		if d.Name == name {
			return true
		}
	}
	return false
}

// GetSubGraphsForField returns, in preference order, the subgraphs able to resolve
// typeName.fieldName.
func (sg *SuperGraph) GetSubGraphsForField(typeName, fieldName string) []*SubGraph {
	return sg.Ownership[fmt.Sprintf("%s.%s", typeName, fieldName)]
}

// GetEntityOwnerSubGraph returns the subgraph that primarily owns (non-extension,
// resolvable @key) the named entity type, falling back to a resolvable extension if no
// primary owner exists. Returns nil if typeName is not a resolvable entity anywhere.
func (sg *SuperGraph) GetEntityOwnerSubGraph(typeName string) *SubGraph {
	for _, subGraph := range sg.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists && !entity.IsExtension() && entity.IsResolvable() {
			return subGraph
		}
	}
	for _, subGraph := range sg.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists && entity.IsResolvable() {
			return subGraph
		}
	}
	return nil
}

// IsEntityType reports whether typeName carries a resolvable @key in any subgraph.
func (sg *SuperGraph) IsEntityType(typeName string) bool {
	return sg.GetEntityOwnerSubGraph(typeName) != nil
}

// GetFieldOwnerSubGraph returns the first (preferred) subgraph able to resolve
// typeName.fieldName, honoring @override.
func (sg *SuperGraph) GetFieldOwnerSubGraph(typeName, fieldName string) *SubGraph {
	owners := sg.Ownership[fmt.Sprintf("%s.%s", typeName, fieldName)]
	if len(owners) > 0 {
		return owners[0]
	}
	return nil
}

// IsFieldInaccessible reports whether typeName.fieldName carries @inaccessible in any
// subgraph's entity declaration (external or not) or in the merged schema. Used by the gateway's request-time
// accessibility check to reject queries against fields that must never be queryable.
func (sg *SuperGraph) IsFieldInaccessible(typeName, fieldName string) bool {
	for _, subGraph := range sg.SubGraphs {
		entity, exists := subGraph.GetEntity(typeName)
		if !exists {
			continue
		}
		if field, ok := entity.Fields[fieldName]; ok && field.IsInaccessible() {
			return true
		}
	}

	// Non-entity object types carry no Entity record, so check the merged
	// schema's own field directives directly.
	for _, def := range sg.Schema.Definitions {
		objDef, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || objDef.Name.String() != typeName {
			continue
		}
		for _, f := range objDef.Fields {
			if f.Name.String() != fieldName {
				continue
			}
			if hasDirective(f.Directives, "inaccessible") {
				return true
			}
		}
	}

	return false
}
