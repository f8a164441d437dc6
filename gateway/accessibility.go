package gateway

import (
	"fmt"

	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// validateAccessibility walks every operation in doc and rejects any selection
// that names an @inaccessible field, shared by both the static and dynamic
// gateway handlers so accessibility rules never drift between them. Fields
// reached only through named fragment spreads are not checked.
func validateAccessibility(superGraph *graph.SuperGraph, doc *ast.Document) error {
	for _, def := range doc.Definitions {
		opDef, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}

		rootTypeName := "Query"
		switch opDef.Operation {
		case ast.Query:
			rootTypeName = "Query"
		case ast.Mutation:
			rootTypeName = "Mutation"
		case ast.Subscription:
			rootTypeName = "Subscription"
		}

		if err := validateSelectionSet(superGraph, opDef.SelectionSet, rootTypeName); err != nil {
			return err
		}
	}
	return nil
}

func validateSelectionSet(superGraph *graph.SuperGraph, selSet []ast.Selection, parentTypeName string) error {
	if selSet == nil {
		return nil
	}

	for _, sel := range selSet {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()

			if fieldName == "__typename" || fieldName == "__schema" || fieldName == "__type" {
				continue
			}

			if superGraph.IsFieldInaccessible(parentTypeName, fieldName) {
				return fmt.Errorf("Cannot query field \"%s\" on type \"%s\"", fieldName, parentTypeName)
			}

			nextTypeName := fieldTypeName(superGraph, parentTypeName, fieldName)
			if nextTypeName != "" {
				if err := validateSelectionSet(superGraph, s.SelectionSet, nextTypeName); err != nil {
					return err
				}
			}

		case *ast.FragmentSpread:
			// TODO: validate fields selected through fragment spreads.

		case *ast.InlineFragment:
			typeCondition := ""
			if s.TypeCondition != nil {
				typeCondition = s.TypeCondition.String()
			}
			if typeCondition == "" {
				typeCondition = parentTypeName
			}
			if err := validateSelectionSet(superGraph, s.SelectionSet, typeCondition); err != nil {
				return err
			}
		}
	}

	return nil
}

// fieldTypeName returns the base (unwrapped) type name of typeName.fieldName.
func fieldTypeName(superGraph *graph.SuperGraph, typeName, fieldName string) string {
	for _, def := range superGraph.Schema.Definitions {
		objDef, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || objDef.Name.String() != typeName {
			continue
		}
		for _, field := range objDef.Fields {
			if field.Name.String() == fieldName {
				return unwrapTypeName(field.Type)
			}
		}
	}
	return ""
}

func unwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return unwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return unwrapTypeName(typ.Type)
	}
	return ""
}
