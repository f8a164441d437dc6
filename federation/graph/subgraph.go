package graph

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// EntityKey represents one @key directive on an entity.
type EntityKey struct {
	FieldSet   string // space-separated field selection, e.g. "id" or "number departureDate"
	Resolvable bool   // resolvable: argument; false marks a stub reference that cannot serve _entities
}

// Override records an @override(from: "...") directive on a field.
type Override struct {
	From string // the service the field's ownership was migrated away from
}

// Field holds the federation-relevant metadata of one field on an entity.
type Field struct {
	Name           string
	Type           ast.Type
	Requires       []string // @requires(fields: "...")
	Provides       []string // @provides(fields: "...")
	isShareable    bool
	isExternal     bool
	isInaccessible bool
	override       *Override
}

// IsShareable reports whether @shareable is present.
func (f *Field) IsShareable() bool { return f.isShareable }

// IsExternal reports whether @external is present.
func (f *Field) IsExternal() bool { return f.isExternal }

// IsInaccessible reports whether @inaccessible is present.
func (f *Field) IsInaccessible() bool { return f.isInaccessible }

// GetOverride returns the field's @override directive, or nil.
func (f *Field) GetOverride() *Override { return f.override }

// Entity is an object type carrying at least one @key directive.
type Entity struct {
	Keys        []EntityKey
	isExtension bool
	Fields      map[string]*Field
}

// IsExtension reports whether this declaration is a stub (`extend type`) contributed by a
// service other than the entity's primary owner.
func (e *Entity) IsExtension() bool { return e.isExtension }

// IsResolvable reports whether at least one @key on the entity is resolvable.
func (e *Entity) IsResolvable() bool {
	for _, key := range e.Keys {
		if key.Resolvable {
			return true
		}
	}
	return false
}

// SubGraph is one upstream federation service: its name, its routable host(s), and the
// federation-relevant metadata extracted from its SDL.
type SubGraph struct {
	Name          string
	Host          string // primary endpoint; Endpoints holds the full ordered failover list
	Endpoints     []string
	WSHost        string // subscription endpoint, if any
	Mandatory     bool
	AllowBatching bool
	Schema        *ast.Document
	entities      map[string]*Entity
}

// NewSubGraph parses an SDL document and extracts its entities and their federation
// directives (@key, @requires, @provides, @shareable, @external, @override, @inaccessible).
func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	l := lexer.New(string(src))
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, fmt.Errorf("parse subgraph %q SDL: %v", name, p.Errors())
	}

	sg := &SubGraph{
		Name:      name,
		Host:      host,
		Endpoints: []string{host},
		Schema:    doc,
		entities:  make(map[string]*Entity),
	}

	for _, def := range doc.Definitions {
		switch t := def.(type) {
		case *ast.ObjectTypeDefinition:
			if isEntity(t.Directives) {
				sg.entities[t.Name.String()] = buildEntity(t.Directives, t.Fields, false)
			}
		case *ast.ObjectTypeExtension:
			if isEntity(t.Directives) {
				sg.entities[t.Name.String()] = buildEntity(t.Directives, t.Fields, true)
			}
		}
	}

	return sg, nil
}

// NewSubGraphWithEndpoints is like NewSubGraph but records every endpoint in an
// ordered failover list instead of a single host.
func NewSubGraphWithEndpoints(name string, src []byte, endpoints []string) (*SubGraph, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("subgraph %q: endpoints must not be empty", name)
	}
	sg, err := NewSubGraph(name, src, endpoints[0])
	if err != nil {
		return nil, err
	}
	sg.Endpoints = endpoints
	return sg, nil
}

func buildEntity(directives []*ast.Directive, fields []*ast.FieldDefinition, isExtension bool) *Entity {
	entity := &Entity{
		Keys:        parseEntityKeys(directives),
		isExtension: isExtension,
		Fields:      make(map[string]*Field),
	}
	for _, field := range fields {
		entity.Fields[field.Name.String()] = parseField(field)
	}
	return entity
}

// GetEntities returns the name→Entity map for this subgraph.
func (sg *SubGraph) GetEntities() map[string]*Entity { return sg.entities }

// GetEntity looks up an entity by type name.
func (sg *SubGraph) GetEntity(name string) (*Entity, bool) {
	entity, ok := sg.entities[name]
	return entity, ok
}

func isEntity(directives []*ast.Directive) bool {
	for _, d := range directives {
		if d.Name == "key" {
			return true
		}
	}
	return false
}

func parseEntityKeys(directives []*ast.Directive) []EntityKey {
	var keys []EntityKey
	for _, d := range directives {
		if d.Name != "key" {
			continue
		}
		key := EntityKey{Resolvable: true}
		for _, arg := range d.Arguments {
			switch arg.Name.String() {
			case "fields":
				key.FieldSet = strings.Trim(arg.Value.String(), "\"")
			case "resolvable":
				if arg.Value.String() == "false" {
					key.Resolvable = false
				}
			}
		}
		keys = append(keys, key)
	}
	return keys
}

func parseField(field *ast.FieldDefinition) *Field {
	f := &Field{
		Name:     field.Name.String(),
		Type:     field.Type,
		Requires: []string{},
		Provides: []string{},
	}

	for _, d := range field.Directives {
		switch d.Name {
		case "requires":
			if len(d.Arguments) > 0 {
				f.Requires = strings.Fields(strings.Trim(d.Arguments[0].Value.String(), "\""))
			}
		case "provides":
			if len(d.Arguments) > 0 {
				f.Provides = strings.Fields(strings.Trim(d.Arguments[0].Value.String(), "\""))
			}
		case "shareable":
			f.isShareable = true
		case "external":
			f.isExternal = true
		case "inaccessible":
			f.isInaccessible = true
		case "override":
			ov := &Override{}
			for _, arg := range d.Arguments {
				if arg.Name.String() == "from" {
					ov.From = strings.Trim(arg.Value.String(), "\"")
				}
			}
			f.override = ov
		}
	}

	return f
}
