package neo4jengine

import (
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/twingraph"
)

// Node and edge property conventions.
//
// Neo4j properties cannot hold nested maps, so an entity's document is stored
// twice: once verbatim as JSON text under documentProperty, and once flattened
// into scalar properties whose names join the document path with dots (e.g.
// "$metadata.$model"). The flattened properties exist for constraints, indexes
// and native queries; the JSON text is the authoritative copy that point reads
// decode.
const documentProperty = "_document"

// formatDocument returns the neo4j property bag representing the given entity
// document.
func formatDocument(doc twingraph.Value) (map[string]any, error) {
	obj, ok := doc.AsObject()
	if !ok {
		return nil, fmt.Errorf("document must be an object, got %s", doc.Kind())
	}
	props := make(map[string]any)
	flattenInto(props, "", obj)

	text, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	props[documentProperty] = string(text)
	return props, nil
}

// flattenInto writes the scalar leaves of the object into props, joining
// nested keys with dots. Arrays of scalars become neo4j list properties;
// arrays containing objects are skipped, the JSON copy retains them.
func flattenInto(props map[string]any, prefix string, obj *twingraph.Object) {
	for _, key := range obj.Keys() {
		value, _ := obj.Get(key)
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch value.Kind() {
		case twingraph.KindObject:
			nested, _ := value.AsObject()
			flattenInto(props, name, nested)
		case twingraph.KindArray:
			elems, _ := value.AsArray()
			list := make([]any, 0, len(elems))
			for _, e := range elems {
				switch e.Kind() {
				case twingraph.KindObject, twingraph.KindArray:
					// No neo4j representation for nested composites.
					continue
				default:
					list = append(list, e.ToAny())
				}
			}
			if len(list) == len(elems) {
				props[name] = list
			}
		default:
			props[name] = value.ToAny()
		}
	}
}

// parseDocument decodes an entity's authoritative JSON document from the given
// neo4j property bag.
func parseDocument(props map[string]any) (twingraph.Value, error) {
	raw, ok := props[documentProperty]
	if !ok {
		return twingraph.Value{}, fmt.Errorf("%w: %v", errPropertyNotFound, documentProperty)
	}
	text, ok := raw.(string)
	if !ok {
		return twingraph.Value{}, fmt.Errorf("property %v holds %T, expected string", documentProperty, raw)
	}
	doc, err := twingraph.DecodeValue([]byte(text))
	if err != nil {
		return twingraph.Value{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// parseRecord converts one neo4j result row into a twingraph.Record. Nodes and
// edges are rendered as their stored documents when they carry one, falling
// back to their raw property bag; plain values convert directly.
func parseRecord(record *neo4j.Record) (twingraph.Record, error) {
	out := make(twingraph.Record, len(record.Keys))
	for _, key := range record.Keys {
		raw, _ := record.Get(key)
		value, err := parseResultValue(raw)
		if err != nil {
			return nil, fmt.Errorf("column %v: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

func parseResultValue(raw any) (twingraph.Value, error) {
	switch t := raw.(type) {
	case neo4j.Node:
		return parseEntityProps(t.Props)
	case neo4j.Relationship:
		return parseEntityProps(t.Props)
	case []any:
		elems := make([]twingraph.Value, len(t))
		for i, e := range t {
			v, err := parseResultValue(e)
			if err != nil {
				return twingraph.Value{}, err
			}
			elems[i] = v
		}
		return twingraph.Array(elems...), nil
	default:
		return twingraph.FromAny(raw)
	}
}

func parseEntityProps(props map[string]any) (twingraph.Value, error) {
	if _, ok := props[documentProperty]; ok {
		return parseDocument(props)
	}
	return twingraph.FromAny(props)
}
