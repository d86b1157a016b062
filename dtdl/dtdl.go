/*
Package dtdl parses DTDL-style interface definitions into the object model the
twingraph registry consumes.

A definition is a JSON document describing one interface:

	{
	  "@id": "dtmi:example:Room;1",
	  "@type": "Interface",
	  "extends": ["dtmi:example:Space;1"],
	  "contents": [
	    {"@type": "Property", "name": "temperature", "schema": "double"},
	    {"@type": "Relationship", "name": "contains",
	     "properties": [{"name": "since", "schema": "dateTime"}]},
	    {"@type": "Component", "name": "thermostat", "schema": "dtmi:example:Thermostat;1"}
	  ]
	}

The parser resolves primitive schemas (string, integer, long, double, float,
boolean, dateTime, duration) and enum schemas. Map and object schemas are
accepted but validated structurally only. Telemetry and Command contents parse
into their kinds without value schemas; the entity engine rejects them on twin
writes anyway.
*/
package dtdl

import (
	"fmt"

	"github.com/go-digitaltwin/twingraph"
)

// Parser implements the [twingraph.ModelParser] boundary for DTDL-style
// definitions. The zero value is ready for use.
type Parser struct{}

var _ twingraph.ModelParser = Parser{}

// ParseModels parses a batch of raw definition documents. Any document that
// fails to parse fails the whole batch, naming the offending interface where
// its id is known.
func (Parser) ParseModels(definitions []string) ([]twingraph.ParsedModel, error) {
	models := make([]twingraph.ParsedModel, len(definitions))
	for i, definition := range definitions {
		model, err := parseInterface(definition)
		if err != nil {
			return nil, fmt.Errorf("definition %d: %w", i, err)
		}
		models[i] = model
	}
	return models, nil
}

func parseInterface(definition string) (twingraph.ParsedModel, error) {
	doc, err := twingraph.DecodeValue([]byte(definition))
	if err != nil {
		return twingraph.ParsedModel{}, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := doc.AsObject()
	if !ok {
		return twingraph.ParsedModel{}, fmt.Errorf("definition must be an object, got %s", doc.Kind())
	}

	id, err := requireString(obj, "@id")
	if err != nil {
		return twingraph.ParsedModel{}, err
	}
	if kind, _ := stringField(obj, "@type"); kind != "" && kind != "Interface" {
		return twingraph.ParsedModel{}, fmt.Errorf("%v: @type must be Interface, got %q", id, kind)
	}

	extends, err := parseExtends(obj)
	if err != nil {
		return twingraph.ParsedModel{}, fmt.Errorf("%v: %w", id, err)
	}

	contents := make(map[string]twingraph.Content)
	if raw, ok := obj.Get("contents"); ok {
		entries, ok := raw.AsArray()
		if !ok {
			return twingraph.ParsedModel{}, fmt.Errorf("%v: contents must be an array, got %s", id, raw.Kind())
		}
		for i, entry := range entries {
			content, err := parseContent(entry)
			if err != nil {
				return twingraph.ParsedModel{}, fmt.Errorf("%v: contents[%d]: %w", id, i, err)
			}
			if _, dup := contents[content.Name]; dup {
				return twingraph.ParsedModel{}, fmt.Errorf("%v: duplicate content name %q", id, content.Name)
			}
			contents[content.Name] = content
		}
	}

	return twingraph.ParsedModel{
		ID:         id,
		Definition: definition,
		Extends:    extends,
		Contents:   contents,
	}, nil
}

// parseExtends accepts both spellings DTDL allows: a single id string or an
// array of id strings.
func parseExtends(obj *twingraph.Object) ([]string, error) {
	raw, ok := obj.Get("extends")
	if !ok {
		return nil, nil
	}
	if s, ok := raw.AsString(); ok {
		return []string{s}, nil
	}
	entries, ok := raw.AsArray()
	if !ok {
		return nil, fmt.Errorf("extends must be a string or an array of strings, got %s", raw.Kind())
	}
	extends := make([]string, len(entries))
	for i, entry := range entries {
		s, ok := entry.AsString()
		if !ok {
			return nil, fmt.Errorf("extends[%d] must be a string, got %s", i, entry.Kind())
		}
		extends[i] = s
	}
	return extends, nil
}

func parseContent(entry twingraph.Value) (twingraph.Content, error) {
	obj, ok := entry.AsObject()
	if !ok {
		return twingraph.Content{}, fmt.Errorf("content must be an object, got %s", entry.Kind())
	}
	kind, err := requireString(obj, "@type")
	if err != nil {
		return twingraph.Content{}, err
	}
	name, err := requireString(obj, "name")
	if err != nil {
		return twingraph.Content{}, err
	}

	switch kind {
	case "Property":
		schema, err := parseSchemaField(obj)
		if err != nil {
			return twingraph.Content{}, fmt.Errorf("property %q: %w", name, err)
		}
		return twingraph.Content{Kind: twingraph.ContentProperty, Name: name, Schema: schema}, nil

	case "Relationship":
		properties, err := parseRelationshipProperties(obj)
		if err != nil {
			return twingraph.Content{}, fmt.Errorf("relationship %q: %w", name, err)
		}
		return twingraph.Content{Kind: twingraph.ContentRelationship, Name: name, PropertySchemas: properties}, nil

	case "Component":
		ref, err := requireString(obj, "schema")
		if err != nil {
			return twingraph.Content{}, fmt.Errorf("component %q: %w", name, err)
		}
		return twingraph.Content{Kind: twingraph.ContentComponent, Name: name, ComponentSchemaID: ref}, nil

	case "Telemetry":
		return twingraph.Content{Kind: twingraph.ContentTelemetry, Name: name}, nil

	case "Command":
		return twingraph.Content{Kind: twingraph.ContentCommand, Name: name}, nil
	}
	return twingraph.Content{}, fmt.Errorf("content %q: unknown @type %q", name, kind)
}

// parseRelationshipProperties parses the optional inline property declarations
// of a relationship content.
func parseRelationshipProperties(obj *twingraph.Object) (map[string]twingraph.Schema, error) {
	raw, ok := obj.Get("properties")
	if !ok {
		return nil, nil
	}
	entries, ok := raw.AsArray()
	if !ok {
		return nil, fmt.Errorf("properties must be an array, got %s", raw.Kind())
	}
	properties := make(map[string]twingraph.Schema, len(entries))
	for i, entry := range entries {
		p, ok := entry.AsObject()
		if !ok {
			return nil, fmt.Errorf("properties[%d] must be an object, got %s", i, entry.Kind())
		}
		name, err := requireString(p, "name")
		if err != nil {
			return nil, fmt.Errorf("properties[%d]: %w", i, err)
		}
		schema, err := parseSchemaField(p)
		if err != nil {
			return nil, fmt.Errorf("properties[%d] %q: %w", i, name, err)
		}
		properties[name] = schema
	}
	return properties, nil
}

func parseSchemaField(obj *twingraph.Object) (twingraph.Schema, error) {
	raw, ok := obj.Get("schema")
	if !ok {
		// A property without a schema accepts any value.
		return nil, nil
	}
	return parseSchema(raw)
}

func requireString(obj *twingraph.Object, key string) (string, error) {
	s, err := stringField(obj, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%v is required", key)
	}
	return s, nil
}

func stringField(obj *twingraph.Object, key string) (string, error) {
	raw, ok := obj.Get(key)
	if !ok {
		return "", nil
	}
	s, ok := raw.AsString()
	if !ok {
		return "", fmt.Errorf("%v must be a string, got %s", key, raw.Kind())
	}
	return s, nil
}
