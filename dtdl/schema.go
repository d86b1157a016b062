package dtdl

import (
	"fmt"
	"math"
	"time"

	"github.com/go-digitaltwin/twingraph"
)

// parseSchema resolves a schema declaration. Primitive schemas are named by a
// string; complex schemas are objects whose @type selects the flavour.
func parseSchema(raw twingraph.Value) (twingraph.Schema, error) {
	if name, ok := raw.AsString(); ok {
		schema, ok := primitiveSchemas[name]
		if !ok {
			return nil, fmt.Errorf("unknown primitive schema %q", name)
		}
		return schema, nil
	}
	obj, ok := raw.AsObject()
	if !ok {
		return nil, fmt.Errorf("schema must be a string or an object, got %s", raw.Kind())
	}
	kind, err := requireString(obj, "@type")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "Enum":
		return parseEnumSchema(obj)
	case "Object":
		return objectSchema{}, nil
	case "Map":
		return mapSchema{}, nil
	}
	return nil, fmt.Errorf("unknown schema @type %q", kind)
}

var primitiveSchemas = map[string]twingraph.Schema{
	"string":   stringSchema{},
	"boolean":  booleanSchema{},
	"double":   numberSchema{name: "double"},
	"float":    numberSchema{name: "float"},
	"integer":  numberSchema{name: "integer", integral: true},
	"long":     numberSchema{name: "long", integral: true},
	"dateTime": dateTimeSchema{},
	"duration": durationSchema{},
}

type stringSchema struct{}

func (stringSchema) Validate(v twingraph.Value) []string {
	if _, ok := v.AsString(); !ok {
		return []string{fmt.Sprintf("must be a string, got %s", v.Kind())}
	}
	return nil
}

type booleanSchema struct{}

func (booleanSchema) Validate(v twingraph.Value) []string {
	if _, ok := v.AsBool(); !ok {
		return []string{fmt.Sprintf("must be a boolean, got %s", v.Kind())}
	}
	return nil
}

type numberSchema struct {
	name     string
	integral bool
}

func (s numberSchema) Validate(v twingraph.Value) []string {
	n, ok := v.AsNumber()
	if !ok {
		return []string{fmt.Sprintf("must be a %s, got %s", s.name, v.Kind())}
	}
	if s.integral && n != math.Trunc(n) {
		return []string{fmt.Sprintf("must be a %s, got fractional number %v", s.name, n)}
	}
	return nil
}

type dateTimeSchema struct{}

func (dateTimeSchema) Validate(v twingraph.Value) []string {
	s, ok := v.AsString()
	if !ok {
		return []string{fmt.Sprintf("must be an ISO 8601 dateTime string, got %s", v.Kind())}
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return []string{fmt.Sprintf("must be an ISO 8601 dateTime: %v", err)}
	}
	return nil
}

type durationSchema struct{}

func (durationSchema) Validate(v twingraph.Value) []string {
	s, ok := v.AsString()
	if !ok {
		return []string{fmt.Sprintf("must be an ISO 8601 duration string, got %s", v.Kind())}
	}
	if !isISODuration(s) {
		return []string{fmt.Sprintf("must be an ISO 8601 duration, got %q", s)}
	}
	return nil
}

// isISODuration accepts the PnYnMnDTnHnMnS shape without interpreting it.
func isISODuration(s string) bool {
	if len(s) < 2 || s[0] != 'P' {
		return false
	}
	var sawDigit, sawUnit, inTime bool
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9' || c == '.':
			sawDigit = true
		case c == 'T':
			if inTime || sawDigit {
				return false
			}
			inTime = true
		case c == 'Y' || c == 'D' || c == 'W' || c == 'H' || c == 'S' || c == 'M':
			if !sawDigit {
				return false
			}
			sawDigit = false
			sawUnit = true
		default:
			return false
		}
	}
	return sawUnit && !sawDigit
}

type enumSchema struct {
	// values holds the literal enum values; DTDL enums are string or integer
	// valued, both representable here.
	values []twingraph.Value
}

func parseEnumSchema(obj *twingraph.Object) (twingraph.Schema, error) {
	raw, ok := obj.Get("enumValues")
	if !ok {
		return nil, fmt.Errorf("enum schema requires enumValues")
	}
	entries, ok := raw.AsArray()
	if !ok {
		return nil, fmt.Errorf("enumValues must be an array, got %s", raw.Kind())
	}
	schema := enumSchema{values: make([]twingraph.Value, len(entries))}
	for i, entry := range entries {
		e, ok := entry.AsObject()
		if !ok {
			return nil, fmt.Errorf("enumValues[%d] must be an object, got %s", i, entry.Kind())
		}
		value, ok := e.Get("enumValue")
		if !ok {
			return nil, fmt.Errorf("enumValues[%d] requires enumValue", i)
		}
		schema.values[i] = value
	}
	return schema, nil
}

func (s enumSchema) Validate(v twingraph.Value) []string {
	for _, allowed := range s.values {
		if v.Equal(allowed) {
			return nil
		}
	}
	return []string{"is not one of the declared enum values"}
}

// objectSchema and mapSchema validate structure only. Field-level validation
// of complex schemas is not resolved by this parser.
type objectSchema struct{}

func (objectSchema) Validate(v twingraph.Value) []string {
	if _, ok := v.AsObject(); !ok {
		return []string{fmt.Sprintf("must be an object, got %s", v.Kind())}
	}
	return nil
}

type mapSchema struct{}

func (mapSchema) Validate(v twingraph.Value) []string {
	if _, ok := v.AsObject(); !ok {
		return []string{fmt.Sprintf("must be a map, got %s", v.Kind())}
	}
	return nil
}
