package dtdl

import (
	"strings"
	"testing"

	"github.com/go-digitaltwin/twingraph"
)

const roomDefinition = `{
	"@id": "dtmi:example:Room;1",
	"@type": "Interface",
	"extends": ["dtmi:example:Space;1"],
	"contents": [
		{"@type": "Property", "name": "temperature", "schema": "double"},
		{"@type": "Property", "name": "anything"},
		{"@type": "Relationship", "name": "contains",
		 "properties": [{"name": "since", "schema": "dateTime"}]},
		{"@type": "Component", "name": "thermostat", "schema": "dtmi:example:Thermostat;1"},
		{"@type": "Telemetry", "name": "motion"},
		{"@type": "Command", "name": "reboot"}
	]
}`

func TestParseModels(t *testing.T) {
	models, err := Parser{}.ParseModels([]string{roomDefinition})
	if err != nil {
		t.Fatal("ParseModels()", err)
	}
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}
	model := models[0]

	if model.ID != "dtmi:example:Room;1" {
		t.Errorf("ID = %q", model.ID)
	}
	if len(model.Extends) != 1 || model.Extends[0] != "dtmi:example:Space;1" {
		t.Errorf("Extends = %q", model.Extends)
	}
	if model.Definition != roomDefinition {
		t.Error("Definition does not carry the raw document")
	}

	wantKinds := map[string]twingraph.ContentKind{
		"temperature": twingraph.ContentProperty,
		"anything":    twingraph.ContentProperty,
		"contains":    twingraph.ContentRelationship,
		"thermostat":  twingraph.ContentComponent,
		"motion":      twingraph.ContentTelemetry,
		"reboot":      twingraph.ContentCommand,
	}
	if len(model.Contents) != len(wantKinds) {
		t.Fatalf("got %d contents, want %d", len(model.Contents), len(wantKinds))
	}
	for name, kind := range wantKinds {
		if got := model.Contents[name].Kind; got != kind {
			t.Errorf("content %q kind = %v, want %v", name, got, kind)
		}
	}

	temperature := model.Contents["temperature"].Schema
	if errs := temperature.Validate(twingraph.Number(21.5)); len(errs) != 0 {
		t.Errorf("temperature rejected 21.5: %q", errs)
	}
	if errs := temperature.Validate(twingraph.String("warm")); len(errs) == 0 {
		t.Error("temperature accepted a string")
	}
	// No schema means no constraint.
	if model.Contents["anything"].Schema != nil {
		t.Error("schema-less property got a schema")
	}

	if got := model.Contents["thermostat"].ComponentSchemaID; got != "dtmi:example:Thermostat;1" {
		t.Errorf("thermostat ComponentSchemaID = %q", got)
	}
	since := model.Contents["contains"].PropertySchemas["since"]
	if since == nil {
		t.Fatal("contains has no schema for since")
	}
	if errs := since.Validate(twingraph.String("2026-01-02T03:04:05Z")); len(errs) != 0 {
		t.Errorf("since rejected a dateTime: %q", errs)
	}
	if errs := since.Validate(twingraph.String("yesterday")); len(errs) == 0 {
		t.Error("since accepted a non-dateTime")
	}
}

func TestParseModelsFailsWholeBatch(t *testing.T) {
	_, err := Parser{}.ParseModels([]string{roomDefinition, `{"@type": "Interface"}`})
	if err == nil {
		t.Fatal("ParseModels() accepted a batch with an id-less definition")
	}
	if !strings.Contains(err.Error(), "definition 1") {
		t.Errorf("error %q does not name the offending definition", err)
	}
}

func TestParseModelsExtendsSpellings(t *testing.T) {
	single, err := Parser{}.ParseModels([]string{`{"@id": "dtmi:a;1", "extends": "dtmi:b;1"}`})
	if err != nil {
		t.Fatal("ParseModels(string extends)", err)
	}
	if len(single[0].Extends) != 1 || single[0].Extends[0] != "dtmi:b;1" {
		t.Errorf("Extends = %q", single[0].Extends)
	}

	many, err := Parser{}.ParseModels([]string{`{"@id": "dtmi:a;1", "extends": ["dtmi:b;1", "dtmi:c;1"]}`})
	if err != nil {
		t.Fatal("ParseModels(array extends)", err)
	}
	if len(many[0].Extends) != 2 {
		t.Errorf("Extends = %q", many[0].Extends)
	}
}

func TestParseModelsRejects(t *testing.T) {
	tests := []struct {
		name       string
		definition string
		want       string
	}{
		{name: "invalid JSON", definition: `{`, want: "invalid JSON"},
		{name: "not an object", definition: `[]`, want: "must be an object"},
		{name: "missing id", definition: `{"@type": "Interface"}`, want: "@id is required"},
		{name: "wrong type", definition: `{"@id": "dtmi:a;1", "@type": "Telemetry"}`, want: "@type must be Interface"},
		{name: "extends number", definition: `{"@id": "dtmi:a;1", "extends": 4}`, want: "extends must be a string or an array"},
		{name: "contents not array", definition: `{"@id": "dtmi:a;1", "contents": {}}`, want: "contents must be an array"},
		{
			name:       "duplicate content",
			definition: `{"@id": "dtmi:a;1", "contents": [{"@type": "Property", "name": "x"}, {"@type": "Command", "name": "x"}]}`,
			want:       `duplicate content name "x"`,
		},
		{
			name:       "unknown content type",
			definition: `{"@id": "dtmi:a;1", "contents": [{"@type": "Gauge", "name": "x"}]}`,
			want:       `unknown @type "Gauge"`,
		},
		{
			name:       "component without schema",
			definition: `{"@id": "dtmi:a;1", "contents": [{"@type": "Component", "name": "x"}]}`,
			want:       "schema is required",
		},
		{
			name:       "unknown primitive",
			definition: `{"@id": "dtmi:a;1", "contents": [{"@type": "Property", "name": "x", "schema": "decimal"}]}`,
			want:       `unknown primitive schema "decimal"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parser{}.ParseModels([]string{tt.definition})
			if err == nil {
				t.Fatal("ParseModels() accepted the definition")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestPrimitiveSchemas(t *testing.T) {
	tests := []struct {
		schema string
		good   []twingraph.Value
		bad    []twingraph.Value
	}{
		{
			schema: "string",
			good:   []twingraph.Value{twingraph.String(""), twingraph.String("lobby")},
			bad:    []twingraph.Value{twingraph.Number(1), twingraph.Null()},
		},
		{
			schema: "boolean",
			good:   []twingraph.Value{twingraph.Bool(true)},
			bad:    []twingraph.Value{twingraph.String("true")},
		},
		{
			schema: "double",
			good:   []twingraph.Value{twingraph.Number(21.5), twingraph.Number(-3)},
			bad:    []twingraph.Value{twingraph.String("21.5")},
		},
		{
			schema: "integer",
			good:   []twingraph.Value{twingraph.Number(42), twingraph.Number(-7)},
			bad:    []twingraph.Value{twingraph.Number(1.5), twingraph.String("42")},
		},
		{
			schema: "long",
			good:   []twingraph.Value{twingraph.Number(1 << 40)},
			bad:    []twingraph.Value{twingraph.Number(0.5)},
		},
		{
			schema: "dateTime",
			good:   []twingraph.Value{twingraph.String("2026-01-02T03:04:05Z")},
			bad:    []twingraph.Value{twingraph.String("2026-01-02"), twingraph.Number(0)},
		},
		{
			schema: "duration",
			good:   []twingraph.Value{twingraph.String("PT1H30M"), twingraph.String("P2DT3H"), twingraph.String("P1Y")},
			bad:    []twingraph.Value{twingraph.String("1h30m"), twingraph.String("P"), twingraph.String("P1"), twingraph.Number(90)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.schema, func(t *testing.T) {
			schema := primitiveSchemas[tt.schema]
			if schema == nil {
				t.Fatalf("no primitive schema %q", tt.schema)
			}
			for _, v := range tt.good {
				if errs := schema.Validate(v); len(errs) != 0 {
					t.Errorf("rejected %v: %q", v, errs)
				}
			}
			for _, v := range tt.bad {
				if errs := schema.Validate(v); len(errs) == 0 {
					t.Errorf("accepted %v", v)
				}
			}
		})
	}
}

func TestEnumSchema(t *testing.T) {
	definition := `{
		"@id": "dtmi:example:Light;1",
		"contents": [{
			"@type": "Property", "name": "colour",
			"schema": {
				"@type": "Enum", "valueSchema": "string",
				"enumValues": [
					{"name": "red", "enumValue": "red"},
					{"name": "blue", "enumValue": "blue"}
				]
			}
		}]
	}`
	models, err := Parser{}.ParseModels([]string{definition})
	if err != nil {
		t.Fatal("ParseModels()", err)
	}
	colour := models[0].Contents["colour"].Schema

	if errs := colour.Validate(twingraph.String("red")); len(errs) != 0 {
		t.Errorf("rejected a declared value: %q", errs)
	}
	if errs := colour.Validate(twingraph.String("green")); len(errs) == 0 {
		t.Error("accepted an undeclared value")
	}
	if errs := colour.Validate(twingraph.Number(1)); len(errs) == 0 {
		t.Error("accepted a value of the wrong kind")
	}
}

func TestComplexSchemasValidateStructurally(t *testing.T) {
	definition := `{
		"@id": "dtmi:example:Sensor;1",
		"contents": [
			{"@type": "Property", "name": "location",
			 "schema": {"@type": "Object", "fields": [{"name": "lat", "schema": "double"}]}},
			{"@type": "Property", "name": "labels",
			 "schema": {"@type": "Map",
			  "mapKey": {"name": "key", "schema": "string"},
			  "mapValue": {"name": "value", "schema": "string"}}}
		]
	}`
	models, err := Parser{}.ParseModels([]string{definition})
	if err != nil {
		t.Fatal("ParseModels()", err)
	}
	contents := models[0].Contents

	location := contents["location"].Schema
	if errs := location.Validate(mustDecode(t, `{"lat": 32.1, "anything": "goes"}`)); len(errs) != 0 {
		t.Errorf("object schema rejected an object: %q", errs)
	}
	if errs := location.Validate(twingraph.Number(32.1)); len(errs) == 0 {
		t.Error("object schema accepted a number")
	}

	labels := contents["labels"].Schema
	if errs := labels.Validate(mustDecode(t, `{"zone": "north"}`)); len(errs) != 0 {
		t.Errorf("map schema rejected an object: %q", errs)
	}
	if errs := labels.Validate(twingraph.Array()); len(errs) == 0 {
		t.Error("map schema accepted an array")
	}
}

func mustDecode(t *testing.T, data string) twingraph.Value {
	t.Helper()
	v, err := twingraph.DecodeValue([]byte(data))
	if err != nil {
		t.Fatal("DecodeValue()", err)
	}
	return v
}
