package twingraph

// A Model is one versioned interface definition as persisted in the graph. The
// raw definition document is opaque to storage and parsed on demand through the
// ModelParser boundary.
type Model struct {
	// ID is the DTMI-style identifier of the interface, unique across models.
	ID string
	// Definition is the raw definition document as submitted at creation time.
	Definition string
	// Bases is the flattened, transitively-computed list of every ancestor
	// interface id. Precomputing the closure turns inheritance-membership tests
	// into array containment instead of a variable-length graph traversal, which
	// the storage engine cannot serve from read replicas.
	Bases []string
}

// A ContentKind classifies one declared content entry of an interface.
type ContentKind int

const (
	ContentProperty ContentKind = iota
	ContentRelationship
	ContentComponent
	ContentTelemetry
	ContentCommand
)

func (k ContentKind) String() string {
	switch k {
	case ContentProperty:
		return "Property"
	case ContentRelationship:
		return "Relationship"
	case ContentComponent:
		return "Component"
	case ContentTelemetry:
		return "Telemetry"
	case ContentCommand:
		return "Command"
	}
	return "Content"
}

// A Content is one declared entry of an interface: a property, a relationship,
// an embedded component, a telemetry, or a command.
type Content struct {
	Kind ContentKind
	Name string
	// Schema validates instance values for properties, and relationship
	// properties when the relationship declares them. Nil when the content kind
	// carries no value schema.
	Schema Schema
	// ComponentSchemaID names the interface that defines the shape of an
	// embedded component. Set only for ContentComponent.
	ComponentSchemaID string
	// PropertySchemas holds per-property schemas declared inline on a
	// relationship content. Set only for ContentRelationship, and possibly empty.
	PropertySchemas map[string]Schema
}

// A ParsedModel is the resolved object model of a single interface definition,
// as produced by the ModelParser boundary.
type ParsedModel struct {
	ID string
	// Definition is the raw document the model was parsed from.
	Definition string
	// Extends lists the ids of the directly extended interfaces.
	Extends []string
	// Contents maps content name to its declaration, merged across nothing: only
	// the interface's own declarations appear here. Inherited contents are
	// reached through Extends.
	Contents map[string]Content
}

// Schema validates candidate instance values against one declared schema. It
// is an external collaborator: the model parser supplies implementations, and
// the entity engine invokes them as black boxes.
type Schema interface {
	// Validate returns a human-readable violation message per problem found in
	// the candidate value. An empty result means the value conforms.
	Validate(v Value) []string
}

// ModelParser turns raw definition documents into resolved object models. It is
// the second half of the schema-validator boundary.
//
// ParseModels receives whole batches so that definitions may reference each
// other within a single submission. Implementations must fail the entire batch
// when any single definition fails to parse.
type ModelParser interface {
	ParseModels(definitions []string) ([]ParsedModel, error)
}
