package twingraph

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// A fakeStore is an in-memory GraphStore for exercising the entity engine and
// the model registry without a graph database. It deep-clones documents on
// both sides of the boundary so tests observe the same aliasing behaviour as
// with a real engine.
type fakeStore struct {
	mu        sync.Mutex
	twins     map[string]Value
	rels      map[string]fakeRelationship
	models    map[string]Model
	edges     []ModelEdge
	edgeTypes map[string]int

	modelReads int
	queries    []GraphQuery
	queryRows  []Record

	// upsertRelationshipErr fails UpsertRelationships for the given
	// relationship name.
	upsertRelationshipErr map[string]error
}

type fakeRelationship struct {
	name string
	doc  Value
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		twins:                 make(map[string]Value),
		rels:                  make(map[string]fakeRelationship),
		models:                make(map[string]Model),
		edgeTypes:             make(map[string]int),
		upsertRelationshipErr: make(map[string]error),
	}
}

func (s *fakeStore) Query(ctx context.Context, q GraphQuery) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	return s.queryRows, nil
}

func (s *fakeStore) GetTwin(ctx context.Context, id string) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.twins[id]
	if !ok {
		return Value{}, &NotFoundError{Kind: "twin", ID: id}
	}
	return doc.Clone(), nil
}

func (s *fakeStore) UpsertTwin(ctx context.Context, id string, doc Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twins[id] = doc.Clone()
	return nil
}

func (s *fakeStore) DeleteTwin(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.twins[id]; !ok {
		return &NotFoundError{Kind: "twin", ID: id}
	}
	for _, rel := range s.rels {
		r := NewRelationship(rel.doc)
		if r.SourceID() == id || r.TargetID() == id {
			return &ReferentialIntegrityError{ID: id}
		}
	}
	delete(s.twins, id)
	return nil
}

func (s *fakeStore) MissingTwins(ctx context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, id := range ids {
		if _, ok := s.twins[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *fakeStore) GetRelationship(ctx context.Context, sourceID, relationshipID string) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.rels[sourceID+"/"+relationshipID]
	if !ok {
		return Value{}, &NotFoundError{Kind: "relationship", ID: sourceID + "/" + relationshipID}
	}
	return rel.doc.Clone(), nil
}

func (s *fakeStore) UpsertRelationships(ctx context.Context, name string, docs []Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertRelationshipErr[name]; err != nil {
		return err
	}
	for _, doc := range docs {
		r := NewRelationship(doc)
		if _, ok := s.twins[r.SourceID()]; !ok {
			return fmt.Errorf("twin %q does not exist", r.SourceID())
		}
		if _, ok := s.twins[r.TargetID()]; !ok {
			return fmt.Errorf("twin %q does not exist", r.TargetID())
		}
		s.rels[r.SourceID()+"/"+r.ID()] = fakeRelationship{name: name, doc: doc.Clone()}
	}
	return nil
}

func (s *fakeStore) DeleteRelationship(ctx context.Context, sourceID, relationshipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sourceID + "/" + relationshipID
	if _, ok := s.rels[key]; !ok {
		return &NotFoundError{Kind: "relationship", ID: key}
	}
	delete(s.rels, key)
	return nil
}

func (s *fakeStore) ListRelationships(ctx context.Context, twinID string, incoming bool) ([]Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []Value
	for _, rel := range s.rels {
		r := NewRelationship(rel.doc)
		if incoming && r.TargetID() == twinID {
			docs = append(docs, rel.doc.Clone())
		}
		if !incoming && r.SourceID() == twinID {
			docs = append(docs, rel.doc.Clone())
		}
	}
	return docs, nil
}

func (s *fakeStore) InsertModels(ctx context.Context, models []Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range models {
		if _, ok := s.models[m.ID]; ok {
			return &AlreadyExistsError{Kind: "model", ID: m.ID}
		}
	}
	for _, m := range models {
		s.models[m.ID] = m
	}
	return nil
}

func (s *fakeStore) LinkModels(ctx context.Context, edges []ModelEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, edges...)
	return nil
}

func (s *fakeStore) GetModel(ctx context.Context, id string) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelReads++
	m, ok := s.models[id]
	if !ok {
		return Model{}, &NotFoundError{Kind: "model", ID: id}
	}
	return m, nil
}

func (s *fakeStore) DeleteModel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[id]; !ok {
		return &NotFoundError{Kind: "model", ID: id}
	}
	for _, e := range s.edges {
		if e.ToID == id {
			return &ReferentialIntegrityError{ID: id}
		}
	}
	delete(s.models, id)
	return nil
}

func (s *fakeStore) EnsureEdgeTypes(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		s.edgeTypes[name]++
	}
	return nil
}

// A fakeParser resolves definition documents through a fixed table, keyed by
// the raw definition text.
type fakeParser struct {
	parsed map[string]ParsedModel
	err    error
}

func (p *fakeParser) ParseModels(definitions []string) ([]ParsedModel, error) {
	if p.err != nil {
		return nil, p.err
	}
	models := make([]ParsedModel, len(definitions))
	for i, def := range definitions {
		parsed, ok := p.parsed[def]
		if !ok {
			return nil, fmt.Errorf("unknown definition %q", def)
		}
		parsed.Definition = def
		models[i] = parsed
	}
	return models, nil
}

// A schemaFunc adapts a plain function to the Schema interface.
type schemaFunc func(Value) []string

func (f schemaFunc) Validate(v Value) []string { return f(v) }

// stringSchema accepts string values only.
var stringSchema = schemaFunc(func(v Value) []string {
	if v.Kind() != KindString {
		return []string{fmt.Sprintf("expected string, got %s", v.Kind())}
	}
	return nil
})

// numberSchema accepts numeric values only.
var numberSchema = schemaFunc(func(v Value) []string {
	if v.Kind() != KindNumber {
		return []string{fmt.Sprintf("expected number, got %s", v.Kind())}
	}
	return nil
})

// mustValue decodes a JSON literal or fails the test.
func mustValue(t *testing.T, data string) Value {
	t.Helper()
	v, err := DecodeValue([]byte(data))
	if err != nil {
		t.Fatal("DecodeValue()", err)
	}
	return v
}

// roomRegistry returns a registry pre-seeded with a small interface hierarchy:
// Room extends Space, Room embeds a thermostat component and declares a
// contains relationship with a since property.
func roomRegistry(store *fakeStore, opts ...RegistryOption) *ModelRegistry {
	parser := &fakeParser{parsed: map[string]ParsedModel{
		"def:space": {
			ID:       "dtmi:example:Space;1",
			Contents: map[string]Content{"name": {Kind: ContentProperty, Name: "name", Schema: stringSchema}},
		},
		"def:room": {
			ID:      "dtmi:example:Room;1",
			Extends: []string{"dtmi:example:Space;1"},
			Contents: map[string]Content{
				"temperature": {Kind: ContentProperty, Name: "temperature", Schema: numberSchema},
				"thermostat": {
					Kind: ContentComponent, Name: "thermostat",
					ComponentSchemaID: "dtmi:example:Thermostat;1",
				},
				"contains": {
					Kind: ContentRelationship, Name: "contains",
					PropertySchemas: map[string]Schema{"since": stringSchema},
				},
			},
		},
		"def:thermostat": {
			ID:       "dtmi:example:Thermostat;1",
			Contents: map[string]Content{"setPoint": {Kind: ContentProperty, Name: "setPoint", Schema: numberSchema}},
		},
	}}
	registry := NewModelRegistry(store, parser, opts...)
	return registry
}

// seedRoomModels persists the Room hierarchy into the store so the registry
// can resolve it.
func seedRoomModels(t *testing.T, store *fakeStore) {
	t.Helper()
	err := store.InsertModels(context.Background(), []Model{
		{ID: "dtmi:example:Space;1", Definition: "def:space"},
		{ID: "dtmi:example:Room;1", Definition: "def:room", Bases: []string{"dtmi:example:Space;1"}},
		{ID: "dtmi:example:Thermostat;1", Definition: "def:thermostat"},
	})
	if err != nil {
		t.Fatal("InsertModels()", err)
	}
}
