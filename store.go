package twingraph

import (
	"context"
)

// The interfaces in this file form the storage-engine boundary. The entity
// engine and the model registry speak only these interfaces; the neo4jengine
// package provides the production implementation, and tests substitute
// in-memory fakes. All methods block on network I/O and honour context
// cancellation; none of them span multiple interactive statements, so a
// cancelled call never leaves the engine mid-write.

// A GraphQuery is native graph query text ready for execution, together with
// its parameters and the routing information the caller needs before execution.
type GraphQuery struct {
	Text   string
	Params map[string]any
	// ReadWrite demands a read-write-capable connection. Compiled queries that
	// contain an unbounded-length traversal set this, because read replicas do
	// not support that construct.
	ReadWrite bool
}

// A Record is one result row of a graph query, keyed by projected column name.
type Record map[string]Value

// Querier executes native graph query text.
type Querier interface {
	Query(ctx context.Context, q GraphQuery) ([]Record, error)
}

// EntityStore provides the point operations of the twin and relationship
// lifecycle. Documents cross this boundary as decoded Values; how they map to
// vertices and edges is the implementation's concern.
type EntityStore interface {
	// GetTwin returns the stored document of the twin with the given id, or a
	// NotFoundError.
	GetTwin(ctx context.Context, id string) (Value, error)

	// UpsertTwin atomically matches the twin by id, creates it when absent, and
	// overwrites all stored properties with the given document.
	UpsertTwin(ctx context.Context, id string, doc Value) error

	// DeleteTwin removes the twin. Deleting an absent twin returns a
	// NotFoundError; deletion is not idempotent at the API level.
	DeleteTwin(ctx context.Context, id string) error

	// MissingTwins performs one existence check for the given ids and returns the
	// subset that does not exist, preserving input order.
	MissingTwins(ctx context.Context, ids []string) ([]string, error)

	// GetRelationship returns the stored document of the edge addressed by its
	// source twin and relationship id, or a NotFoundError.
	GetRelationship(ctx context.Context, sourceID, relationshipID string) (Value, error)

	// UpsertRelationships upserts a batch of edges that all share the given
	// relationship name. Relationship names are structurally distinct edge types,
	// so one call writes one edge type; the batch is atomic within the call.
	UpsertRelationships(ctx context.Context, name string, docs []Value) error

	// DeleteRelationship removes the edge. Absence is a NotFoundError.
	DeleteRelationship(ctx context.Context, sourceID, relationshipID string) error

	// ListRelationships returns the documents of all edges whose source
	// (incoming=false) or target (incoming=true) is the given twin.
	ListRelationships(ctx context.Context, twinID string, incoming bool) ([]Value, error)
}

// A ModelEdgeKind classifies a structural dependency edge between models.
type ModelEdgeKind int

const (
	// ModelExtends marks a direct "extends" relation.
	ModelExtends ModelEdgeKind = iota
	// ModelUsesComponent marks a reference from an interface to the interface
	// defining one of its embedded components.
	ModelUsesComponent
)

// A ModelEdge is one structural dependency edge between two persisted models.
type ModelEdge struct {
	FromID string
	ToID   string
	Kind   ModelEdgeKind
}

// ModelStore persists interface definitions and their dependency structure.
type ModelStore interface {
	// InsertModels persists the given models. A model whose id already exists
	// yields an AlreadyExistsError; models are immutable once created.
	InsertModels(ctx context.Context, models []Model) error

	// LinkModels persists structural dependency edges between models.
	LinkModels(ctx context.Context, edges []ModelEdge) error

	// GetModel returns the stored model, or a NotFoundError.
	GetModel(ctx context.Context, id string) (Model, error)

	// DeleteModel removes the model. While dependency edges to it exist the
	// store returns a ReferentialIntegrityError; absence is a NotFoundError.
	DeleteModel(ctx context.Context, id string) error

	// EnsureEdgeTypes registers one distinct edge type per relationship name.
	// The call is idempotent: names that are already registered are skipped.
	EnsureEdgeTypes(ctx context.Context, names []string) error
}

// GraphStore is the full storage-engine boundary. neo4jengine.Engine satisfies
// it; callers that only read may depend on the narrower interfaces instead.
type GraphStore interface {
	Querier
	EntityStore
	ModelStore
}
