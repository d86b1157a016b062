package neo4jengine

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/twingraph"
)

// Graph labels. Twins and models never share a label, so entity queries can
// not leak across the two vertex populations.
const (
	twinLabel  = "Twin"
	modelLabel = "Model"
)

// Reserved document keys contain '$', which Cypher only accepts in escaped
// property references. These constants carry the escaping for inline query
// text; parameter values never need it.
const (
	twinIDRef         = "`$dtId`"
	relationshipIDRef = "`$relationshipId`"
)

// GetTwin returns the stored document of the twin with the given id.
func (e *Engine) GetTwin(ctx context.Context, id string) (twingraph.Value, error) {
	ctx, span := tracer.Start(ctx, "GetTwin", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("twin.id", id),
	))
	defer span.End()

	query := `
		MATCH (t:` + twinLabel + ` {` + twinIDRef + `: $id})
		RETURN t._document AS doc
	`
	out, err := e.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		return collectStrings(ctx, result, "doc")
	})
	if err != nil {
		return twingraph.Value{}, fmt.Errorf("neo4j execute: %w", err)
	}

	docs := out.([]string)
	switch len(docs) {
	case 0:
		return twingraph.Value{}, &twingraph.NotFoundError{Kind: "twin", ID: id}
	case 1:
		return twingraph.DecodeValue([]byte(docs[0]))
	default:
		// The bootstrap constraint guarantees id uniqueness. More than one match
		// means the graph has lost its integrity.
		panicWithCorruptedGraph(ctx, fmt.Sprintf("twin %q matched %v nodes instead of 0/1", id, len(docs)))
		return twingraph.Value{}, nil
	}
}

// UpsertTwin atomically matches the twin by id, creates it when absent, and
// overwrites all stored properties with the given document.
func (e *Engine) UpsertTwin(ctx context.Context, id string, doc twingraph.Value) error {
	ctx, span := tracer.Start(ctx, "UpsertTwin", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("twin.id", id),
	))
	defer span.End()

	props, err := formatDocument(doc)
	if err != nil {
		return fmt.Errorf("format twin %q: %w", id, err)
	}

	// SET t = $props replaces the whole property bag, so properties removed from
	// the document disappear from the node too. The id property rides inside
	// props, keeping the MERGE key intact.
	query := `
		MERGE (t:` + twinLabel + ` {` + twinIDRef + `: $id})
		SET t = $props
		RETURN count(t) AS nodes
	`
	out, err := e.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"id": id, "props": props})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		return getRecordProperty[int64](record, "nodes")
	})
	if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}
	// A single twin is represented by a single node. If the query touched more
	// than one node, the underlying graph has lost its integrity, so we cannot
	// continue to operate on it.
	if nodes := out.(int64); nodes != 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("upsert-twin modified %v nodes instead of 1", nodes))
	}
	return nil
}

// DeleteTwin removes the twin. A twin that still has relationships cannot be
// deleted; callers must remove the edges first.
func (e *Engine) DeleteTwin(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "DeleteTwin", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("twin.id", id),
	))
	defer span.End()

	// Probe and delete run in one transaction, so a relationship created
	// between the two statements cannot orphan an edge.
	probe := `
		OPTIONAL MATCH (t:` + twinLabel + ` {` + twinIDRef + `: $id})
		OPTIONAL MATCH (t)-[e]-()
		RETURN count(DISTINCT t) AS nodes, count(e) AS edges
	`
	type counts struct{ nodes, edges int64 }
	out, err := e.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, probe, map[string]any{"id": id})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		nodes, err := getRecordProperty[int64](record, "nodes")
		if err != nil {
			return nil, fmt.Errorf("get nodes: %w", err)
		}
		edges, err := getRecordProperty[int64](record, "edges")
		if err != nil {
			return nil, fmt.Errorf("get edges: %w", err)
		}
		if nodes != 1 || edges > 0 {
			return counts{nodes, edges}, nil
		}
		if _, err := tx.Run(ctx, `
			MATCH (t:`+twinLabel+` {`+twinIDRef+`: $id})
			DELETE t
		`, map[string]any{"id": id}); err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		return counts{nodes, edges}, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}
	switch c := out.(counts); {
	case c.nodes == 0:
		return &twingraph.NotFoundError{Kind: "twin", ID: id}
	case c.nodes > 1:
		panicWithCorruptedGraph(ctx, fmt.Sprintf("twin %q matched %v nodes instead of 0/1", id, c.nodes))
		return nil
	case c.edges > 0:
		return &twingraph.ReferentialIntegrityError{ID: id}
	}
	return nil
}

// MissingTwins performs one existence check for the given ids and returns the
// subset that does not exist, preserving input order.
func (e *Engine) MissingTwins(ctx context.Context, ids []string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "MissingTwins", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.Int("twin.count", len(ids)),
	))
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}
	// UNWIND preserves the order of the input list, so the returned subset
	// follows submission order without extra sorting.
	query := `
		UNWIND $ids AS id
		OPTIONAL MATCH (t:` + twinLabel + ` {` + twinIDRef + `: id})
		WITH id, t
		WHERE t IS NULL
		RETURN id
	`
	out, err := e.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"ids": ids})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		return collectStrings(ctx, result, "id")
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j execute: %w", err)
	}
	return out.([]string), nil
}

// collectStrings drains the result cursor, extracting the named string column
// of every row.
func collectStrings(ctx context.Context, result neo4j.ResultWithContext, key string) ([]string, error) {
	var values []string
	for result.Next(ctx) {
		v, err := getRecordProperty[string](result.Record(), key)
		if err != nil {
			return nil, fmt.Errorf("get %v: %w", key, err)
		}
		values = append(values, v)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return values, nil
}
