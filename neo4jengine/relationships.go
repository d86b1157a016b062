package neo4jengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/twingraph"
)

// Relationship names become edge types, and Cypher cannot parameterise an edge
// type. The name is therefore spliced into query text, escaped with backticks;
// a name containing a backtick cannot be escaped safely and is rejected.
func edgeType(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("relationship name must not be empty")
	}
	if strings.ContainsRune(name, '`') {
		return "", fmt.Errorf("relationship name %q must not contain a backtick", name)
	}
	return "`" + name + "`", nil
}

// GetRelationship returns the stored document of the edge addressed by its
// source twin and relationship id.
func (e *Engine) GetRelationship(ctx context.Context, sourceID, relationshipID string) (twingraph.Value, error) {
	ctx, span := tracer.Start(ctx, "GetRelationship", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("twin.id", sourceID),
		attribute.String("relationship.id", relationshipID),
	))
	defer span.End()

	query := `
		MATCH (s:` + twinLabel + ` {` + twinIDRef + `: $source})-[r]->(:` + twinLabel + `)
		WHERE r.` + relationshipIDRef + ` = $id
		RETURN r._document AS doc
	`
	out, err := e.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"source": sourceID, "id": relationshipID})
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
		return twingraph.Value{}, &twingraph.NotFoundError{Kind: "relationship", ID: sourceID + "/" + relationshipID}
	case 1:
		return twingraph.DecodeValue([]byte(docs[0]))
	default:
		panicWithCorruptedGraph(ctx, fmt.Sprintf("relationship %q of twin %q matched %v edges instead of 0/1", relationshipID, sourceID, len(docs)))
		return twingraph.Value{}, nil
	}
}

// UpsertRelationships upserts a batch of edges that all share the given
// relationship name. The batch runs in one transaction, so it is atomic within
// the call.
func (e *Engine) UpsertRelationships(ctx context.Context, name string, docs []twingraph.Value) error {
	ctx, span := tracer.Start(ctx, "UpsertRelationships", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("relationship.name", name),
		attribute.Int("relationship.count", len(docs)),
	))
	defer span.End()

	kind, err := edgeType(name)
	if err != nil {
		return err
	}
	rels := make([]map[string]any, len(docs))
	for i, doc := range docs {
		rel := twingraph.NewRelationship(doc)
		props, err := formatDocument(doc)
		if err != nil {
			return fmt.Errorf("format relationship %q: %w", rel.ID(), err)
		}
		rels[i] = map[string]any{
			"source": rel.SourceID(),
			"target": rel.TargetID(),
			"id":     rel.ID(),
			"props":  props,
		}
	}

	query := `
		UNWIND $rels AS rel
		MATCH (s:` + twinLabel + ` {` + twinIDRef + `: rel.source})
		MATCH (d:` + twinLabel + ` {` + twinIDRef + `: rel.target})
		MERGE (s)-[r:` + kind + ` {` + relationshipIDRef + `: rel.id}]->(d)
		SET r = rel.props
		RETURN count(r) AS edges
	`
	out, err := e.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"rels": rels})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		return getRecordProperty[int64](record, "edges")
	})
	if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}
	// Every submitted edge must match exactly one (source, target) twin pair.
	// The caller checks twin existence before submitting, so a short count
	// means a twin vanished mid-flight; the transaction already committed
	// nothing extra, surface it as an error.
	if edges := out.(int64); edges != int64(len(docs)) {
		return fmt.Errorf("upserted %v of %v %q edges: referenced twin disappeared", edges, len(docs), name)
	}
	return nil
}

// DeleteRelationship removes the edge. Absence is a NotFoundError.
func (e *Engine) DeleteRelationship(ctx context.Context, sourceID, relationshipID string) error {
	ctx, span := tracer.Start(ctx, "DeleteRelationship", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("twin.id", sourceID),
		attribute.String("relationship.id", relationshipID),
	))
	defer span.End()

	query := `
		MATCH (s:` + twinLabel + ` {` + twinIDRef + `: $source})-[r]->(:` + twinLabel + `)
		WHERE r.` + relationshipIDRef + ` = $id
		DELETE r
		RETURN count(r) AS edges
	`
	out, err := e.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"source": sourceID, "id": relationshipID})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("query single result: %w", err)
		}
		return getRecordProperty[int64](record, "edges")
	})
	if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}
	switch edges := out.(int64); {
	case edges == 0:
		return &twingraph.NotFoundError{Kind: "relationship", ID: sourceID + "/" + relationshipID}
	case edges > 1:
		panicWithCorruptedGraph(ctx, fmt.Sprintf("delete-relationship removed %v edges instead of 0/1", edges))
	}
	return nil
}

// ListRelationships returns the documents of all edges whose source
// (incoming=false) or target (incoming=true) is the given twin.
func (e *Engine) ListRelationships(ctx context.Context, twinID string, incoming bool) ([]twingraph.Value, error) {
	ctx, span := tracer.Start(ctx, "ListRelationships", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("twin.id", twinID),
		attribute.Bool("relationship.incoming", incoming),
	))
	defer span.End()

	pattern := `(t:` + twinLabel + ` {` + twinIDRef + `: $id})-[r]->(:` + twinLabel + `)`
	if incoming {
		pattern = `(:` + twinLabel + `)-[r]->(t:` + twinLabel + ` {` + twinIDRef + `: $id})`
	}
	query := `
		MATCH ` + pattern + `
		RETURN r._document AS doc
		ORDER BY r.` + relationshipIDRef + `
	`
	out, err := e.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"id": twinID})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		return collectStrings(ctx, result, "doc")
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j execute: %w", err)
	}

	texts := out.([]string)
	docs := make([]twingraph.Value, len(texts))
	for i, text := range texts {
		doc, err := twingraph.DecodeValue([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("decode relationship document: %w", err)
		}
		docs[i] = doc
	}
	return docs, nil
}
