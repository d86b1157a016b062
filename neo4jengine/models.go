package neo4jengine

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/twingraph"
)

// Edge types between :Model nodes. These never collide with relationship
// names because model edges only ever connect :Model nodes.
const (
	extendsEdge       = "EXTENDS"
	usesComponentEdge = "USES_COMPONENT"
)

// InsertModels persists the given models. A model whose id already exists
// fails the whole batch with an AlreadyExistsError; models are immutable once
// created.
func (e *Engine) InsertModels(ctx context.Context, models []twingraph.Model) error {
	ctx, span := tracer.Start(ctx, "InsertModels", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.Int("model.count", len(models)),
	))
	defer span.End()

	ids := make([]string, len(models))
	rows := make([]map[string]any, len(models))
	for i, m := range models {
		ids[i] = m.ID
		bases := m.Bases
		if bases == nil {
			// Stored as an empty list so reads never see a null property.
			bases = []string{}
		}
		rows[i] = map[string]any{
			"id":         m.ID,
			"definition": m.Definition,
			"bases":      bases,
		}
	}

	// The duplicate probe and the creation run in one transaction. The
	// uniqueness constraint from BootstrapDatabase backstops concurrent
	// submissions that race past the probe.
	var dup string
	_, err := e.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		dup = ""
		probe, err := tx.Run(ctx, `
			UNWIND $ids AS id
			MATCH (m:`+modelLabel+` {id: id})
			RETURN m.id AS id
		`, map[string]any{"ids": ids})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		existing, err := collectStrings(ctx, probe, "id")
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			dup = existing[0]
			return nil, nil
		}
		if _, err := tx.Run(ctx, `
			UNWIND $models AS model
			CREATE (m:`+modelLabel+`)
			SET m = model
		`, map[string]any{"models": rows}); err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}
	if dup != "" {
		return &twingraph.AlreadyExistsError{Kind: "model", ID: dup}
	}
	return nil
}

// LinkModels persists structural dependency edges between models. Both
// endpoints must already be stored.
func (e *Engine) LinkModels(ctx context.Context, edges []twingraph.ModelEdge) error {
	ctx, span := tracer.Start(ctx, "LinkModels", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.Int("model.edges", len(edges)),
	))
	defer span.End()

	// Group per kind because the edge type cannot be parameterised.
	byKind := map[string][]map[string]any{}
	for _, edge := range edges {
		kind := extendsEdge
		if edge.Kind == twingraph.ModelUsesComponent {
			kind = usesComponentEdge
		}
		byKind[kind] = append(byKind[kind], map[string]any{"from": edge.FromID, "to": edge.ToID})
	}

	_, err := e.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for kind, rows := range byKind {
			query := `
				UNWIND $edges AS edge
				MATCH (from:` + modelLabel + ` {id: edge.from})
				MATCH (to:` + modelLabel + ` {id: edge.to})
				MERGE (from)-[e:` + kind + `]->(to)
				RETURN count(e) AS edges
			`
			result, err := tx.Run(ctx, query, map[string]any{"edges": rows})
			if err != nil {
				return nil, fmt.Errorf("run cypher: %w", err)
			}
			record, err := result.Single(ctx)
			if err != nil {
				return nil, fmt.Errorf("query single result: %w", err)
			}
			linked, err := getRecordProperty[int64](record, "edges")
			if err != nil {
				return nil, fmt.Errorf("get edges: %w", err)
			}
			if linked != int64(len(rows)) {
				return nil, fmt.Errorf("linked %v of %v %v edges: endpoint model missing", linked, len(rows), kind)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}
	return nil
}

// GetModel returns the stored model, or a NotFoundError.
func (e *Engine) GetModel(ctx context.Context, id string) (twingraph.Model, error) {
	ctx, span := tracer.Start(ctx, "GetModel", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("model.id", id),
	))
	defer span.End()

	query := `
		MATCH (m:` + modelLabel + ` {id: $id})
		RETURN m.definition AS definition, m.bases AS bases
	`
	type stored struct {
		definition string
		bases      []string
		found      bool
	}
	out, err := e.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, fmt.Errorf("iterate records: %w", err)
			}
			return stored{}, nil
		}
		record := result.Record()
		definition, err := getRecordProperty[string](record, "definition")
		if err != nil {
			return nil, fmt.Errorf("get definition: %w", err)
		}
		raw, err := getRecordProperty[[]any](record, "bases")
		if err != nil {
			return nil, fmt.Errorf("get bases: %w", err)
		}
		var bases []string
		for i, b := range raw {
			s, ok := b.(string)
			if !ok {
				return nil, fmt.Errorf("base %v holds %T, expected string", i, b)
			}
			bases = append(bases, s)
		}
		return stored{definition: definition, bases: bases, found: true}, nil
	})
	if err != nil {
		return twingraph.Model{}, fmt.Errorf("neo4j execute: %w", err)
	}

	s := out.(stored)
	if !s.found {
		return twingraph.Model{}, &twingraph.NotFoundError{Kind: "model", ID: id}
	}
	return twingraph.Model{ID: id, Definition: s.definition, Bases: s.bases}, nil
}

// DeleteModel removes the model. While dependency edges point at it the
// delete fails with a ReferentialIntegrityError; absence is a NotFoundError.
func (e *Engine) DeleteModel(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "DeleteModel", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("model.id", id),
	))
	defer span.End()

	probe := `
		OPTIONAL MATCH (m:` + modelLabel + ` {id: $id})
		OPTIONAL MATCH (m)<-[e]-(:` + modelLabel + `)
		RETURN count(DISTINCT m) AS nodes, count(e) AS edges
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
		// The model's own outgoing dependency edges die with it.
		if _, err := tx.Run(ctx, `
			MATCH (m:`+modelLabel+` {id: $id})
			DETACH DELETE m
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
		return &twingraph.NotFoundError{Kind: "model", ID: id}
	case c.nodes > 1:
		panicWithCorruptedGraph(ctx, fmt.Sprintf("model %q matched %v nodes instead of 0/1", id, c.nodes))
		return nil
	case c.edges > 0:
		return &twingraph.ReferentialIntegrityError{ID: id}
	}
	return nil
}

// EnsureEdgeTypes registers one relationship index per relationship name, so
// point lookups by relationship id stay cheap no matter how large an edge
// population grows. The call is idempotent.
func (e *Engine) EnsureEdgeTypes(ctx context.Context, names []string) error {
	ctx, span := tracer.Start(ctx, "EnsureEdgeTypes", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.Int("relationship.names", len(names)),
	))
	defer span.End()

	s := e.session(ctx, neo4j.AccessModeWrite)
	defer e.closeSession(ctx, s, neo4j.AccessModeWrite)

	// Index DDL cannot run inside an explicit transaction, so each statement
	// runs in its own auto-commit.
	for _, name := range names {
		kind, err := edgeType(name)
		if err != nil {
			return err
		}
		result, err := s.Run(ctx, `
			CREATE INDEX `+indexName(name)+` IF NOT EXISTS
			FOR ()-[r:`+kind+`]-()
			ON (r.`+relationshipIDRef+`)
		`, nil)
		if err != nil {
			return fmt.Errorf("create index for %q: %w", name, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("create index for %q: %w", name, err)
		}
	}
	return nil
}

// indexName derives a valid index identifier from a relationship name,
// replacing anything outside [A-Za-z0-9_] with an underscore.
func indexName(name string) string {
	mapped := make([]rune, 0, len(name)+8)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			mapped = append(mapped, r)
		default:
			mapped = append(mapped, '_')
		}
	}
	return "rel_" + string(mapped) + "_id"
}
