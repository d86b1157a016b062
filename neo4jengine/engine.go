// Package neo4jengine implements the twingraph storage boundary on Neo4j.
//
// Twins are stored as :Twin nodes and relationships as typed edges between
// them. Neo4j properties cannot nest, so each entity carries its full JSON
// document in a _document property alongside flattened scalar properties that
// queries and constraints can reach. Models are stored as :Model nodes whose
// structural dependencies (extends, component use) are edges between them.
//
// All Cypher text lives in this package. Callers speak the twingraph
// interfaces and deal in decoded documents only.
package neo4jengine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/twingraph"
)

// Engine provides the operations required to maintain a digital-twin graph on
// Neo4j. It implements [twingraph.GraphStore].
//
// Every operation opens its own session and closes it before returning, so
// session-specific errors or resources are contained and do not affect
// subsequent operations. No operation spans multiple interactive statements
// across sessions.
type Engine struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name that identifies the specific underlying neo4j graph.
}

// NewEngine returns a ready-to-use Engine using the given database as the
// underlying neo4j graph. Call BootstrapDatabase first on fresh databases to
// install the constraints this engine relies on.
func NewEngine(driver neo4j.DriverWithContext, database string) *Engine {
	return &Engine{driver: driver, database: database}
}

// Query executes native Cypher text and returns one twingraph.Record per
// result row. Queries flagged ReadWrite run on a write session because read
// replicas reject unbounded-length traversals.
func (e *Engine) Query(ctx context.Context, q twingraph.GraphQuery) ([]twingraph.Record, error) {
	ctx, span := tracer.Start(ctx, "Query", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.Bool("query.readwrite", q.ReadWrite),
	))
	defer span.End()

	mode := neo4j.AccessModeRead
	if q.ReadWrite {
		mode = neo4j.AccessModeWrite
	}
	s := e.session(ctx, mode)
	defer e.closeSession(ctx, s, mode)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, q.Text, q.Params)
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		var records []twingraph.Record
		for result.Next(ctx) {
			record, err := parseRecord(result.Record())
			if err != nil {
				return nil, fmt.Errorf("parse record: %w", err)
			}
			records = append(records, record)
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("iterate records: %w", err)
		}
		return records, nil
	}

	var out any
	var err error
	if q.ReadWrite {
		out, err = s.ExecuteWrite(ctx, work)
	} else {
		out, err = s.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, fmt.Errorf("neo4j execute: %w", err)
	}
	return out.([]twingraph.Record), nil
}

// We open a new session for every query cycle to ensure transactional
// isolation and to prevent any state carryover between different query
// executions.
func (e *Engine) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return e.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: e.database,
		AccessMode:   mode,
	})
}

func (e *Engine) closeSession(ctx context.Context, s neo4j.SessionWithContext, mode neo4j.AccessMode) {
	if err := s.Close(ctx); err != nil {
		m := "read"
		if mode == neo4j.AccessModeWrite {
			m = "write"
		}
		component.Logger(ctx).Error("Failed to close session", "error", err, "mode", m, "neo4j.database", e.database)
	}
}

// read runs the given unit of work in a read transaction on a fresh session.
func (e *Engine) read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	s := e.session(ctx, neo4j.AccessModeRead)
	defer e.closeSession(ctx, s, neo4j.AccessModeRead)
	return s.ExecuteRead(ctx, work)
}

// write runs the given unit of work in a write transaction on a fresh session.
// The neo4j SDK provides transaction management features such as retries,
// error handling, and deadlock resolution.
func (e *Engine) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	s := e.session(ctx, neo4j.AccessModeWrite)
	defer e.closeSession(ctx, s, neo4j.AccessModeWrite)
	return s.ExecuteWrite(ctx, work)
}

// We modify the underlying neo4j graph database in a way that prompts us when
// the graph violates some of our basic constraints.
//
// When we suspect the graph has lost its integrity, we may no longer operate
// on it. In which case, we must immediately stop all operations. This is
// achieved with a panic preceded by telemetry signals (traces, metrics, and
// logs) to bring the situation to our immediate attention.
func panicWithCorruptedGraph(ctx context.Context, reason string) {
	component.Logger(ctx).ErrorContext(ctx, "Encountered corrupted neo4j graph that violates digital-twin axioms", "error", reason)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)
	corruptedGraphCounter.Add(ctx, 1)
	panic(fmt.Errorf("neo4j graph violates digital-twin axioms: %v", reason))
}

// An errPropertyNotFound occurs when a projected column of a query result is
// missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a projected column has a runtime
// type that is different from the expected type. The error message contains
// the effective type of the property at runtime.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying dependent code properly.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	return "unexpected property type: " + e.Type.String()
}

// These type constraints protect against unsupported neo4j types like int,
// uint32, etc.
//
// This is a subset of all types supported by the neo4j package because listing
// all of them would be troublesome. When a new type is necessary, developers
// can simply add it to the list here.
type recordProperty interface {
	int64 | string | bool | neo4j.Node | neo4j.Relationship | []any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}
