package twingraph

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/twingraph/query"
)

// Query compiles twin-query text into the native graph dialect and executes
// it, returning one Record per result row. Queries with an unbounded-length
// traversal are routed to a read-write-capable connection; everything else
// runs on a read connection.
func (c *Client) Query(ctx context.Context, text string) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "Query")
	defer span.End()

	compiled, err := query.Compile(text, c.namespace)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("query.cypher", compiled.Cypher),
		attribute.Bool("query.unbounded", compiled.UnboundedTraversal),
	)
	return c.store.Query(ctx, GraphQuery{
		Text:      compiled.Cypher,
		ReadWrite: compiled.UnboundedTraversal,
	})
}

// QueryNative executes already-native graph query text, bypassing the
// compiler. Callers own the dialect of the text they pass.
func (c *Client) QueryNative(ctx context.Context, q GraphQuery) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "QueryNative", trace.WithAttributes(
		attribute.Bool("query.readwrite", q.ReadWrite),
	))
	defer span.End()
	return c.store.Query(ctx, q)
}
