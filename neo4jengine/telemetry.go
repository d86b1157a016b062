package neo4jengine

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/twingraph/neo4jengine")
var meter = otel.Meter("github.com/go-digitaltwin/twingraph/neo4jengine")

var (
	// corruptedGraphCounter counts how many times an operation found the graph
	// violating a digital-twin axiom before panicking. This counter lets us
	// measure the frequency of this fatality.
	corruptedGraphCounter metric.Int64Counter
)

func init() {
	// We're initiating the metric instruments on the otel meter. Encounter an
	// error during an instrument's initialisation, triggering a panic. This
	// scenario should not occur, if it does, it is likely related to the
	// attributes applied on the instrument.
	var err error
	corruptedGraphCounter, err = meter.Int64Counter(
		"neo4jengine_corrupted_graph_counter",
		metric.WithDescription("how many times an operation found the graph violating a digital-twin axiom"),
	)
	if err != nil {
		s := fmt.Sprintf("neo4jengine: failed to init 'neo4jengine_corrupted_graph_counter' instrument: %v", err)
		panic(s)
	}
}
