package twingraph

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/twingraph")
var meter = otel.Meter("github.com/go-digitaltwin/twingraph")

var (
	// validationFailures counts entity writes rejected by model validation.
	// Watching it distinguishes a misbehaving producer from a storage problem.
	validationFailures metric.Int64Counter

	// batchItemFailures counts failed items of relationship batch submissions.
	batchItemFailures metric.Int64Counter
)

func init() {
	// We're initiating the metric instruments on the otel meter. Encounter an
	// error during an instrument's initialisation, triggering a panic. This
	// scenario should not occur, if it does, it is likely related to the
	// attributes applied on the instrument.
	var err error
	validationFailures, err = meter.Int64Counter(
		"twingraph_validation_failures_counter",
		metric.WithDescription("how many entity writes were rejected by model validation"),
	)
	if err != nil {
		s := fmt.Sprintf("twingraph: failed to init 'twingraph_validation_failures_counter' instrument: %v", err)
		panic(s)
	}
	batchItemFailures, err = meter.Int64Counter(
		"twingraph_batch_item_failures_counter",
		metric.WithDescription("how many items of relationship batch submissions failed"),
	)
	if err != nil {
		s := fmt.Sprintf("twingraph: failed to init 'twingraph_batch_item_failures_counter' instrument: %v", err)
		panic(s)
	}
}
