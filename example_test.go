package twingraph_test

import (
	"context"
	"fmt"

	"github.com/danielorbach/go-component"
	"github.com/danielorbach/go-component/loader"
	"github.com/go-digitaltwin/twingraph"
	"github.com/go-digitaltwin/twingraph/dtdl"
	"github.com/go-digitaltwin/twingraph/neo4jengine"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"gocloud.dev/pubsub"
)

// Component describes an exemplar deployment of a twin-graph service.
//
// For this example, we will omit most of its fields - do not omit them in your
// own components.
var Component = component.Descriptor{
	Name: "ExampleTwinGraph",
	// ...
	Bootstrap: func(l *component.L, linker component.Linker, options any) error {
		// The production storage engine is a Neo4j deployment. Connection details
		// normally arrive through the component's options.
		driver, err := neo4j.NewDriverWithContext("neo4j://graph:7687", neo4j.NoAuth())
		if err != nil {
			return err
		}
		store := neo4jengine.NewEngine(driver, "twins")

		// The registry resolves and caches interface definitions; the client
		// validates every twin and relationship write against it.
		registry := twingraph.NewModelRegistry(store, dtdl.Parser{})

		// Normally, a component is given a linker that is used to open the topic
		// that carries change notifications to downstream consumers. For this
		// example, we assume the outcome of that process is stored at the
		// following variables.
		var changes *pubsub.Topic
		var notifications *pubsub.Subscription

		client := twingraph.NewClient(store, registry, twingraph.WithChangeTopic(changes))

		// Downstream processing of the graph's own change feed runs as a forked
		// subcomponent for the lifetime of the component.
		l.Fork("stream changes", twingraph.StreamChanges(notifications, func(ctx context.Context, n twingraph.ChangeNotification) error {
			fmt.Println(n.Kind, n.Entity, n.ID)
			return nil
		}))

		// Serving traffic with the client is left to the surrounding component;
		// once its subcomponents have started, Bootstrap returns to indicate the
		// component is ready and executing.
		_ = client
		return nil
	},
}

func ExampleClient_component() {
	loader.ParseFlags(&Component)
	// A deployable executable must know how to load its component descriptors.
	//
	// For this example, leave that part to your imagination.
}
