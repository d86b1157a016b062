package neo4jengine

import (
	"context"
	"testing"

	"github.com/go-digitaltwin/twingraph/internal/dbtest"
	"github.com/go-digitaltwin/twingraph/storetest"
)

func TestEngine(t *testing.T) {
	driver := dbtest.SetupNeo4j(t)
	name := dbtest.DatabaseName(t)
	if err := BootstrapDatabase(context.Background(), driver, name); err != nil {
		t.Fatal("BootstrapDatabase()", err)
	}
	storetest.Run(t, NewEngine(driver, name))
}
