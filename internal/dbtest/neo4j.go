package dbtest

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	neo4jtest "github.com/testcontainers/testcontainers-go/modules/neo4j"
)

// Inspect keeps the container of a failed test running so the graph can be
// inspected by hand. The testcontainers reaper will still collect the
// container eventually.
var Inspect = flag.Bool("dbtest.inspect", false, "keep test container running for inspection after a failed test completes")

// Neo4jImage is the image used for the Neo4j container.
//
// The enterprise variant is required because the community edition supports
// only a single user database and the suite creates one per test.
//
// See <https://hub.docker.com/_/neo4j> for more images.
const Neo4jImage = "docker.io/neo4j:5-enterprise"

// Default port of the transactional HTTP(S) endpoints:
// <https://neo4j.com/docs/rest-docs/current>
const (
	neo4jHTTPS = nat.Port("7473/tcp")
	neo4jHTTP  = nat.Port("7474/tcp")
)

// SetupNeo4j starts a Neo4j container and returns a driver connected to it.
// Container and driver are both torn down during cleanup of the provided
// [*testing.T].
//
// The test is skipped under the '-short' flag and marked parallel, since
// container startup dominates its runtime.
//
// The container configuration is whatever the twingraph suite considers a
// standard deployment and may change over time; tests needing a particular
// Neo4j setup should drive testcontainers-go themselves.
func SetupNeo4j(t *testing.T) neo4j.DriverWithContext {
	t.Helper()

	// Container-based tests are long-running and should respect the '-short' flag.
	if testing.Short() {
		t.Skip("skipping container-based test in short mode")
	}

	// Container startup dominates the runtime; never serialise these.
	t.Parallel()

	ctx := context.Background()

	container, err := neo4jtest.Run(ctx, Neo4jImage,
		testcontainers.WithLogger(log.TestLogger(t)),
		neo4jtest.WithoutAuthentication(),
		neo4jtest.WithAcceptCommercialLicenseAgreement(),
	)
	if err != nil {
		t.Fatal("Run neo4j container:", err)
	}
	t.Cleanup(func() {
		t.Logf("terminating neo4j container %q", container.GetContainerID())
		if err := container.Terminate(ctx); err != nil {
			t.Error("cleanup: terminate container:", err)
		}
	})

	boltURL, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatal("BoltUrl:", err)
	}
	// The browser endpoint is only used for the inspection hint below. See
	// <https://neo4j.com/docs/browser-manual/current/operations/browser-url-parameters>
	httpEndpoint, err := container.PortEndpoint(ctx, neo4jHTTP, "http")
	if err != nil {
		t.Fatal("PortEndpoint:", err)
	}

	driver, err := neo4j.NewDriverWithContext(boltURL, neo4j.NoAuth())
	if err != nil {
		t.Fatal("NewDriverWithContext:", err)
	}
	t.Cleanup(func() {
		if err := driver.Close(ctx); err != nil {
			t.Error("cleanup: close neo4j driver:", err)
		}
	})

	if err := verifyConnectivityWithRetries(t, ctx, driver); err != nil {
		t.Fatalf("No connection to the neo4j server after retries: %v", err)
	}

	// Keep the container around for manual debugging of the graph.
	t.Cleanup(func() {
		if t.Failed() && *Inspect {
			t.Logf("container %v kept running for inspection (Ctrl+C to terminate)", container.GetContainerID())
			t.Logf("browser = %s/browser?preselectAuthMethod=%s&dbms=%s", httpEndpoint, url.QueryEscape("[NO_AUTH]"), url.QueryEscape(boltURL))
			t.Logf("bolt = %s", boltURL)
			waitForInspection()
		}
	})

	return driver
}

// verifyConnectivityWithRetries checks the connection to Neo4j, retrying a
// few times because the container can report ready slightly before the
// server accepts bolt connections.
func verifyConnectivityWithRetries(t *testing.T, ctx context.Context, driver neo4j.DriverWithContext) error {
	t.Helper()

	const retryLimit = 5
	const retryPause = 100 * time.Millisecond

	var err error
	for r := 0; r <= retryLimit; r++ {
		if err = driver.VerifyConnectivity(ctx); err == nil {
			return nil
		}
		if r == retryLimit {
			break
		}
		t.Logf("retry [%d/%d] after failed connection to the neo4j server: %v", r+1, retryLimit, err)
		select {
		case <-time.After(retryPause):
		case <-ctx.Done():
			return fmt.Errorf("retry pause interrupted")
		}
	}
	return err
}

// DatabaseName derives a Neo4j database name from the test name. Neo4j
// database names must start with a letter and may only contain ASCII letters,
// digits and dots, so everything else is dropped and the result is lowercased
// and truncated to the 63-character limit.
//
// Deriving the name from the test keeps concurrent tests on a shared container
// isolated from each other.
func DatabaseName(t *testing.T) string {
	t.Helper()

	name := make([]rune, 0, len(t.Name()))
	for _, r := range strings.ToLower(t.Name()) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			name = append(name, r)
		}
	}
	if len(name) == 0 || name[0] < 'a' || name[0] > 'z' {
		name = append([]rune("db"), name...)
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return string(name)
}

// waitForInspection blocks until the user is done inspecting the database and
// sends an interrupt (Ctrl+C).
func waitForInspection() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	<-c
}
