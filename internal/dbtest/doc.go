/*
Package dbtest spins up disposable Neo4j containers for integration tests.

It wraps the testcontainers-go neo4j module with the defaults the twingraph
test suite needs: no authentication, the enterprise image (required for
multi-database support), a connectivity check with retries, and cleanup tied
to the test lifecycle. Tests that need a customised Neo4j deployment should
call testcontainers-go directly instead.

After a failure the container can be kept alive for manual inspection of the
graph:

	go test -dbtest.inspect

Test support only; never import this package from production code.
*/
package dbtest
