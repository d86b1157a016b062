/*
Package storetest provides a suite of tests designed to assess implementations
of the twingraph storage boundary (e.g. in-memory, neo4j).

The tests operate on the specific storage engine via the [twingraph.GraphStore]
interface to check functional correctness and compliance with the behaviours
defined by the boundary: point operations, error taxonomy, batch semantics, and
referential integrity.

Call storetest.Run in its own test to invoke the test-suite:

	func TestEngine(t *testing.T) {
		driver := dbtest.SetupNeo4j(t)
		// Bootstrap a database and build the store under test.
		store := neo4jengine.NewEngine(driver, name)
		storetest.Run(t, store)
	}

The test cases in this suite focus on the boundary contract only. Specific
storage engines are encouraged to perform additional tests which are specific
to the underlying graph engine.
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/twingraph"
)

// Twin and relationship fixtures used across the suite. Cases share them
// because the state of the store at the end of one case is the starting point
// for the next.
const (
	roomModelID  = "dtmi:storetest:Room;1"
	spaceModelID = "dtmi:storetest:Space;1"
)

func twinDoc(id, temperature string) twingraph.Value {
	return mustDecode(`{
		"$dtId": ` + quote(id) + `,
		"$etag": "W/\"fixture\"",
		"$metadata": {"$model": "` + roomModelID + `"},
		"temperature": ` + temperature + `
	}`)
}

func relationshipDoc(source, id, target string) twingraph.Value {
	return mustDecode(`{
		"$relationshipId": ` + quote(id) + `,
		"$sourceId": ` + quote(source) + `,
		"$targetId": ` + quote(target) + `,
		"$relationshipName": "contains",
		"$etag": "W/\"fixture\""
	}`)
}

func mustDecode(text string) twingraph.Value {
	v, err := twingraph.DecodeValue([]byte(text))
	if err != nil {
		panic(fmt.Sprintf("storetest: bad fixture: %v", err))
	}
	return v
}

func quote(s string) string { return `"` + s + `"` }

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// The run function exercises the store and returns unexpected problems.
	run func(ctx context.Context, store twingraph.GraphStore) (problem string)
}

var cases = []testCase{
	{
		name:     "get-missing-twin",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			_, err := store.GetTwin(ctx, "room-1")
			var notFound *twingraph.NotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Sprintf("GetTwin(room-1) = %v, want NotFoundError", err)
			}
			return ""
		},
	},
	{
		name:     "upsert-and-get-twin",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			want := twinDoc("room-1", "21.5")
			if err := store.UpsertTwin(ctx, "room-1", want); err != nil {
				return fmt.Sprintf("UpsertTwin(room-1) failed: %v", err)
			}
			got, err := store.GetTwin(ctx, "room-1")
			if err != nil {
				return fmt.Sprintf("GetTwin(room-1) failed: %v", err)
			}
			if !got.Equal(want) {
				return fmt.Sprintf("GetTwin(room-1) mismatch (-want +got):\n%v", diffValues(want, got))
			}
			return ""
		},
	},
	{
		name:     "upsert-replaces-whole-document",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			replaced := mustDecode(`{
				"$dtId": "room-1",
				"$etag": "W/\"fixture2\"",
				"$metadata": {"$model": "` + roomModelID + `"},
				"humidity": 40
			}`)
			if err := store.UpsertTwin(ctx, "room-1", replaced); err != nil {
				return fmt.Sprintf("UpsertTwin(room-1) failed: %v", err)
			}
			got, err := store.GetTwin(ctx, "room-1")
			if err != nil {
				return fmt.Sprintf("GetTwin(room-1) failed: %v", err)
			}
			obj, _ := got.AsObject()
			if _, stale := obj.Get("temperature"); stale {
				return "GetTwin(room-1) still carries the replaced temperature property"
			}
			if !got.Equal(replaced) {
				return fmt.Sprintf("GetTwin(room-1) mismatch (-want +got):\n%v", diffValues(replaced, got))
			}
			return ""
		},
	},
	{
		name:     "missing-twins-preserves-order",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			missing, err := store.MissingTwins(ctx, []string{"room-9", "room-1", "room-8"})
			if err != nil {
				return fmt.Sprintf("MissingTwins failed: %v", err)
			}
			if diff := cmp.Diff([]string{"room-9", "room-8"}, missing); diff != "" {
				return fmt.Sprintf("MissingTwins mismatch (-want +got):\n%v", diff)
			}
			return ""
		},
	},
	{
		name:     "upsert-relationship-batch",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			if err := store.UpsertTwin(ctx, "room-2", twinDoc("room-2", "19.0")); err != nil {
				return fmt.Sprintf("UpsertTwin(room-2) failed: %v", err)
			}
			if err := store.UpsertTwin(ctx, "room-3", twinDoc("room-3", "22.0")); err != nil {
				return fmt.Sprintf("UpsertTwin(room-3) failed: %v", err)
			}
			docs := []twingraph.Value{
				relationshipDoc("room-1", "rel-a", "room-2"),
				relationshipDoc("room-1", "rel-b", "room-3"),
			}
			if err := store.UpsertRelationships(ctx, "contains", docs); err != nil {
				return fmt.Sprintf("UpsertRelationships failed: %v", err)
			}
			got, err := store.GetRelationship(ctx, "room-1", "rel-a")
			if err != nil {
				return fmt.Sprintf("GetRelationship(room-1, rel-a) failed: %v", err)
			}
			if !got.Equal(docs[0]) {
				return fmt.Sprintf("GetRelationship(room-1, rel-a) mismatch (-want +got):\n%v", diffValues(docs[0], got))
			}
			return ""
		},
	},
	{
		name:     "list-relationships-both-directions",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			outgoing, err := store.ListRelationships(ctx, "room-1", false)
			if err != nil {
				return fmt.Sprintf("ListRelationships(room-1) failed: %v", err)
			}
			if len(outgoing) != 2 {
				return fmt.Sprintf("len(outgoing) = %v, want 2", len(outgoing))
			}
			incoming, err := store.ListRelationships(ctx, "room-2", true)
			if err != nil {
				return fmt.Sprintf("ListRelationships(room-2, incoming) failed: %v", err)
			}
			if len(incoming) != 1 {
				return fmt.Sprintf("len(incoming) = %v, want 1", len(incoming))
			}
			if !incoming[0].Equal(relationshipDoc("room-1", "rel-a", "room-2")) {
				return "incoming relationship of room-2 is not rel-a"
			}
			return ""
		},
	},
	{
		name:     "delete-twin-with-edges-fails",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			err := store.DeleteTwin(ctx, "room-1")
			var integrity *twingraph.ReferentialIntegrityError
			if !errors.As(err, &integrity) {
				return fmt.Sprintf("DeleteTwin(room-1) = %v, want ReferentialIntegrityError", err)
			}
			return ""
		},
	},
	{
		name:     "delete-relationships-then-twin",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			if err := store.DeleteRelationship(ctx, "room-1", "rel-a"); err != nil {
				return fmt.Sprintf("DeleteRelationship(rel-a) failed: %v", err)
			}
			if err := store.DeleteRelationship(ctx, "room-1", "rel-b"); err != nil {
				return fmt.Sprintf("DeleteRelationship(rel-b) failed: %v", err)
			}
			var notFound *twingraph.NotFoundError
			if err := store.DeleteRelationship(ctx, "room-1", "rel-a"); !errors.As(err, &notFound) {
				return fmt.Sprintf("second DeleteRelationship(rel-a) = %v, want NotFoundError", err)
			}
			if err := store.DeleteTwin(ctx, "room-1"); err != nil {
				return fmt.Sprintf("DeleteTwin(room-1) failed: %v", err)
			}
			if err := store.DeleteTwin(ctx, "room-1"); !errors.As(err, &notFound) {
				return fmt.Sprintf("second DeleteTwin(room-1) = %v, want NotFoundError", err)
			}
			return ""
		},
	},
	{
		name:     "insert-models-and-duplicates",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			models := []twingraph.Model{
				{ID: spaceModelID, Definition: `{"@id": "` + spaceModelID + `"}`},
				{ID: roomModelID, Definition: `{"@id": "` + roomModelID + `"}`, Bases: []string{spaceModelID}},
			}
			if err := store.InsertModels(ctx, models); err != nil {
				return fmt.Sprintf("InsertModels failed: %v", err)
			}
			var exists *twingraph.AlreadyExistsError
			err := store.InsertModels(ctx, models[1:])
			if !errors.As(err, &exists) {
				return fmt.Sprintf("duplicate InsertModels = %v, want AlreadyExistsError", err)
			}
			got, err := store.GetModel(ctx, roomModelID)
			if err != nil {
				return fmt.Sprintf("GetModel(%v) failed: %v", roomModelID, err)
			}
			if diff := cmp.Diff(models[1], got); diff != "" {
				return fmt.Sprintf("GetModel mismatch (-want +got):\n%v", diff)
			}
			return ""
		},
	},
	{
		name:     "linked-model-cannot-be-deleted",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			edges := []twingraph.ModelEdge{{FromID: roomModelID, ToID: spaceModelID, Kind: twingraph.ModelExtends}}
			if err := store.LinkModels(ctx, edges); err != nil {
				return fmt.Sprintf("LinkModels failed: %v", err)
			}
			err := store.DeleteModel(ctx, spaceModelID)
			var integrity *twingraph.ReferentialIntegrityError
			if !errors.As(err, &integrity) {
				return fmt.Sprintf("DeleteModel(%v) = %v, want ReferentialIntegrityError", spaceModelID, err)
			}
			// Deleting the dependent first releases the base.
			if err := store.DeleteModel(ctx, roomModelID); err != nil {
				return fmt.Sprintf("DeleteModel(%v) failed: %v", roomModelID, err)
			}
			if err := store.DeleteModel(ctx, spaceModelID); err != nil {
				return fmt.Sprintf("DeleteModel(%v) failed: %v", spaceModelID, err)
			}
			var notFound *twingraph.NotFoundError
			if err := store.DeleteModel(ctx, spaceModelID); !errors.As(err, &notFound) {
				return fmt.Sprintf("second DeleteModel(%v) = %v, want NotFoundError", spaceModelID, err)
			}
			return ""
		},
	},
	{
		name:     "ensure-edge-types-is-idempotent",
		location: locateSource(),
		run: func(ctx context.Context, store twingraph.GraphStore) string {
			if err := store.EnsureEdgeTypes(ctx, []string{"contains", "isPartOf"}); err != nil {
				return fmt.Sprintf("EnsureEdgeTypes failed: %v", err)
			}
			if err := store.EnsureEdgeTypes(ctx, []string{"contains"}); err != nil {
				return fmt.Sprintf("repeated EnsureEdgeTypes failed: %v", err)
			}
			return ""
		},
	},
}

// Run executes a sequence of test cases on a storage engine through the
// [twingraph.GraphStore] boundary. It verifies that the engine implements the
// contract of the boundary: round-tripped documents, error taxonomy, and
// referential integrity.
//
// We deliberately avoid receiving a contextual argument for each test to
// ensure that the test suite runs under neutral conditions without any
// external influences or timeouts. This approach is consistent across test
// cases because the intention is to test the correctness of operations, not
// their performance or context-dependent behaviours.
//
// The testing process requires all cases to execute in a strict sequence
// because the state of the store at the end of one test is the starting point
// for the next. This sequential execution is crucial in evaluating whether the
// state progresses correctly over a series of operations, akin to the
// real-world use of an engine over time.
func Run(t *testing.T, store twingraph.GraphStore) {
	t.Helper()

	// We deliberately use the background context because this test-suite does
	// not check performance. Also, store implementations should not depend on
	// specific context values. When this assumption changes, this test-suite
	// will have changes accordingly as well.
	ctx := context.Background()

	for _, c := range cases {
		// We encourage developers to read the source code directly, especially
		// when failures are not clear enough. We'd put a lot of effort into making
		// this suite readable and understandable.
		t.Logf("Read the source for test-case %v at %v", c.name, c.location)
		if problem := c.run(ctx, store); problem != "" {
			// A test case cannot run meaningfully if the previous case had failed,
			// because each case's state depends on the previous operations.
			t.Fatalf("Case %v: %v", c.name, problem)
		}
	}
}

// diffValues renders a readable diff of two documents through their JSON
// encoding, because the Value union carries unexported fields cmp cannot see.
func diffValues(want, got twingraph.Value) string {
	w, _ := want.MarshalJSON()
	g, _ := got.MarshalJSON()
	return cmp.Diff(string(w), string(g))
}

// Call this function to set the location of every test-case in the source
// file. The returned string is used to guide developers of storage engines to
// the appropriate test-case.
func locateSource() (path string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}
