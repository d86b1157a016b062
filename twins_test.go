package twingraph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const roomModel = "dtmi:example:Room;1"

func newRoomClient(t *testing.T, opts ...ClientOption) (*Client, *fakeStore, *time.Time) {
	t.Helper()
	store := newFakeStore()
	seedRoomModels(t, store)
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := &clock
	opts = append([]ClientOption{WithTimeSource(func() time.Time { return *now })}, opts...)
	return NewClient(store, roomRegistry(store), opts...), store, now
}

func TestCreateOrReplaceTwin(t *testing.T) {
	c, store, now := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 21.5, "name": "lobby"}`
	twin, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None())
	if err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}

	if got := twin.ID(); got != "room-1" {
		t.Errorf("ID() = %q, want %q", got, "room-1")
	}
	if twin.ModelID() != roomModel {
		t.Errorf("ModelID() = %q, want %q", twin.ModelID(), roomModel)
	}
	if twin.ETag() == "" {
		t.Error("ETag() is empty after a successful write")
	}
	if ts, ok := twin.PropertyUpdateTime("temperature"); !ok || !ts.Equal(*now) {
		t.Errorf("PropertyUpdateTime(temperature) = %v, %v, want %v", ts, ok, *now)
	}
	if ts, ok := twin.PropertyUpdateTime("name"); !ok || !ts.Equal(*now) {
		t.Errorf("PropertyUpdateTime(name) = %v, %v, want %v", ts, ok, *now)
	}

	if _, ok := store.twins["room-1"]; !ok {
		t.Error("twin was not persisted")
	}
	stored, err := c.GetTwin(ctx, "room-1")
	if err != nil {
		t.Fatal("GetTwin()", err)
	}
	if !stored.Document().Equal(twin.Document()) {
		t.Error("stored document differs from the returned one")
	}
}

func TestCreateOrReplaceTwinAggregatesViolations(t *testing.T) {
	c, _, _ := newRoomClient(t)

	// Three independent defects: a mistyped property, an undeclared one, and a
	// second mistyped property. All must surface in one error.
	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": "warm", "colour": "red", "name": 7}`
	_, err := c.CreateOrReplaceTwin(context.Background(), "room-1", []byte(payload), None())

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("CreateOrReplaceTwin() error = %v, want ValidationError", err)
	}
	if len(validation.Violations) != 3 {
		t.Fatalf("got %d violations, want 3: %q", len(validation.Violations), validation.Violations)
	}
}

func TestCreateOrReplaceTwinRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "unknown model",
			payload: `{"$metadata": {"$model": "dtmi:example:Nonexistent;1"}}`,
			want:    "references unknown model",
		},
		{
			name:    "missing model",
			payload: `{"temperature": 21}`,
			want:    "$metadata.$model is required",
		},
		{
			name:    "id mismatch",
			payload: `{"$dtId": "other", "$metadata": {"$model": "` + roomModel + `"}}`,
			want:    "does not match addressed id",
		},
		{
			name:    "not an object",
			payload: `[1, 2, 3]`,
			want:    "must be a JSON object",
		},
		{
			name:    "invalid JSON",
			payload: `{`,
			want:    "not valid JSON",
		},
		{
			name:    "component on create",
			payload: `{"$metadata": {"$model": "` + roomModel + `"}, "thermostat": {"setPoint": 22}}`,
			want:    "not supported on twin writes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newRoomClient(t)
			_, err := c.CreateOrReplaceTwin(context.Background(), "room-1", []byte(tt.payload), None())
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if !strings.Contains(validation.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", validation.Error(), tt.want)
			}
		})
	}
}

func TestCreateOrReplaceTwinIfNoneExist(t *testing.T) {
	c, _, _ := newRoomClient(t)
	ctx := context.Background()
	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 20}`

	if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), IfNoneExist()); err != nil {
		t.Fatal("first CreateOrReplaceTwin()", err)
	}
	_, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), IfNoneExist())
	var precondition *PreconditionFailedError
	if !errors.As(err, &precondition) {
		t.Fatalf("second CreateOrReplaceTwin() error = %v, want PreconditionFailedError", err)
	}
	// Without the guard the write is a replace and succeeds.
	if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None()); err != nil {
		t.Fatal("unguarded CreateOrReplaceTwin()", err)
	}
}

func TestUpdateTwin(t *testing.T) {
	c, _, now := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 20, "name": "lobby"}`
	created, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None())
	if err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}
	createdAt := *now

	*now = now.Add(time.Minute)
	patch := `[{"op": "replace", "path": "/temperature", "value": 23.5}]`
	if err := c.UpdateTwin(ctx, "room-1", []byte(patch), None()); err != nil {
		t.Fatal("UpdateTwin()", err)
	}

	twin, err := c.GetTwin(ctx, "room-1")
	if err != nil {
		t.Fatal("GetTwin()", err)
	}
	if v, _ := twin.Property("temperature"); !v.Equal(Number(23.5)) {
		t.Errorf("temperature = %v, want 23.5", v)
	}
	if ts, _ := twin.PropertyUpdateTime("temperature"); !ts.Equal(*now) {
		t.Errorf("PropertyUpdateTime(temperature) = %v, want %v", ts, *now)
	}
	// The untouched property keeps its original timestamp.
	if ts, _ := twin.PropertyUpdateTime("name"); !ts.Equal(createdAt) {
		t.Errorf("PropertyUpdateTime(name) = %v, want %v", ts, createdAt)
	}
	if twin.ETag() == created.ETag() {
		t.Error("etag did not change across the update")
	}
}

func TestUpdateTwinPreconditions(t *testing.T) {
	c, _, now := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 20}`
	created, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None())
	if err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}

	*now = now.Add(time.Second)
	patch := `[{"op": "replace", "path": "/temperature", "value": 21}]`

	var precondition *PreconditionFailedError
	err = c.UpdateTwin(ctx, "room-1", []byte(patch), IfMatch(`W/"stale"`))
	if !errors.As(err, &precondition) {
		t.Fatalf("UpdateTwin(stale etag) error = %v, want PreconditionFailedError", err)
	}
	if err := c.UpdateTwin(ctx, "room-1", []byte(patch), IfMatch(created.ETag())); err != nil {
		t.Fatal("UpdateTwin(current etag)", err)
	}
}

func TestUpdateTwinRejectsReservedPaths(t *testing.T) {
	tests := []struct {
		name  string
		patch string
	}{
		{name: "twin id", patch: `[{"op": "replace", "path": "/$dtId", "value": "other"}]`},
		{name: "etag", patch: `[{"op": "remove", "path": "/$etag"}]`},
		{name: "document timestamp", patch: `[{"op": "replace", "path": "/$metadata/$lastUpdateTime", "value": "now"}]`},
		{name: "property timestamp", patch: `[{"op": "replace", "path": "/$metadata/temperature", "value": {}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newRoomClient(t)
			ctx := context.Background()
			payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 20}`
			if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None()); err != nil {
				t.Fatal("CreateOrReplaceTwin()", err)
			}
			err := c.UpdateTwin(ctx, "room-1", []byte(tt.patch), None())
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("UpdateTwin() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestUpdateTwinRemovesProperty(t *testing.T) {
	c, _, _ := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 20, "name": "lobby"}`
	if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None()); err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}
	patch := `[{"op": "remove", "path": "/name"}]`
	if err := c.UpdateTwin(ctx, "room-1", []byte(patch), None()); err != nil {
		t.Fatal("UpdateTwin()", err)
	}

	twin, err := c.GetTwin(ctx, "room-1")
	if err != nil {
		t.Fatal("GetTwin()", err)
	}
	if _, ok := twin.Property("name"); ok {
		t.Error("removed property is still present")
	}
	// The stale metadata entry goes with the property.
	if _, ok := twin.PropertyUpdateTime("name"); ok {
		t.Error("removed property still has a timestamp entry")
	}
}

func TestUpdateTwinSetsComponent(t *testing.T) {
	c, _, _ := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 20}`
	if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None()); err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}
	patch := `[{"op": "add", "path": "/thermostat", "value": {"setPoint": 22}}]`
	if err := c.UpdateTwin(ctx, "room-1", []byte(patch), None()); err != nil {
		t.Fatal("UpdateTwin()", err)
	}

	component, err := c.GetComponent(ctx, "room-1", "thermostat")
	if err != nil {
		t.Fatal("GetComponent()", err)
	}
	obj, ok := component.AsObject()
	if !ok {
		t.Fatalf("component is %s, want object", component.Kind())
	}
	if v, _ := obj.Get("setPoint"); !v.Equal(Number(22)) {
		t.Errorf("setPoint = %v, want 22", v)
	}

	// A mistyped component property is a violation.
	bad := `[{"op": "replace", "path": "/thermostat", "value": {"setPoint": "hot"}}]`
	err = c.UpdateTwin(ctx, "room-1", []byte(bad), None())
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("UpdateTwin(mistyped component) error = %v, want ValidationError", err)
	}
}

func TestGetComponentNotFound(t *testing.T) {
	c, _, _ := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}, "temperature": 20}`
	if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None()); err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}

	var notFound *NotFoundError
	// Declared by the model but absent on the twin.
	if _, err := c.GetComponent(ctx, "room-1", "thermostat"); !errors.As(err, &notFound) {
		t.Errorf("GetComponent(absent) error = %v, want NotFoundError", err)
	}
	// Not a component declaration at all.
	if _, err := c.GetComponent(ctx, "room-1", "temperature"); !errors.As(err, &notFound) {
		t.Errorf("GetComponent(property) error = %v, want NotFoundError", err)
	}
}

func TestDeleteTwin(t *testing.T) {
	c, _, _ := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}}`
	if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None()); err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}
	if err := c.DeleteTwin(ctx, "room-1"); err != nil {
		t.Fatal("DeleteTwin()", err)
	}

	var notFound *NotFoundError
	if err := c.DeleteTwin(ctx, "room-1"); !errors.As(err, &notFound) {
		t.Errorf("second DeleteTwin() error = %v, want NotFoundError", err)
	}
	if _, err := c.GetTwin(ctx, "room-1"); !errors.As(err, &notFound) {
		t.Errorf("GetTwin() after delete error = %v, want NotFoundError", err)
	}
}

func TestModelOfTwin(t *testing.T) {
	c, store, _ := newRoomClient(t)
	ctx := context.Background()

	payload := `{"$metadata": {"$model": "` + roomModel + `"}}`
	if _, err := c.CreateOrReplaceTwin(ctx, "room-1", []byte(payload), None()); err != nil {
		t.Fatal("CreateOrReplaceTwin()", err)
	}

	// The write primed the secondary cache; deleting the stored twin behind the
	// client's back proves the lookup is served from it.
	delete(store.twins, "room-1")
	model, err := c.ModelOfTwin(ctx, "room-1")
	if err != nil {
		t.Fatal("ModelOfTwin()", err)
	}
	if model != roomModel {
		t.Errorf("ModelOfTwin() = %q, want %q", model, roomModel)
	}

	var notFound *NotFoundError
	if _, err := c.ModelOfTwin(ctx, "room-2"); !errors.As(err, &notFound) {
		t.Errorf("ModelOfTwin(unknown) error = %v, want NotFoundError", err)
	}
}
