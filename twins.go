package twingraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// A Precondition guards a write against concurrent modification. Preconditions
// are checked before the write proceeds; see the package documentation for the
// check-then-write caveat.
type Precondition struct {
	kind string // "", "ifNoneExist", "ifMatch"
	etag string
}

// IfNoneExist requires that the addressed entity does not exist yet. Use it to
// turn create-or-replace into a strict create.
func IfNoneExist() Precondition { return Precondition{kind: "ifNoneExist"} }

// IfMatch requires that the stored entity still carries the given etag.
func IfMatch(etag string) Precondition { return Precondition{kind: "ifMatch", etag: etag} }

// None is the absent precondition: the write always proceeds.
func None() Precondition { return Precondition{} }

// GetTwin returns the twin with the given id. Absence is a NotFoundError,
// never a zero-valued success.
func (c *Client) GetTwin(ctx context.Context, id string) (Twin, error) {
	ctx, span := tracer.Start(ctx, "GetTwin", trace.WithAttributes(attribute.String("twin.id", id)))
	defer span.End()

	doc, err := c.store.GetTwin(ctx, id)
	if err != nil {
		return Twin{}, err
	}
	twin := NewTwin(doc)
	if model := twin.ModelID(); model != "" {
		c.registry.RecordTwinModel(id, model)
	}
	return twin, nil
}

// CreateOrReplaceTwin validates the payload against its referenced model and
// atomically upserts the twin. With IfNoneExist the call fails with a
// PreconditionFailedError when the id is already taken.
//
// Validation is aggregated: every violation across all properties is collected
// and reported in a single ValidationError, never one at a time. A model
// reference that cannot be resolved is itself a validation failure of the
// payload, not an infrastructure error.
func (c *Client) CreateOrReplaceTwin(ctx context.Context, id string, payload []byte, pre Precondition) (Twin, error) {
	ctx, span := tracer.Start(ctx, "CreateOrReplaceTwin", trace.WithAttributes(attribute.String("twin.id", id)))
	defer span.End()

	doc, err := DecodeValue(payload)
	if err != nil {
		return Twin{}, &ValidationError{EntityID: id, Violations: []string{fmt.Sprintf("payload is not valid JSON: %v", err)}}
	}
	obj, err := requireObject(doc, "twin")
	if err != nil {
		return Twin{}, &ValidationError{EntityID: id, Violations: []string{err.Error()}}
	}
	if supplied := stringAt(doc, KeyTwinID); supplied != "" && supplied != id {
		return Twin{}, &ValidationError{EntityID: id, Violations: []string{
			fmt.Sprintf("payload id %q does not match addressed id %q", supplied, id),
		}}
	}
	modelID := NewTwin(doc).ModelID()
	if modelID == "" {
		return Twin{}, &ValidationError{EntityID: id, Violations: []string{"$metadata.$model is required and must be a string"}}
	}

	if pre.kind == "ifNoneExist" {
		missing, err := c.store.MissingTwins(ctx, []string{id})
		if err != nil {
			return Twin{}, fmt.Errorf("check twin existence: %w", err)
		}
		if len(missing) == 0 {
			return Twin{}, &PreconditionFailedError{ID: id, Reason: "twin already exists"}
		}
	}

	now := c.now()
	work := obj.Clone()
	if violations := c.validateTwinProperties(ctx, modelID, work, nil, now); len(violations) > 0 {
		validationFailures.Add(ctx, 1)
		return Twin{}, &ValidationError{EntityID: id, Violations: violations}
	}

	work.Set(KeyTwinID, String(id))
	stampDocument(work, now)
	work.Set(KeyETag, String(newETag(id, now)))

	final := ObjectValue(work)
	if err := c.store.UpsertTwin(ctx, id, final); err != nil {
		return Twin{}, err
	}
	c.registry.RecordTwinModel(id, modelID)
	c.publishChange(ctx, ChangeNotification{Kind: ChangeUpsert, Entity: EntityTwin, ID: id, At: now})
	return NewTwin(final), nil
}

// validateTwinProperties validates user properties of the twin document
// against the resolved model, stamping per-property last-update times as it
// goes. When only is non-nil, validation and stamping are scoped to the named
// top-level properties; untouched properties keep their previous timestamps.
//
// All violations are accumulated; the caller fails the write with the full
// list. A model that cannot be resolved contributes a violation instead of
// surfacing the registry's NotFoundError.
func (c *Client) validateTwinProperties(ctx context.Context, modelID string, doc *Object, only map[string]bool, now time.Time) []string {
	var violations []string
	appendf := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	// Probe the model first so an unresolvable reference fails the whole payload
	// with a single, clear violation.
	if _, err := c.registry.resolve(ctx, modelID); err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			appendf("$metadata.$model references unknown model %q", modelID)
			return violations
		}
		appendf("resolve model %q: %v", modelID, err)
		return violations
	}

	for _, key := range doc.Keys() {
		switch key {
		case KeyTwinID, KeyETag, KeyMetadata:
			continue
		}
		if only != nil && !only[key] {
			continue
		}
		value, _ := doc.Get(key)

		content, found, err := c.registry.contentOf(ctx, modelID, key)
		if err != nil {
			appendf("property %q: resolve schema: %v", key, err)
			continue
		}
		if !found {
			appendf("property %q is not declared by model %q or its bases", key, modelID)
			continue
		}
		switch content.Kind {
		case ContentProperty:
			if content.Schema != nil {
				if errs := content.Schema.Validate(value); len(errs) > 0 {
					for _, msg := range errs {
						appendf("property %q: %s", key, msg)
					}
					continue
				}
			}
			stampProperty(doc, key, now)
		case ContentComponent:
			if only == nil {
				// Components are not writable through the root create path yet.
				appendf("content %q of kind Component is not supported on twin writes", key)
				continue
			}
			if errs := c.validateComponent(ctx, content, value); len(errs) > 0 {
				for _, msg := range errs {
					appendf("component %q: %s", key, msg)
				}
				continue
			}
			stampProperty(doc, key, now)
		default:
			appendf("content %q of kind %v is not supported on twin writes", key, content.Kind)
		}
	}
	return violations
}

// validateComponent validates an embedded component value against the
// interface named by its content declaration.
func (c *Client) validateComponent(ctx context.Context, content Content, value Value) []string {
	obj, ok := value.AsObject()
	if !ok {
		return []string{fmt.Sprintf("must be an object, got %s", value.Kind())}
	}
	var violations []string
	for _, key := range obj.Keys() {
		if key == KeyMetadata {
			continue
		}
		sub, _ := obj.Get(key)
		declared, found, err := c.registry.contentOf(ctx, content.ComponentSchemaID, key)
		if err != nil {
			violations = append(violations, fmt.Sprintf("property %q: resolve schema: %v", key, err))
			continue
		}
		if !found || declared.Kind != ContentProperty {
			violations = append(violations, fmt.Sprintf("property %q is not declared by component schema %q", key, content.ComponentSchemaID))
			continue
		}
		if declared.Schema != nil {
			for _, msg := range declared.Schema.Validate(sub) {
				violations = append(violations, fmt.Sprintf("property %q: %s", key, msg))
			}
		}
	}
	return violations
}

// UpdateTwin applies a JSON-Patch document to the twin. The current entity is
// fetched, the optional etag precondition enforced, the patch applied to an
// in-memory copy, and the result re-validated, scoped to the properties the
// patch actually touched, so untouched properties keep their last-update
// times. Persisting is a full overwrite; the read-modify-write is observably
// equivalent to targeted field mutation.
func (c *Client) UpdateTwin(ctx context.Context, id string, patch []byte, pre Precondition) error {
	ctx, span := tracer.Start(ctx, "UpdateTwin", trace.WithAttributes(attribute.String("twin.id", id)))
	defer span.End()

	ops, err := ParsePatch(patch)
	if err != nil {
		return err
	}
	current, err := c.store.GetTwin(ctx, id)
	if err != nil {
		return err
	}
	if err := checkETag(pre, id, NewTwin(current).ETag()); err != nil {
		return err
	}

	touched := make(map[string]bool)
	var violations []string
	for _, op := range ops {
		root := op.Root()
		switch root {
		case KeyTwinID, KeyETag:
			violations = append(violations, fmt.Sprintf("path %q touches a reserved key", op.Path))
		case KeyMetadata:
			// Only the model reference may be patched under metadata; timestamps and
			// per-property entries are engine-owned.
			if op.Path != "/"+KeyMetadata+"/"+KeyModel {
				violations = append(violations, fmt.Sprintf("path %q touches engine-owned metadata", op.Path))
			}
		default:
			touched[root] = true
		}
	}
	if len(violations) > 0 {
		validationFailures.Add(ctx, 1)
		return &ValidationError{EntityID: id, Violations: violations}
	}

	obj, err := requireObject(current, "twin")
	if err != nil {
		return fmt.Errorf("stored twin %q: %w", id, err)
	}
	work := obj.Clone()
	if err := applyPatch(work, ops); err != nil {
		var unsupported *UnsupportedError
		if errors.As(err, &unsupported) {
			return err
		}
		return &ValidationError{EntityID: id, Violations: []string{err.Error()}}
	}

	modelID := NewTwin(ObjectValue(work)).ModelID()
	if modelID == "" {
		return &ValidationError{EntityID: id, Violations: []string{"$metadata.$model is required and must be a string"}}
	}
	now := c.now()
	if v := c.validateTwinProperties(ctx, modelID, work, touched, now); len(v) > 0 {
		validationFailures.Add(ctx, 1)
		return &ValidationError{EntityID: id, Violations: v}
	}
	// Removed properties need no fresh timestamp; drop stale metadata entries.
	meta := metadataObject(work)
	for _, key := range append([]string(nil), meta.Keys()...) {
		if key == KeyModel || key == KeyLastUpdateTime {
			continue
		}
		if _, exists := work.Get(key); !exists && touched[key] {
			meta.Delete(key)
		}
	}

	stampDocument(work, now)
	work.Set(KeyETag, String(newETag(id, now)))

	if err := c.store.UpsertTwin(ctx, id, ObjectValue(work)); err != nil {
		return err
	}
	c.registry.RecordTwinModel(id, modelID)
	c.publishChange(ctx, ChangeNotification{Kind: ChangeUpdate, Entity: EntityTwin, ID: id, At: now})
	return nil
}

// DeleteTwin removes the twin. Deleting an absent twin is a NotFoundError;
// deletion is deliberately not idempotent at the API level.
func (c *Client) DeleteTwin(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "DeleteTwin", trace.WithAttributes(attribute.String("twin.id", id)))
	defer span.End()

	if err := c.store.DeleteTwin(ctx, id); err != nil {
		return err
	}
	c.registry.forgetTwin(id)
	c.publishChange(ctx, ChangeNotification{Kind: ChangeDelete, Entity: EntityTwin, ID: id, At: c.now()})
	return nil
}

// GetComponent returns the named component sub-object of the twin. The name
// must be declared as a component by the twin's model; an undeclared name or
// an absent value is a NotFoundError.
func (c *Client) GetComponent(ctx context.Context, twinID, component string) (Value, error) {
	twin, err := c.GetTwin(ctx, twinID)
	if err != nil {
		return Value{}, err
	}
	content, found, err := c.registry.contentOf(ctx, twin.ModelID(), component)
	if err != nil {
		return Value{}, err
	}
	if !found || content.Kind != ContentComponent {
		return Value{}, &NotFoundError{Kind: "component", ID: twinID + "/" + component}
	}
	value, ok := twin.Property(component)
	if !ok {
		return Value{}, &NotFoundError{Kind: "component", ID: twinID + "/" + component}
	}
	return value, nil
}

// ModelOfTwin returns the model id the twin conforms to, consulting the
// registry's secondary cache before falling back to a twin read. Hot paths
// such as telemetry publication use this to avoid re-validating the twin.
func (c *Client) ModelOfTwin(ctx context.Context, twinID string) (string, error) {
	if model, ok := c.registry.CachedTwinModel(twinID); ok {
		return model, nil
	}
	twin, err := c.GetTwin(ctx, twinID)
	if err != nil {
		return "", err
	}
	return twin.ModelID(), nil
}

// checkETag enforces an IfMatch precondition against the stored etag. The
// check precedes the write; see the package documentation for the race window
// this implies.
func checkETag(pre Precondition, id, stored string) error {
	if pre.kind != "ifMatch" {
		return nil
	}
	if pre.etag != stored {
		return &PreconditionFailedError{ID: id, Reason: fmt.Sprintf("etag %q does not match stored %q", pre.etag, stored)}
	}
	return nil
}
