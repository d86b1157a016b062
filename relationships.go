package twingraph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// MaxRelationshipBatch is the ceiling on the number of relationships one
// CreateOrReplaceRelationships call accepts.
const MaxRelationshipBatch = 100

// GetRelationship returns the relationship addressed by its source twin and
// relationship id.
func (c *Client) GetRelationship(ctx context.Context, sourceID, relationshipID string) (Relationship, error) {
	doc, err := c.store.GetRelationship(ctx, sourceID, relationshipID)
	if err != nil {
		return Relationship{}, err
	}
	return NewRelationship(doc), nil
}

// ListRelationships returns every relationship originating from the given
// twin.
func (c *Client) ListRelationships(ctx context.Context, twinID string) ([]Relationship, error) {
	return c.listRelationships(ctx, twinID, false)
}

// ListIncomingRelationships returns every relationship pointing at the given
// twin.
func (c *Client) ListIncomingRelationships(ctx context.Context, twinID string) ([]Relationship, error) {
	return c.listRelationships(ctx, twinID, true)
}

func (c *Client) listRelationships(ctx context.Context, twinID string, incoming bool) ([]Relationship, error) {
	docs, err := c.store.ListRelationships(ctx, twinID, incoming)
	if err != nil {
		return nil, err
	}
	relationships := make([]Relationship, len(docs))
	for i, doc := range docs {
		relationships[i] = NewRelationship(doc)
	}
	return relationships, nil
}

// CreateOrReplaceRelationship validates and upserts a single relationship
// under the given source twin. Both endpoints must exist; relationship
// properties are validated best-effort against the schema the source twin's
// model declares for the relationship, when it declares one.
func (c *Client) CreateOrReplaceRelationship(ctx context.Context, sourceID, relationshipID string, payload []byte, pre Precondition) (Relationship, error) {
	ctx, span := tracer.Start(ctx, "CreateOrReplaceRelationship", trace.WithAttributes(
		attribute.String("twin.id", sourceID),
		attribute.String("relationship.id", relationshipID),
	))
	defer span.End()

	doc, violations := c.parseRelationshipPayload(sourceID, relationshipID, payload)
	if len(violations) > 0 {
		validationFailures.Add(ctx, 1)
		return Relationship{}, &ValidationError{EntityID: relationshipKey(sourceID, relationshipID), Violations: violations}
	}
	rel := NewRelationship(ObjectValue(doc))

	if pre.kind == "ifNoneExist" {
		if _, err := c.store.GetRelationship(ctx, sourceID, relationshipID); err == nil {
			return Relationship{}, &PreconditionFailedError{ID: relationshipKey(sourceID, relationshipID), Reason: "relationship already exists"}
		} else if notNotFound(err) {
			return Relationship{}, fmt.Errorf("check relationship existence: %w", err)
		}
	}

	missing, err := c.store.MissingTwins(ctx, dedupe([]string{rel.SourceID(), rel.TargetID()}))
	if err != nil {
		return Relationship{}, fmt.Errorf("check twin endpoints: %w", err)
	}
	if len(missing) > 0 {
		return Relationship{}, &NotFoundError{Kind: "twin", ID: missing[0]}
	}

	if v := c.validateRelationshipProperties(ctx, rel, doc); len(v) > 0 {
		validationFailures.Add(ctx, 1)
		return Relationship{}, &ValidationError{EntityID: relationshipKey(sourceID, relationshipID), Violations: v}
	}

	now := c.now()
	doc.Set(KeyETag, String(newETag(relationshipKey(sourceID, relationshipID), now)))
	final := ObjectValue(doc)
	if err := c.store.UpsertRelationships(ctx, rel.Name(), []Value{final}); err != nil {
		return Relationship{}, err
	}
	c.publishChange(ctx, ChangeNotification{Kind: ChangeUpsert, Entity: EntityRelationship, ID: relationshipKey(sourceID, relationshipID), At: now})
	return NewRelationship(final), nil
}

// parseRelationshipPayload decodes and field-validates one relationship
// payload, returning the parsed document and any violations. The source id and
// relationship id supplied in the payload, if present, must match the
// addressing values.
func (c *Client) parseRelationshipPayload(sourceID, relationshipID string, payload []byte) (*Object, []string) {
	doc, err := DecodeValue(payload)
	if err != nil {
		return nil, []string{fmt.Sprintf("payload is not valid JSON: %v", err)}
	}
	obj, err := requireObject(doc, "relationship")
	if err != nil {
		return nil, []string{err.Error()}
	}

	var violations []string
	if supplied := stringAt(doc, KeyRelationshipID); supplied != "" && supplied != relationshipID {
		violations = append(violations, fmt.Sprintf("payload relationship id %q does not match addressed id %q", supplied, relationshipID))
	}
	if supplied := stringAt(doc, KeySourceID); supplied != "" && supplied != sourceID {
		violations = append(violations, fmt.Sprintf("payload source id %q does not match addressed twin %q", supplied, sourceID))
	}
	if stringAt(doc, KeyTargetID) == "" {
		violations = append(violations, "$targetId is required and must be a string")
	}
	if stringAt(doc, KeyRelationshipName) == "" {
		violations = append(violations, "$relationshipName is required and must be a string")
	}
	if len(violations) > 0 {
		return nil, violations
	}

	obj.Set(KeyRelationshipID, String(relationshipID))
	obj.Set(KeySourceID, String(sourceID))
	return obj, nil
}

// validateRelationshipProperties validates user properties of the edge against
// the per-property schemas the source model declares for this relationship.
// Validation is best-effort: when the source twin's model cannot be resolved
// or does not declare the relationship, properties pass through.
func (c *Client) validateRelationshipProperties(ctx context.Context, rel Relationship, doc *Object) []string {
	modelID, ok := c.registry.CachedTwinModel(rel.SourceID())
	if !ok {
		twin, err := c.GetTwin(ctx, rel.SourceID())
		if err != nil {
			return nil
		}
		modelID = twin.ModelID()
	}
	content, found, err := c.registry.contentOf(ctx, modelID, rel.Name())
	if err != nil || !found || content.Kind != ContentRelationship {
		return nil
	}

	var violations []string
	for _, key := range doc.Keys() {
		switch key {
		case KeyRelationshipID, KeySourceID, KeyTargetID, KeyRelationshipName, KeyETag:
			continue
		}
		schema, declared := content.PropertySchemas[key]
		if !declared {
			violations = append(violations, fmt.Sprintf("property %q is not declared by relationship %q", key, rel.Name()))
			continue
		}
		if schema != nil {
			value, _ := doc.Get(key)
			for _, msg := range schema.Validate(value) {
				violations = append(violations, fmt.Sprintf("property %q: %s", key, msg))
			}
		}
	}
	return violations
}

// UpdateRelationship applies a JSON-Patch document to the relationship,
// fetching, patching an in-memory copy, and persisting by full overwrite. A
// patch that touches a reserved key is rejected as a violation.
func (c *Client) UpdateRelationship(ctx context.Context, sourceID, relationshipID string, patch []byte, pre Precondition) error {
	ops, err := ParsePatch(patch)
	if err != nil {
		return err
	}
	current, err := c.store.GetRelationship(ctx, sourceID, relationshipID)
	if err != nil {
		return err
	}
	rel := NewRelationship(current)
	if err := checkETag(pre, relationshipKey(sourceID, relationshipID), rel.ETag()); err != nil {
		return err
	}

	var violations []string
	for _, op := range ops {
		switch op.Root() {
		case KeyRelationshipID, KeySourceID, KeyTargetID, KeyRelationshipName, KeyETag:
			violations = append(violations, fmt.Sprintf("path %q touches a reserved key", op.Path))
		}
	}
	if len(violations) > 0 {
		validationFailures.Add(ctx, 1)
		return &ValidationError{EntityID: relationshipKey(sourceID, relationshipID), Violations: violations}
	}

	obj, err := requireObject(current, "relationship")
	if err != nil {
		return fmt.Errorf("stored relationship %q: %w", relationshipID, err)
	}
	work := obj.Clone()
	if err := applyPatch(work, ops); err != nil {
		var unsupported *UnsupportedError
		if errors.As(err, &unsupported) {
			return err
		}
		return &ValidationError{EntityID: relationshipKey(sourceID, relationshipID), Violations: []string{err.Error()}}
	}
	patched := NewRelationship(ObjectValue(work))
	if v := c.validateRelationshipProperties(ctx, patched, work); v != nil {
		validationFailures.Add(ctx, 1)
		return &ValidationError{EntityID: relationshipKey(sourceID, relationshipID), Violations: v}
	}

	now := c.now()
	work.Set(KeyETag, String(newETag(relationshipKey(sourceID, relationshipID), now)))
	if err := c.store.UpsertRelationships(ctx, patched.Name(), []Value{ObjectValue(work)}); err != nil {
		return err
	}
	c.publishChange(ctx, ChangeNotification{Kind: ChangeUpdate, Entity: EntityRelationship, ID: relationshipKey(sourceID, relationshipID), At: now})
	return nil
}

// DeleteRelationship removes the relationship. Absence is a NotFoundError.
func (c *Client) DeleteRelationship(ctx context.Context, sourceID, relationshipID string) error {
	if err := c.store.DeleteRelationship(ctx, sourceID, relationshipID); err != nil {
		return err
	}
	c.publishChange(ctx, ChangeNotification{Kind: ChangeDelete, Entity: EntityRelationship, ID: relationshipKey(sourceID, relationshipID), At: c.now()})
	return nil
}

// A RelationshipInput is one item of a batch submission.
type RelationshipInput struct {
	SourceID       string
	RelationshipID string
	Payload        []byte
}

// A BatchResult reports the outcome of one submitted batch item, in submission
// order. Err is nil on success.
type BatchResult struct {
	SourceID       string
	RelationshipID string
	Err            error
}

// CreateOrReplaceRelationships upserts up to MaxRelationshipBatch
// relationships, reporting one outcome per submitted item.
//
// The batch proceeds in three phases: every item is parsed and field-validated
// independently (failures never abort the batch); the union of referenced twin
// ids is checked for existence in a single round trip; and the surviving items
// are grouped by relationship name (each name is an edge type) with one batched
// upsert per group. Groups fail or succeed independently, so the batch has
// per-group atomicity, never whole-batch atomicity.
func (c *Client) CreateOrReplaceRelationships(ctx context.Context, items []RelationshipInput) ([]BatchResult, error) {
	ctx, span := tracer.Start(ctx, "CreateOrReplaceRelationships", trace.WithAttributes(
		attribute.Int("batch.size", len(items)),
	))
	defer span.End()

	if len(items) > MaxRelationshipBatch {
		return nil, fmt.Errorf("batch of %d exceeds the ceiling of %d relationships", len(items), MaxRelationshipBatch)
	}

	results := make([]BatchResult, len(items))
	docs := make([]*Object, len(items))

	// Phase one: parse and field-validate each item independently.
	for i, item := range items {
		results[i] = BatchResult{SourceID: item.SourceID, RelationshipID: item.RelationshipID}
		doc, violations := c.parseRelationshipPayload(item.SourceID, item.RelationshipID, item.Payload)
		if len(violations) > 0 {
			results[i].Err = &ValidationError{EntityID: relationshipKey(item.SourceID, item.RelationshipID), Violations: violations}
			continue
		}
		docs[i] = doc
	}

	// Phase two: one existence check over the union of referenced twin ids.
	var endpoints []string
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		rel := NewRelationship(ObjectValue(doc))
		endpoints = append(endpoints, rel.SourceID(), rel.TargetID())
	}
	missing := map[string]bool{}
	if len(endpoints) > 0 {
		absent, err := c.store.MissingTwins(ctx, dedupe(endpoints))
		if err != nil {
			return nil, fmt.Errorf("check twin endpoints: %w", err)
		}
		for _, id := range absent {
			missing[id] = true
		}
	}
	now := c.now()
	groups := map[string][]int{}
	var groupOrder []string
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		rel := NewRelationship(ObjectValue(doc))
		if missing[rel.SourceID()] {
			results[i].Err = &NotFoundError{Kind: "twin", ID: rel.SourceID()}
			continue
		}
		if missing[rel.TargetID()] {
			results[i].Err = &NotFoundError{Kind: "twin", ID: rel.TargetID()}
			continue
		}
		doc.Set(KeyETag, String(newETag(relationshipKey(rel.SourceID(), rel.ID()), now)))
		name := rel.Name()
		if _, seen := groups[name]; !seen {
			groupOrder = append(groupOrder, name)
		}
		groups[name] = append(groups[name], i)
	}

	// Phase three: one batched upsert per relationship name. A failing group
	// marks only its own items; the other groups are unaffected.
	g, gctx := errgroup.WithContext(ctx)
	groupErrs := make([]error, len(groupOrder))
	for gi, name := range groupOrder {
		indices := groups[name]
		batch := make([]Value, len(indices))
		for j, i := range indices {
			batch[j] = ObjectValue(docs[i])
		}
		g.Go(func() error {
			groupErrs[gi] = c.store.UpsertRelationships(gctx, name, batch)
			return nil
		})
	}
	// Group failures are reported per item, never as a call failure.
	_ = g.Wait()

	for gi, name := range groupOrder {
		if groupErrs[gi] == nil {
			for _, i := range groups[name] {
				c.publishChange(ctx, ChangeNotification{Kind: ChangeUpsert, Entity: EntityRelationship, ID: relationshipKey(results[i].SourceID, results[i].RelationshipID), At: now})
			}
			continue
		}
		for _, i := range groups[name] {
			results[i].Err = fmt.Errorf("upsert %q relationships: %w", name, groupErrs[gi])
		}
	}

	var failures int64
	for _, r := range results {
		if r.Err != nil {
			failures++
		}
	}
	batchItemFailures.Add(ctx, failures, metric.WithAttributes(attribute.Int("batch.size", len(items))))
	return results, nil
}

func relationshipKey(sourceID, relationshipID string) string {
	return sourceID + "/" + relationshipID
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func notNotFound(err error) bool {
	var notFound *NotFoundError
	return !errors.As(err, &notFound)
}
