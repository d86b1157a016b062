package twingraph

import (
	"fmt"
	"time"
)

// Reserved document keys of the twin wire shape. Every key a caller may not use
// as a regular property name is prefixed with a dollar sign.
const (
	KeyTwinID           = "$dtId"
	KeyETag             = "$etag"
	KeyMetadata         = "$metadata"
	KeyModel            = "$model"
	KeyLastUpdateTime   = "$lastUpdateTime"
	KeyRelationshipID   = "$relationshipId"
	KeySourceID         = "$sourceId"
	KeyTargetID         = "$targetId"
	KeyRelationshipName = "$relationshipName"
)

// lastUpdateTimeKey is the per-property timestamp key nested under a property's
// metadata sub-object. Unlike the document-level keys above, it carries no
// dollar prefix on the wire.
const lastUpdateTimeKey = "lastUpdateTime"

// A Twin wraps the JSON document of one digital-twin vertex. The document owns
// the data; the wrapper only provides typed access to the reserved keys.
type Twin struct {
	doc Value
}

// NewTwin wraps an already-decoded twin document. The document is not
// validated; use Client.CreateOrReplaceTwin for validated writes.
func NewTwin(doc Value) Twin { return Twin{doc: doc} }

// Document returns the underlying JSON document.
func (t Twin) Document() Value { return t.doc }

// ID returns the twin's business key ($dtId).
func (t Twin) ID() string {
	return stringAt(t.doc, KeyTwinID)
}

// ETag returns the twin's current concurrency token.
func (t Twin) ETag() string {
	return stringAt(t.doc, KeyETag)
}

// ModelID returns the DTMI of the model the twin conforms to
// ($metadata.$model).
func (t Twin) ModelID() string {
	obj, ok := t.doc.AsObject()
	if !ok {
		return ""
	}
	meta, ok := obj.Get(KeyMetadata)
	if !ok {
		return ""
	}
	return stringAt(meta, KeyModel)
}

// Property returns the named user property of the twin.
func (t Twin) Property(name string) (Value, bool) {
	obj, ok := t.doc.AsObject()
	if !ok {
		return Value{}, false
	}
	return obj.Get(name)
}

// PropertyUpdateTime returns the last-update timestamp recorded for the named
// property, if one has been stamped.
func (t Twin) PropertyUpdateTime(name string) (time.Time, bool) {
	obj, ok := t.doc.AsObject()
	if !ok {
		return time.Time{}, false
	}
	meta, ok := obj.Get(KeyMetadata)
	if !ok {
		return time.Time{}, false
	}
	sub, ok := meta.AsObject()
	if !ok {
		return time.Time{}, false
	}
	entry, ok := sub.Get(name)
	if !ok {
		return time.Time{}, false
	}
	ts := stringAt(entry, lastUpdateTimeKey)
	if ts == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// A Relationship wraps the JSON document of one directed edge between twins.
type Relationship struct {
	doc Value
}

// NewRelationship wraps an already-decoded relationship document.
func NewRelationship(doc Value) Relationship { return Relationship{doc: doc} }

// Document returns the underlying JSON document.
func (r Relationship) Document() Value { return r.doc }

// ID returns the relationship id, which is unique within the scope of the
// source twin.
func (r Relationship) ID() string { return stringAt(r.doc, KeyRelationshipID) }

// SourceID returns the id of the twin the edge originates from.
func (r Relationship) SourceID() string { return stringAt(r.doc, KeySourceID) }

// TargetID returns the id of the twin the edge points at.
func (r Relationship) TargetID() string { return stringAt(r.doc, KeyTargetID) }

// Name returns the relationship name. Distinct names are structurally distinct
// edge types in the graph, not a property of a shared type.
func (r Relationship) Name() string { return stringAt(r.doc, KeyRelationshipName) }

// ETag returns the relationship's current concurrency token.
func (r Relationship) ETag() string { return stringAt(r.doc, KeyETag) }

// stringAt returns the string stored under key in an object document, or the
// empty string when the document is not an object, the key is absent, or the
// value is not a string.
func stringAt(doc Value, key string) string {
	obj, ok := doc.AsObject()
	if !ok {
		return ""
	}
	v, ok := obj.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// metadataObject returns the $metadata sub-object of the given twin document,
// creating it when absent.
func metadataObject(doc *Object) *Object {
	if v, ok := doc.Get(KeyMetadata); ok {
		if meta, ok := v.AsObject(); ok {
			return meta
		}
	}
	meta := NewObject()
	doc.Set(KeyMetadata, ObjectValue(meta))
	return meta
}

// stampProperty records the moment a user property last changed under
// $metadata.<property>.lastUpdateTime, creating the sub-object if absent.
func stampProperty(doc *Object, property string, now time.Time) {
	meta := metadataObject(doc)
	entry := NewObject()
	if v, ok := meta.Get(property); ok {
		if existing, ok := v.AsObject(); ok {
			entry = existing
		}
	}
	entry.Set(lastUpdateTimeKey, String(now.UTC().Format(time.RFC3339Nano)))
	meta.Set(property, ObjectValue(entry))
}

// stampDocument records the whole-entity last-update time under
// $metadata.$lastUpdateTime.
func stampDocument(doc *Object, now time.Time) {
	meta := metadataObject(doc)
	meta.Set(KeyLastUpdateTime, String(now.UTC().Format(time.RFC3339Nano)))
}

// requireObject unwraps a document that must be a JSON object.
func requireObject(doc Value, what string) (*Object, error) {
	obj, ok := doc.AsObject()
	if !ok {
		return nil, fmt.Errorf("%s payload must be a JSON object, got %s", what, doc.Kind())
	}
	return obj, nil
}
