package twingraph

import (
	"fmt"
	"strings"
)

// Patch operations follow the JSON-Patch shape: a sequence of add, replace, and
// remove operations addressed by JSON-Pointer paths. This is the wire format of
// the partial-update endpoints.

// A PatchOp is a single mutation of a twin or relationship document.
type PatchOp struct {
	// Op is one of "add", "replace", or "remove".
	Op string
	// Path is a JSON-Pointer ("/temperature", "/thermostat/setPoint").
	Path string
	// Value is the operand of add and replace; ignored for remove.
	Value Value
}

// ParsePatch decodes a JSON-Patch document (a JSON array of operation objects)
// into a sequence of PatchOps. Only the documented operation set is accepted;
// anything else is an UnsupportedError, because silently skipping an operation
// would corrupt the caller's intent.
func ParsePatch(data []byte) ([]PatchOp, error) {
	doc, err := DecodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("decode patch document: %w", err)
	}
	entries, ok := doc.AsArray()
	if !ok {
		return nil, fmt.Errorf("patch document must be a JSON array, got %s", doc.Kind())
	}
	ops := make([]PatchOp, 0, len(entries))
	for i, entry := range entries {
		obj, ok := entry.AsObject()
		if !ok {
			return nil, fmt.Errorf("patch operation %d must be an object, got %s", i, entry.Kind())
		}
		var op PatchOp
		if v, ok := obj.Get("op"); ok {
			op.Op, _ = v.AsString()
		}
		if v, ok := obj.Get("path"); ok {
			op.Path, _ = v.AsString()
		}
		op.Value, _ = obj.Get("value")

		switch op.Op {
		case "add", "replace", "remove":
		default:
			return nil, &UnsupportedError{Operation: fmt.Sprintf("patch op %q", op.Op)}
		}
		if op.Path == "" || !strings.HasPrefix(op.Path, "/") {
			return nil, fmt.Errorf("patch operation %d has invalid path %q", i, op.Path)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Root returns the first path segment of the operation, i.e. the name of the
// top-level property it touches. The partial-update path uses this to scope
// re-validation and timestamp stamping to the properties a patch actually
// modified.
func (op PatchOp) Root() string {
	segs := op.segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

func (op PatchOp) segments() []string {
	raw := strings.Split(strings.TrimPrefix(op.Path, "/"), "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		// JSON-Pointer escaping, in the mandated order.
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		segs[i] = s
	}
	return segs
}

// applyPatch applies the operations to the document in order. The document is
// mutated in place; callers patch a Clone so a failed application leaves the
// original untouched.
func applyPatch(doc *Object, ops []PatchOp) error {
	for _, op := range ops {
		if err := applyOp(doc, op); err != nil {
			return fmt.Errorf("apply %s %s: %w", op.Op, op.Path, err)
		}
	}
	return nil
}

func applyOp(doc *Object, op PatchOp) error {
	segs := op.segments()
	parent, last, err := descend(doc, segs)
	if err != nil {
		return err
	}
	switch op.Op {
	case "add", "replace":
		// The two differ only in whether the target may already exist. We follow the
		// lenient reading: replace of an absent member behaves like add, which is what
		// twin callers expect when initialising optional properties.
		parent.Set(last, op.Value.Clone())
	case "remove":
		if !parent.Delete(last) {
			return fmt.Errorf("path does not exist")
		}
	}
	return nil
}

// descend walks the document to the parent object of the final path segment,
// materialising intermediate objects for add-style operations. Paths through
// arrays are not supported: twin properties are addressed by name, and the
// engine treats array elements as atomic values.
func descend(doc *Object, segs []string) (parent *Object, last string, err error) {
	if len(segs) == 0 {
		return nil, "", fmt.Errorf("empty path")
	}
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		v, ok := cur.Get(seg)
		if !ok {
			next := NewObject()
			cur.Set(seg, ObjectValue(next))
			cur = next
			continue
		}
		obj, ok := v.AsObject()
		if !ok {
			if _, isArr := v.AsArray(); isArr {
				// Array elements are atomic from the engine's point of view; replace the
				// whole array instead.
				return nil, "", &UnsupportedError{Operation: "patching inside arrays"}
			}
			return nil, "", fmt.Errorf("segment %q addresses a %s, not an object", seg, v.Kind())
		}
		cur = obj
	}
	return cur, segs[len(segs)-1], nil
}
