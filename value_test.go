package twingraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeValuePreservesKeyOrder(t *testing.T) {
	doc := mustValue(t, `{"zulu": 1, "alpha": {"yankee": true, "bravo": null}, "mike": [1, "two"]}`)
	obj, ok := doc.AsObject()
	if !ok {
		t.Fatalf("decoded into %s, want object", doc.Kind())
	}
	if diff := cmp.Diff([]string{"zulu", "alpha", "mike"}, obj.Keys()); diff != "" {
		t.Error("top-level key order differs:", diff)
	}

	encoded, err := doc.MarshalJSON()
	if err != nil {
		t.Fatal("MarshalJSON()", err)
	}
	want := `{"zulu":1,"alpha":{"yankee":true,"bravo":null},"mike":[1,"two"]}`
	if string(encoded) != want {
		t.Errorf("MarshalJSON() = %s, want %s", encoded, want)
	}
}

func TestDecodeValueRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "truncated object", data: `{"a": 1`},
		{name: "trailing garbage", data: `{} {}`},
		{name: "bare word", data: `lobby`},
		{name: "empty input", data: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeValue([]byte(tt.data)); err == nil {
				t.Error("DecodeValue() accepted the input")
			}
		})
	}
}

func TestValueRoundTripThroughAny(t *testing.T) {
	doc := mustValue(t, `{"name": "lobby", "temperature": 21.5, "occupied": false, "tags": ["a", "b"], "nested": {"deep": null}}`)

	back, err := FromAny(doc.ToAny())
	if err != nil {
		t.Fatal("FromAny()", err)
	}
	if !doc.Equal(back) {
		t.Error("document changed across the ToAny/FromAny round trip")
	}
}

func TestFromAnyDriverTypes(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Value
	}{
		{name: "nil", input: nil, want: Null()},
		{name: "int64", input: int64(42), want: Number(42)},
		{name: "float32", input: float32(2.5), want: Number(2.5)},
		{name: "bool", input: true, want: Bool(true)},
		{name: "slice", input: []any{"a", int64(1)}, want: Array(String("a"), Number(1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			if err != nil {
				t.Fatal("FromAny()", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("FromAny(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := FromAny(struct{}{}); err == nil {
		t.Error("FromAny() accepted an unsupported type")
	}
}

func TestValueEqualIgnoresKeyOrder(t *testing.T) {
	a := mustValue(t, `{"x": 1, "y": 2}`)
	b := mustValue(t, `{"y": 2, "x": 1}`)
	if !a.Equal(b) {
		t.Error("objects with identical entries in different order compare unequal")
	}

	c := mustValue(t, `{"x": 1, "y": 3}`)
	if a.Equal(c) {
		t.Error("objects with different values compare equal")
	}
	d := mustValue(t, `[1, 2]`)
	e := mustValue(t, `[2, 1]`)
	if d.Equal(e) {
		t.Error("arrays compare equal regardless of element order")
	}
}

func TestValueClone(t *testing.T) {
	original := mustValue(t, `{"nested": {"n": 1}, "tags": [1]}`)
	clone := original.Clone()

	obj, _ := clone.AsObject()
	nested, _ := obj.Get("nested")
	inner, _ := nested.AsObject()
	inner.Set("n", Number(99))

	if !original.Equal(mustValue(t, `{"nested": {"n": 1}, "tags": [1]}`)) {
		t.Error("mutating the clone changed the original")
	}
}

func TestObjectDelete(t *testing.T) {
	obj := NewObject()
	obj.Set("a", Number(1))
	obj.Set("b", Number(2))
	obj.Set("c", Number(3))

	if !obj.Delete("b") {
		t.Fatal("Delete(b) = false, want true")
	}
	if obj.Delete("b") {
		t.Error("second Delete(b) = true, want false")
	}
	if diff := cmp.Diff([]string{"a", "c"}, obj.Keys()); diff != "" {
		t.Error("key order after delete differs:", diff)
	}
}
