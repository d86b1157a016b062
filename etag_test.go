package twingraph

import (
	"strings"
	"testing"
	"time"
)

func TestNewETag(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	a := newETag("room-1", at)
	if a != newETag("room-1", at) {
		t.Error("same entity and instant produced different etags")
	}
	if !strings.HasPrefix(a, `W/"`) || !strings.HasSuffix(a, `"`) {
		t.Errorf("etag %q is not a weak validator", a)
	}

	if a == newETag("room-2", at) {
		t.Error("different entities at the same instant share an etag")
	}
	if a == newETag("room-1", at.Add(time.Nanosecond)) {
		t.Error("different instants for the same entity share an etag")
	}
	// Wall-clock offsets of the same instant must agree.
	if a != newETag("room-1", at.In(time.FixedZone("X", 3600))) {
		t.Error("timezone representation leaked into the etag")
	}
}
