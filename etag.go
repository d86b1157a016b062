package twingraph

import (
	"time"

	"github.com/google/uuid"
)

// etagSpace is the UUID namespace under which entity tags are derived. A fixed
// namespace keeps etag generation deterministic across processes: the same
// entity written at the same instant yields the same token everywhere.
var etagSpace = uuid.MustParse("b5e2b7d4-1f0a-4c3e-9c37-5a29f1d0f6a2")

// newETag derives a fresh concurrency token for the entity with the given id
// at the given write time. The token is opaque to callers; its only contract
// is that any successful write observably changes it.
func newETag(id string, at time.Time) string {
	name := id + "|" + at.UTC().Format(time.RFC3339Nano)
	return "W/\"" + uuid.NewSHA1(etagSpace, []byte(name)).String() + "\""
}
