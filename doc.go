// Package twingraph provides a client-side digital-twin layer over a property
// graph database; A digital twin is a virtual representation of a real-world
// entity, described by a model (a DTDL-style interface definition) and stored
// as a vertex whose edges are its relationships to other twins.
//
// The package has three cooperating parts. The Client is the entity engine: it
// validates twin and relationship documents against their models, stamps
// metadata and etags on every write, and publishes change notifications. The
// ModelRegistry manages interface definitions, flattening inheritance chains
// at creation time and caching resolved models with a TTL. The query
// subpackage compiles the twin query dialect into native graph query text.
//
// Storage is abstracted behind the GraphStore interface; the neo4jengine
// subpackage provides the production implementation on Neo4j.
//
// # Preconditions
//
// Writes accept a Precondition (IfNoneExist or IfMatch) as a concurrency
// guard. The guard is checked against the store before the write is issued,
// and no transaction spans both steps: a concurrent writer can slip in
// between the check and the write, in which case the earlier of the two
// writes is silently lost. The guard therefore protects against stale
// updates, not against every interleaving; callers that need stronger
// guarantees must serialise their own writers.
package twingraph
