package twingraph

import (
	"time"

	"gocloud.dev/pubsub"
)

// A Client implements the twin and relationship lifecycle on top of a storage
// engine. It validates payloads against the model registry, maintains
// field-level last-modified metadata and entity tags, and publishes change
// notifications when a topic is configured.
//
// All operations are independent, stateless request/response calls; the only
// shared mutable state in the process lives inside the registry's caches. A
// Client is safe for concurrent use.
type Client struct {
	store    GraphStore
	registry *ModelRegistry

	namespace string
	changes   *pubsub.Topic
	now       func() time.Time
}

// A ClientOption customises a Client.
type ClientOption func(*Client)

// WithQueryNamespace scopes compiled twin-queries to the given graph
// namespace. The namespace selects the server-side function set (notably the
// model-membership predicate) the compiled text calls into.
func WithQueryNamespace(namespace string) ClientOption {
	return func(c *Client) { c.namespace = namespace }
}

// WithChangeTopic publishes a ChangeNotification to the given topic after
// every successful twin or relationship write. Publishing is best-effort:
// failures are logged and never fail the write that triggered them.
func WithChangeTopic(topic *pubsub.Topic) ClientOption {
	return func(c *Client) { c.changes = topic }
}

// WithTimeSource injects the clock used for metadata timestamps and etag
// derivation. Tests use this to make stamping deterministic.
func WithTimeSource(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient returns a Client backed by the given storage engine and model
// registry.
func NewClient(store GraphStore, registry *ModelRegistry, opts ...ClientOption) *Client {
	c := &Client{
		store:    store,
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Models returns the model registry this client validates against.
func (c *Client) Models() *ModelRegistry { return c.registry }
