package twingraph

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// A ChangeKind names the class of mutation a ChangeNotification reports.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// An EntityKind names which graph entity a ChangeNotification concerns.
type EntityKind string

const (
	EntityTwin         EntityKind = "twin"
	EntityRelationship EntityKind = "relationship"
)

// A ChangeNotification is published to the change topic after every
// successful mutation. For relationships the ID field carries the combined
// "sourceId/relationshipId" key.
//
// Notifications are gob-encoded, so the fields are exported and limited to
// gob-friendly types.
type ChangeNotification struct {
	Kind   ChangeKind
	Entity EntityKind
	ID     string
	At     time.Time
}

// publishChange sends a notification on the configured change topic.
// Publishing is best effort: the mutation has already committed, so a publish
// failure is logged and never surfaced to the caller.
func (c *Client) publishChange(ctx context.Context, n ChangeNotification) {
	if c.changes == nil {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		component.Logger(ctx).Error("Failed to encode change notification", "error", err, "entity", string(n.Entity), "id", n.ID)
		return
	}
	if err := c.changes.Send(ctx, &pubsub.Message{Body: buf.Bytes()}); err != nil {
		component.Logger(ctx).Error("Failed to publish change notification", "error", err, "entity", string(n.Entity), "id", n.ID)
	}
}

// A ChangeHandler processes one decoded ChangeNotification.
type ChangeHandler func(ctx context.Context, n ChangeNotification) error

// StreamChanges returns a component.Proc that subscribes to a pubsub
// subscription carrying ChangeNotification messages and passes each decoded
// notification to the handler.
func StreamChanges(sub *pubsub.Subscription, h ChangeHandler) component.Proc {
	source := EventSource{
		subscription: sub,
		eventType:    reflect.TypeOf(ChangeNotification{}),
		decoder: func(p []byte, v reflect.Value) error {
			return gob.NewDecoder(bytes.NewReader(p)).DecodeValue(v)
		},
	}
	return source.Stream(func(ctx context.Context, msg any) error {
		return h(ctx, msg.(ChangeNotification))
	})
}

// EventSource wraps a pubsub subscription and decodes incoming messages into
// typed events.
type EventSource struct {
	subscription *pubsub.Subscription
	eventType    reflect.Type
	decoder      func(p []byte, v reflect.Value) error
}

// EventHandler is a function that processes a decoded event message.
type EventHandler func(ctx context.Context, msg any) error

// Stream returns a component.Proc that continuously receives messages from the
// subscription, decodes them using the configured decoder, and passes them to
// the provided EventHandler.
func (s EventSource) Stream(h EventHandler) component.Proc {
	return func(l *component.L) {
		for l.Continue() {
			msg, err := s.subscription.Receive(l.Context())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}
			// always ack, even if we fail to decode.
			// otherwise, we might get stuck processing
			// the same failed message
			msg.Ack()

			v := reflect.New(s.eventType)
			if err := s.decoder(msg.Body, v); err != nil {
				l.Fatal(fmt.Errorf("decode: %w", err))
			}

			if err := h(l.Context(), v.Elem().Interface()); err != nil {
				l.Fatal(fmt.Errorf("process: %w", err))
			}
		}
	}
}
