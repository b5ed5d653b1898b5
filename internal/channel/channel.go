// Package channel carries change notifications between execution contexts
// sharing one durable medium. A subscriber never receives changes published
// under its own origin.
package channel

import (
	"context"
)

// Change describes one durable write of a storage key. Values are the
// serialized documents; OldValue is empty when the key did not exist and
// NewValue is empty when it was removed.
type Change struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue"`
	OldValue string `json:"oldValue,omitempty"`
	Origin   string `json:"origin"`
}

// Removed reports whether the change deleted the key.
func (c Change) Removed() bool {
	return c.NewValue == ""
}

type Channel interface {
	Publish(ctx context.Context, change Change) error
	// Subscribe delivers changes whose origin differs from origin until the
	// subscription is closed.
	Subscribe(ctx context.Context, origin string) (Subscription, error)
}

type Subscription interface {
	C() <-chan Change
	Close() error
}

const subscriptionBuffer = 64
