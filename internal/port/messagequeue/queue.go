// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// SubjectSignals prefixes operational signal subjects:
// tenantguard.signals.{kind}.
const SubjectSignals = "tenantguard.signals"

// SignalSubject returns the subject for signal kind under prefix.
func SignalSubject(prefix, kind string) string {
	if prefix == "" {
		prefix = SubjectSignals
	}
	return prefix + "." + kind
}

// SubjectCacheInvalidate carries cache deletes to peer nodes.
const SubjectCacheInvalidate = "tenantguard.cache.invalidate"

// CacheInvalidation is the wire schema of a cache delete. Origin names the
// publishing node so it can skip its own message.
type CacheInvalidation struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// SignalPayload is the wire schema of a signal message. It carries no
// entity content.
type SignalPayload struct {
	Kind        string `json:"kind"`
	TenantID    string `json:"tenant_id,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
	Resource    string `json:"resource,omitempty"`
	Reason      string `json:"reason"`
	At          string `json:"at"`
}
