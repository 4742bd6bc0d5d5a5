// Package queue defines identity lifecycle events exchanged over RabbitMQ,
// the publisher used by the session service and the audit consumer.
package queue

import "time"

// Event types and the queue they travel on.
const (
	IdentityEventsQueue = "identity.events"

	EventLogin   = "identity.login"
	EventDeleted = "identity.deleted"
)

// IdentityEvent is published after a login or an administrative delete. It
// carries enough for downstream consumers to audit or notify without
// querying the identity store.
type IdentityEvent struct {
	Type        string `json:"type"`
	IdentityID  uint64 `json:"identity_id"`
	Provider    string `json:"provider"`
	DisplayName string `json:"display_name"`
	Created     bool   `json:"created,omitempty"` // first login for this identity
	OccurredAt  string `json:"occurred_at"`       // RFC3339, UTC
}

// NewIdentityEvent stamps an event with the given time.
func NewIdentityEvent(typ string, identityID uint64, provider, displayName string, at time.Time) IdentityEvent {
	return IdentityEvent{
		Type:        typ,
		IdentityID:  identityID,
		Provider:    provider,
		DisplayName: displayName,
		OccurredAt:  at.UTC().Format(time.RFC3339),
	}
}
