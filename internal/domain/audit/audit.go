// Package audit defines the immutable audit event record.
package audit

import (
	"errors"
	"time"
)

// Action is the kind of action an event records.
type Action string

const (
	ActionCreate          Action = "create"
	ActionUpdate          Action = "update"
	ActionDelete          Action = "delete"
	ActionRequest         Action = "request"
	ActionRequestReplayed Action = "request_replayed"
	ActionViolation       Action = "violation"
	ActionElevatedAccess  Action = "elevated_access"
	ActionTenantCreated   Action = "tenant_created"
	ActionTenantUpdated   Action = "tenant_updated"
	ActionTenantSuspended Action = "tenant_suspended"
	ActionAPIKeyIssued    Action = "api_key_issued"
)

// Event is an append-only record of a mutating or privileged action, or of
// a detected violation. TenantID is empty when the tenant was never
// resolved.
type Event struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Action     Action    `json:"action"`
	TargetKind string    `json:"target_kind,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	SourceAddr string    `json:"source_addr,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate checks the minimum fields every stored event carries.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if e.Action == "" {
		return errors.New("action is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	return nil
}

// Anonymous is the actor recorded when no principal was authenticated.
const Anonymous = "anonymous"
