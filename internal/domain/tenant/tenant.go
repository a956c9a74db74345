// Package tenant defines the tenant domain model for multi-tenancy.
package tenant

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
)

// slugRegex validates tenant slugs: lowercase alphanumeric with hyphens, 3-64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// Subscription is the billing state of a tenant.
type Subscription string

const (
	SubscriptionTrialing Subscription = "trialing"
	SubscriptionActive   Subscription = "active"
	SubscriptionPastDue  Subscription = "past_due"
	SubscriptionCanceled Subscription = "canceled"
)

// ValidSubscriptions is the set of known subscription states.
var ValidSubscriptions = map[Subscription]bool{
	SubscriptionTrialing: true,
	SubscriptionActive:   true,
	SubscriptionPastDue:  true,
	SubscriptionCanceled: true,
}

// Tenant represents an isolated customer organization. Tenants are never
// hard-deleted; suspension clears Active.
type Tenant struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Slug             string       `json:"slug"`
	Active           bool         `json:"active"`
	ReadOnly         bool         `json:"read_only"`
	PlanID           string       `json:"plan_id"`
	Plan             plan.Plan    `json:"plan"`
	Subscription     Subscription `json:"subscription"`
	TrialEndsAt      time.Time    `json:"trial_ends_at,omitzero"`
	DeletionDeadline time.Time    `json:"deletion_deadline,omitzero"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Writable reports whether the tenant accepts mutations.
func (t *Tenant) Writable() bool {
	return t.Active && !t.ReadOnly
}

// Expired reports whether the tenant should be suspended at now: its
// deletion deadline has passed, or its trial ended without converting.
func (t *Tenant) Expired(now time.Time) bool {
	if !t.DeletionDeadline.IsZero() && !now.Before(t.DeletionDeadline) {
		return true
	}
	return t.Subscription == SubscriptionTrialing && !t.TrialEndsAt.IsZero() && !now.Before(t.TrialEndsAt)
}

// ValidSlug reports whether s is an acceptable tenant slug.
func ValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// CreateRequest holds the fields required to create a new tenant.
type CreateRequest struct {
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	PlanID      string    `json:"plan_id"`
	TrialEndsAt time.Time `json:"trial_ends_at,omitzero"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if !ValidSlug(r.Slug) {
		return errors.New("slug must be 3-64 lowercase alphanumeric characters or hyphens")
	}
	if r.PlanID == "" {
		return errors.New("plan is required")
	}
	return nil
}

// UpdateRequest holds the fields that can be updated on a tenant.
type UpdateRequest struct {
	Name             string       `json:"name,omitempty"`
	Active           *bool        `json:"active,omitempty"`
	ReadOnly         *bool        `json:"read_only,omitempty"`
	PlanID           string       `json:"plan_id,omitempty"`
	Subscription     Subscription `json:"subscription,omitempty"`
	DeletionDeadline *time.Time   `json:"deletion_deadline,omitempty"`
}

// Validate checks the optional fields that were supplied.
func (r *UpdateRequest) Validate() error {
	if r.Subscription != "" && !ValidSubscriptions[r.Subscription] {
		return errors.New("invalid subscription state")
	}
	return nil
}

// Domain maps a custom host name to its tenant.
type Domain struct {
	Host      string    `json:"host"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}
