// Package principal defines the authenticated actors that operate on tenant
// data and their declared capabilities.
package principal

import (
	"errors"
	"time"
)

// Role represents the authorization level of a principal.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
	RoleService Role = "service"

	// Unbound roles belong to no tenant and legitimately work across many.
	RoleClient   Role = "client"
	RoleMarketer Role = "marketer"

	// RoleOperator is platform staff; it acts on tenants only through the
	// elevated grant.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of all valid principal roles.
var ValidRoles = map[Role]bool{
	RoleOwner:    true,
	RoleManager:  true,
	RoleStaff:    true,
	RoleService:  true,
	RoleClient:   true,
	RoleMarketer: true,
	RoleOperator: true,
}

// unboundRoles carry the cross-tenant capability.
var unboundRoles = map[Role]bool{
	RoleClient:   true,
	RoleMarketer: true,
}

// writeRoles may mutate tenant data through the API.
var writeRoles = map[Role]bool{
	RoleOwner:   true,
	RoleManager: true,
	RoleStaff:   true,
	RoleService: true,
}

// Capability is a declared permission beyond plain tenant membership.
type Capability string

const (
	// CapElevated permits audited bypass of tenant scoping.
	CapElevated Capability = "elevated"
	// CapCrossTenant marks principals whose data spans tenants by role.
	CapCrossTenant Capability = "cross_tenant"
)

// Principal is an authenticated actor.
type Principal struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id,omitempty"` // empty for unbound and operator roles
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Elevated  bool      `json:"elevated"` // explicit grant, never inferred
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Unbound reports whether the principal's role is tenant-independent.
func (p Principal) Unbound() bool {
	return unboundRoles[p.Role]
}

// Has reports whether the principal holds capability c.
func (p Principal) Has(c Capability) bool {
	switch c {
	case CapElevated:
		return p.Elevated
	case CapCrossTenant:
		return p.Unbound()
	default:
		return false
	}
}

// MemberOf reports whether the principal is bound to tenantID.
func (p Principal) MemberOf(tenantID string) bool {
	return p.TenantID != "" && p.TenantID == tenantID
}

// CanAccess reports whether the principal may work inside tenantID.
func (p Principal) CanAccess(tenantID string) bool {
	return p.MemberOf(tenantID) || p.Unbound() || p.Elevated
}

// CanWrite reports whether the role may mutate tenant data.
func (p Principal) CanWrite() bool {
	return writeRoles[p.Role] || p.Unbound() || p.Elevated
}

// Validate checks the tenant binding rules of the role.
func (p Principal) Validate() error {
	if p.ID == "" {
		return errors.New("principal id is required")
	}
	if !ValidRoles[p.Role] {
		return errors.New("invalid role")
	}
	switch {
	case p.Unbound() || p.Role == RoleOperator:
		if p.TenantID != "" {
			return errors.New("role must not be bound to a tenant")
		}
	case p.TenantID == "":
		return errors.New("tenant is required for this role")
	}
	return nil
}

// System returns the built-in operator principal used by background jobs.
func System(name string) Principal {
	return Principal{
		ID:       "system:" + name,
		Name:     name,
		Role:     RoleOperator,
		Elevated: true,
		Enabled:  true,
	}
}

// CreateRequest is the input for registering a principal.
type CreateRequest struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	Elevated bool   `json:"elevated,omitempty"`
}
