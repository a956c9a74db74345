package principal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities(t *testing.T) {
	staff := Principal{ID: "p1", TenantID: "t1", Role: RoleStaff}
	client := Principal{ID: "p2", Role: RoleClient}
	marketer := Principal{ID: "p3", Role: RoleMarketer}
	operator := Principal{ID: "p4", Role: RoleOperator, Elevated: true}

	assert.False(t, staff.Unbound())
	assert.True(t, client.Unbound())
	assert.True(t, marketer.Has(CapCrossTenant))
	assert.False(t, marketer.Has(CapElevated))
	assert.True(t, operator.Has(CapElevated))
	assert.False(t, operator.Has(CapCrossTenant))

	assert.True(t, staff.CanAccess("t1"))
	assert.False(t, staff.CanAccess("t2"))
	assert.True(t, client.CanAccess("t2"))
	assert.True(t, operator.CanAccess("t2"))
	assert.False(t, Principal{ID: "p5"}.CanAccess(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Principal
		wantErr string
	}{
		{name: "bound staff", p: Principal{ID: "a", TenantID: "t", Role: RoleStaff}},
		{name: "unbound client", p: Principal{ID: "a", Role: RoleClient}},
		{name: "operator", p: Principal{ID: "a", Role: RoleOperator}},
		{name: "missing id", p: Principal{Role: RoleStaff, TenantID: "t"}, wantErr: "principal id is required"},
		{name: "bad role", p: Principal{ID: "a", Role: "root"}, wantErr: "invalid role"},
		{name: "staff without tenant", p: Principal{ID: "a", Role: RoleStaff}, wantErr: "tenant is required for this role"},
		{name: "client with tenant", p: Principal{ID: "a", Role: RoleClient, TenantID: "t"}, wantErr: "role must not be bound to a tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestSystem(t *testing.T) {
	p := System("retention")
	assert.Equal(t, "system:retention", p.ID)
	assert.True(t, p.Elevated)
	assert.NoError(t, p.Validate())
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, (&APIKey{}).Expired(now))
	assert.True(t, (&APIKey{ExpiresAt: now.Add(-time.Second)}).Expired(now))
	assert.False(t, (&APIKey{ExpiresAt: now.Add(time.Hour)}).Expired(now))
}
