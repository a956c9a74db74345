package tenant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidSlug(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"acme", true},
		{"acme-lettings", true},
		{"a1", false},
		{"-acme", false},
		{"acme-", false},
		{"Acme", false},
		{"acme_lettings", false},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSlug(tt.slug))
		})
	}
}

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr string
	}{
		{name: "valid", req: CreateRequest{Name: "Acme", Slug: "acme", PlanID: "free"}},
		{name: "missing name", req: CreateRequest{Slug: "acme", PlanID: "free"}, wantErr: "name is required"},
		{name: "bad slug", req: CreateRequest{Name: "Acme", Slug: "A!", PlanID: "free"}, wantErr: "slug must be 3-64 lowercase alphanumeric characters or hyphens"},
		{name: "missing plan", req: CreateRequest{Name: "Acme", Slug: "acme"}, wantErr: "plan is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestWritable(t *testing.T) {
	assert.True(t, (&Tenant{Active: true}).Writable())
	assert.False(t, (&Tenant{Active: true, ReadOnly: true}).Writable())
	assert.False(t, (&Tenant{Active: false}).Writable())
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, (&Tenant{Subscription: SubscriptionActive}).Expired(now))
	assert.True(t, (&Tenant{DeletionDeadline: now.Add(-time.Hour)}).Expired(now))
	assert.False(t, (&Tenant{DeletionDeadline: now.Add(time.Hour)}).Expired(now))
	assert.True(t, (&Tenant{Subscription: SubscriptionTrialing, TrialEndsAt: now}).Expired(now))
	assert.False(t, (&Tenant{Subscription: SubscriptionActive, TrialEndsAt: now.Add(-time.Hour)}).Expired(now))
}

func TestUpdateRequest_Validate(t *testing.T) {
	assert.NoError(t, (&UpdateRequest{Subscription: SubscriptionPastDue}).Validate())
	assert.EqualError(t, (&UpdateRequest{Subscription: "frozen"}).Validate(), "invalid subscription state")
}
