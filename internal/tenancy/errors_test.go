package tenancy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
)

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("create property: %w", &Error{Code: CodeQuotaExceeded, Reason: "full"})

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.NotErrorIs(t, err, ErrForbidden)
	assert.Equal(t, CodeQuotaExceeded, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(fmt.Errorf("plain")))
}

func TestPublicMessages(t *testing.T) {
	usage := &plan.Usage{Resource: plan.ResourceProperties, Used: 2, Limit: 2}

	assert.Equal(t, AccessDenied, (&Error{Code: CodeCrossTenantWrite, Reason: "property belongs to t2"}).Public())
	assert.Equal(t, AccessDenied, (&Error{Code: CodeForbidden, Reason: "not a member"}).Public())
	assert.Equal(t, AccessDenied, (&Error{Code: CodeContextMissing}).Public())
	assert.Equal(t, "2/2 properties used, upgrade to add more", (&Error{Code: CodeQuotaExceeded, Usage: usage}).Public())
	assert.Equal(t, "name already in use", (&Error{Code: CodeUniqueness, Reason: "name already in use"}).Public())
	assert.Equal(t, "tenant is in read-only mode", (&Error{Code: CodeReadOnly}).Public())
}

func TestIsolation(t *testing.T) {
	assert.True(t, (&Error{Code: CodeCrossTenantWrite}).Isolation())
	assert.True(t, (&Error{Code: CodeContextMissing}).Isolation())
	assert.False(t, (&Error{Code: CodeQuotaExceeded}).Isolation())
}

func TestSignalFor(t *testing.T) {
	tests := []struct {
		code Code
		want SignalKind
	}{
		{CodeQuotaExceeded, SignalQuotaExceeded},
		{CodeCrossTenantWrite, SignalCrossTenantWrite},
		{CodeContextMissing, SignalContextMissing},
		{CodeForbidden, SignalViolationDetected},
		{CodeUniqueness, SignalViolationDetected},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			s := SignalFor(&Error{Code: tt.code, TenantID: "t1", PrincipalID: "p1", Resource: "properties", Reason: "r"})
			assert.Equal(t, tt.want, s.Kind)
			assert.Equal(t, "t1", s.TenantID)
			assert.Equal(t, "p1", s.PrincipalID)
			assert.False(t, s.At.IsZero())
		})
	}
}
