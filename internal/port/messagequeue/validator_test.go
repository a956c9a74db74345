package messagequeue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalSubject(t *testing.T) {
	assert.Equal(t, "tenantguard.signals.quota_exceeded", SignalSubject("", "quota_exceeded"))
	assert.Equal(t, "ops.signals.context_missing", SignalSubject("ops.signals", "context_missing"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
	}{
		{name: "valid signal", subject: "tenantguard.signals.cross_tenant_write", data: `{"kind":"cross_tenant_write","reason":"ref outside tenant"}`},
		{name: "invalid json", subject: "tenantguard.signals.cross_tenant_write", data: `{`, wantErr: true},
		{name: "missing reason", subject: "tenantguard.signals.quota_exceeded", data: `{"kind":"quota_exceeded"}`, wantErr: true},
		{name: "kind mismatch", subject: "tenantguard.signals.quota_exceeded", data: `{"kind":"context_missing","reason":"x"}`, wantErr: true},
		{name: "wrong field type", subject: "tenantguard.signals.quota_exceeded", data: `{"kind":1}`, wantErr: true},
		{name: "unknown subject", subject: "other.events", data: `{"anything":true}`},
		{name: "cache invalidation", subject: SubjectCacheInvalidate, data: `{"key":"tenant:t1","origin":"node-a"}`},
		{name: "cache invalidation without key", subject: SubjectCacheInvalidate, data: `{"origin":"node-a"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
