package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlanLimit(t *testing.T) {
	p := Plan{ID: "starter", Name: "Starter", Limits: map[Resource]int64{ResourceProperties: 2}}

	assert.Equal(t, int64(2), p.Limit(ResourceProperties))
	assert.Equal(t, Unlimited, p.Limit(ResourceMessages))
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr string
	}{
		{name: "valid", plan: Plan{ID: "free", Name: "Free"}},
		{name: "missing id", plan: Plan{Name: "Free"}, wantErr: "plan id is required"},
		{name: "missing name", plan: Plan{ID: "free"}, wantErr: "plan name is required"},
		{
			name:    "bad limit",
			plan:    Plan{ID: "free", Name: "Free", Limits: map[Resource]int64{ResourceProperties: -5}},
			wantErr: "limit for properties must be >= -1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestUsage(t *testing.T) {
	tests := []struct {
		name      string
		usage     Usage
		remaining int64
		exhausted bool
		near      bool
		message   string
	}{
		{
			name:      "full",
			usage:     Usage{Resource: ResourceProperties, Used: 2, Limit: 2},
			remaining: 0, exhausted: true, near: true,
			message: "2/2 properties used, upgrade to add more",
		},
		{
			name:      "near",
			usage:     Usage{Resource: ResourceProperties, Used: 8, Limit: 10},
			remaining: 2, near: true,
			message: "8/10 properties used",
		},
		{
			name:      "plenty",
			usage:     Usage{Resource: ResourceProperties, Used: 1, Limit: 10},
			remaining: 9,
			message:   "1/10 properties used",
		},
		{
			name:      "over",
			usage:     Usage{Resource: ResourceMessages, Used: 12, Limit: 10},
			remaining: 0, exhausted: true, near: true,
			message: "12/10 messages used, upgrade to add more",
		},
		{
			name:      "unbounded",
			usage:     Usage{Resource: ResourceMessages, Used: 500, Limit: Unlimited},
			remaining: Unlimited,
			message:   "500 messages used",
		},
		{
			name:      "zero limit",
			usage:     Usage{Resource: ResourcePlotSizes, Used: 0, Limit: 0},
			remaining: 0, exhausted: true, near: true,
			message: "0/0 plot_sizes used, upgrade to add more",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.remaining, tt.usage.Remaining())
			assert.Equal(t, tt.exhausted, tt.usage.IsExhausted())
			assert.Equal(t, tt.near, tt.usage.IsNearLimit(0.8))
			assert.Equal(t, tt.message, tt.usage.Message())
		})
	}
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 17, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC), WindowDaily.Start(now))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), WindowMonthly.Start(now))
	assert.Equal(t, time.Unix(0, 0).UTC(), WindowLifetime.Start(now))
	assert.Equal(t, time.Unix(0, 0).UTC(), WindowLive.Start(now))
}
