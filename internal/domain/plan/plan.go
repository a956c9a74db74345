// Package plan defines subscription plans, metered resources and usage
// snapshots used by quota enforcement.
package plan

import (
	"errors"
	"fmt"
	"time"
)

// Unlimited is the limit sentinel for an unbounded resource.
const Unlimited int64 = -1

// Resource names a metered resource kind.
type Resource string

const (
	ResourceProperties  Resource = "properties"
	ResourcePlotSizes   Resource = "plot_sizes"
	ResourceAllocations Resource = "allocations"
	ResourceMessages    Resource = "messages"
	ResourceAPICalls    Resource = "api_calls"
)

// Window is the accounting period of a resource. Live resources are counted
// from their entity table; the others are tracked in a counter row that
// resets at the start of each window.
type Window string

const (
	WindowLive     Window = "live"
	WindowDaily    Window = "daily"
	WindowMonthly  Window = "monthly"
	WindowLifetime Window = "lifetime"
)

// Start returns the beginning of the window containing now. Live and
// lifetime windows have a fixed zero start.
func (w Window) Start(now time.Time) time.Time {
	now = now.UTC()
	switch w {
	case WindowDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case WindowMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Unix(0, 0).UTC()
	}
}

// Plan is a subscription tier with named numeric limits.
type Plan struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Limits map[Resource]int64 `json:"limits"`
}

// Limit returns the plan limit for r. A resource missing from the plan is
// unbounded.
func (p Plan) Limit(r Resource) int64 {
	if n, ok := p.Limits[r]; ok {
		return n
	}
	return Unlimited
}

// Validate checks that the plan is well formed.
func (p Plan) Validate() error {
	if p.ID == "" {
		return errors.New("plan id is required")
	}
	if p.Name == "" {
		return errors.New("plan name is required")
	}
	for r, n := range p.Limits {
		if n < Unlimited {
			return fmt.Errorf("limit for %s must be >= -1", r)
		}
	}
	return nil
}

// Usage is a point-in-time snapshot of one resource for one tenant.
type Usage struct {
	Resource Resource `json:"resource"`
	Used     int64    `json:"used"`
	Limit    int64    `json:"limit"`
}

// Unbounded reports whether the limit is the Unlimited sentinel.
func (u Usage) Unbounded() bool { return u.Limit < 0 }

// Remaining returns how many more units may be consumed, or Unlimited.
func (u Usage) Remaining() int64 {
	if u.Unbounded() {
		return Unlimited
	}
	return max(u.Limit-u.Used, 0)
}

// IsExhausted reports whether no capacity is left.
func (u Usage) IsExhausted() bool {
	return !u.Unbounded() && u.Used >= u.Limit
}

// IsNearLimit reports whether usage reached threshold (0..1] of the limit.
func (u Usage) IsNearLimit(threshold float64) bool {
	if u.Unbounded() {
		return false
	}
	if u.Limit == 0 {
		return true
	}
	return float64(u.Used) >= threshold*float64(u.Limit)
}

// Message renders an actionable summary such as
// "2/2 properties used, upgrade to add more".
func (u Usage) Message() string {
	if u.Unbounded() {
		return fmt.Sprintf("%d %s used", u.Used, u.Resource)
	}
	if u.IsExhausted() {
		return fmt.Sprintf("%d/%d %s used, upgrade to add more", u.Used, u.Limit, u.Resource)
	}
	return fmt.Sprintf("%d/%d %s used", u.Used, u.Limit, u.Resource)
}
