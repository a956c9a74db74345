package property

import (
	"errors"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/quota"
	"github.com/Strob0t/tenantguard/internal/scoped"
)

// Allocation assigns a plot of a property to a client. Clients are unbound
// principals; ClientID links the row to them across tenants.
type Allocation struct {
	scoped.Record
	PropertyID  string `json:"property_id"`
	PlotSizeID  string `json:"plot_size_id,omitempty"`
	ClientID    string `json:"client_id"`
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
}

// Validate checks that the Allocation has all required fields.
func (a *Allocation) Validate() error {
	if a.PropertyID == "" {
		return errors.New("property_id is required")
	}
	if a.ClientID == "" {
		return errors.New("client_id is required")
	}
	if a.Reference == "" {
		return errors.New("reference is required")
	}
	return nil
}

// Allocations is the scoped table of Allocation.
var Allocations = &scoped.Table[*Allocation]{
	Schema: scoped.Schema{
		Table:   "allocations",
		Kind:    "allocation",
		Columns: []string{"property_id", "plot_size_id", "client_id", "reference", "amount_cents"},
		Unique:  []string{"reference"},
		Refs: []scoped.Ref{
			{Column: "property_id", Table: "properties"},
			{Column: "plot_size_id", Table: "plot_sizes"},
		},
		PrincipalColumn: "client_id",
		Resource:        plan.ResourceAllocations,
	},
	New: func() *Allocation { return &Allocation{} },
	Values: func(a *Allocation) []any {
		return []any{a.PropertyID, scoped.Nullable(a.PlotSizeID), a.ClientID, a.Reference, a.AmountCents}
	},
	Fields: func(a *Allocation) []any {
		return []any{&a.PropertyID, scoped.Optional(&a.PlotSizeID), &a.ClientID, &a.Reference, &a.AmountCents}
	},
}

// Message is a note exchanged about a property. Marketers and clients author
// messages across tenants; AuthorID links the row to them.
type Message struct {
	scoped.Record
	PropertyID string `json:"property_id,omitempty"`
	AuthorID   string `json:"author_id"`
	Body       string `json:"body"`
}

// Validate checks that the Message has all required fields.
func (m *Message) Validate() error {
	if m.AuthorID == "" {
		return errors.New("author_id is required")
	}
	if m.Body == "" {
		return errors.New("body is required")
	}
	return nil
}

// Messages is the scoped table of Message. Messages are metered per month.
var Messages = &scoped.Table[*Message]{
	Schema: scoped.Schema{
		Table:           "messages",
		Kind:            "message",
		Columns:         []string{"property_id", "author_id", "body"},
		Refs:            []scoped.Ref{{Column: "property_id", Table: "properties"}},
		PrincipalColumn: "author_id",
		Resource:        plan.ResourceMessages,
	},
	New: func() *Message { return &Message{} },
	Values: func(m *Message) []any {
		return []any{scoped.Nullable(m.PropertyID), m.AuthorID, m.Body}
	},
	Fields: func(m *Message) []any {
		return []any{scoped.Optional(&m.PropertyID), &m.AuthorID, &m.Body}
	},
}

// Schemas lists every scoped table, for startup schema checks.
func Schemas() []*scoped.Schema {
	return []*scoped.Schema{
		&PlotSizes.Schema,
		&Properties.Schema,
		&Allocations.Schema,
		&Messages.Schema,
	}
}

// Meters lists how each plan resource is accounted: tables are counted
// live, messages per month and API calls per day.
func Meters() []quota.Meter {
	return []quota.Meter{
		{Resource: plan.ResourceProperties, Window: plan.WindowLive, Schema: &Properties.Schema},
		{Resource: plan.ResourcePlotSizes, Window: plan.WindowLive, Schema: &PlotSizes.Schema},
		{Resource: plan.ResourceAllocations, Window: plan.WindowLive, Schema: &Allocations.Schema},
		{Resource: plan.ResourceMessages, Window: plan.WindowMonthly},
		{Resource: plan.ResourceAPICalls, Window: plan.WindowDaily},
	}
}
