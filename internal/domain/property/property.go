// Package property defines the tenant-owned business records of the
// property-management domain and their scoped table declarations.
package property

import (
	"errors"
	"strings"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/scoped"
)

// Property is a managed estate or building.
type Property struct {
	scoped.Record
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	PlotSizeID string `json:"plot_size_id,omitempty"`
	Units      int64  `json:"units"`
}

// Validate checks that the Property has all required fields.
func (p *Property) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if p.Units < 0 {
		return errors.New("units must be >= 0")
	}
	return nil
}

// Properties is the scoped table of Property.
var Properties = &scoped.Table[*Property]{
	Schema: scoped.Schema{
		Table:    "properties",
		Kind:     "property",
		Columns:  []string{"name", "address", "plot_size_id", "units"},
		Unique:   []string{"name"},
		Refs:     []scoped.Ref{{Column: "plot_size_id", Table: "plot_sizes"}},
		Resource: plan.ResourceProperties,
	},
	New: func() *Property { return &Property{} },
	Values: func(p *Property) []any {
		return []any{p.Name, p.Address, scoped.Nullable(p.PlotSizeID), p.Units}
	},
	Fields: func(p *Property) []any {
		return []any{&p.Name, &p.Address, scoped.Optional(&p.PlotSizeID), &p.Units}
	},
}

// PlotSize is a tenant-defined plot category such as "500sqm".
type PlotSize struct {
	scoped.Record
	Label      string `json:"label"`
	AreaSqm    int64  `json:"area_sqm"`
	PriceCents int64  `json:"price_cents"`
}

// Validate checks that the PlotSize has all required fields.
func (p *PlotSize) Validate() error {
	if strings.TrimSpace(p.Label) == "" {
		return errors.New("label is required")
	}
	if p.AreaSqm <= 0 {
		return errors.New("area_sqm must be > 0")
	}
	return nil
}

// PlotSizes is the scoped table of PlotSize.
var PlotSizes = &scoped.Table[*PlotSize]{
	Schema: scoped.Schema{
		Table:    "plot_sizes",
		Kind:     "plot_size",
		Columns:  []string{"label", "area_sqm", "price_cents"},
		Unique:   []string{"label"},
		Resource: plan.ResourcePlotSizes,
	},
	New: func() *PlotSize { return &PlotSize{} },
	Values: func(p *PlotSize) []any {
		return []any{p.Label, p.AreaSqm, p.PriceCents}
	},
	Fields: func(p *PlotSize) []any {
		return []any{&p.Label, &p.AreaSqm, &p.PriceCents}
	},
}
