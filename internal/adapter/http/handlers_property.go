package http

import (
	"net/http"

	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

func (h *Handlers) ListProperties() http.HandlerFunc  { return handleList(h.properties) }
func (h *Handlers) GetProperty() http.HandlerFunc     { return handleGet(h.properties) }
func (h *Handlers) UpdateProperty() http.HandlerFunc  { return handleUpdate(h.properties) }
func (h *Handlers) DeleteProperty() http.HandlerFunc  { return handleDelete(h.properties) }
func (h *Handlers) ListPlotSizes() http.HandlerFunc   { return handleList(h.plotSizes) }
func (h *Handlers) GetPlotSize() http.HandlerFunc     { return handleGet(h.plotSizes) }
func (h *Handlers) ListAllocations() http.HandlerFunc { return handleList(h.allocations) }
func (h *Handlers) GetAllocation() http.HandlerFunc   { return handleGet(h.allocations) }
func (h *Handlers) ListMessages() http.HandlerFunc    { return handleList(h.messages) }

func (h *Handlers) CreateProperty() http.HandlerFunc {
	return handleCreate(h.properties, func() *property.Property { return &property.Property{} })
}

func (h *Handlers) CreatePlotSize() http.HandlerFunc {
	return handleCreate(h.plotSizes, func() *property.PlotSize { return &property.PlotSize{} })
}

func (h *Handlers) CreateAllocation() http.HandlerFunc {
	return handleCreate(h.allocations, func() *property.Allocation { return &property.Allocation{} })
}

// PropertyAllocations lists the allocations of the property in {id}.
func (h *Handlers) PropertyAllocations() http.HandlerFunc {
	return handleChildren(h.properties, h.allocations, "property_id")
}

// CreateMessage creates a message authored by the acting principal unless
// the body names an author.
func (h *Handlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	m := &property.Message{}
	if !decodeInto(w, r, defaultBodyLimit, m) {
		return
	}
	m.ID = ""
	if m.AuthorID == "" {
		if scope, ok := tenancy.FromContext(r.Context()); ok {
			m.AuthorID = scope.Principal.ID
		}
	}
	if err := h.messages.Create(r.Context(), m); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
