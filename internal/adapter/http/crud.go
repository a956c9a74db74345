package http

import (
	"net/http"

	"github.com/Strob0t/tenantguard/internal/scoped"
)

// ---------------------------------------------------------------------------
// Generic scoped CRUD handler factories
// ---------------------------------------------------------------------------

const maxPageSize = 500

// handleList lists the rows of repo visible in the request scope. It
// accepts limit and offset query parameters.
func handleList[T scoped.Entity](repo *scoped.Repo[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, okL := queryUint(r, "limit", 100)
		offset, okO := queryUint(r, "offset", 0)
		if !okL || !okO {
			writeError(w, http.StatusBadRequest, "limit and offset must be non-negative integers")
			return
		}
		items, err := repo.Find(r.Context(), scoped.Query{
			OrderBy: []string{"created_at", "id"},
			Limit:   min(limit, maxPageSize),
			Offset:  offset,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleGet returns one row by URL param "id".
func handleGet[T scoped.Entity](repo *scoped.Repo[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := repo.Get(r.Context(), urlParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleCreate decodes a new row and creates it in the request scope. The
// id is always assigned by the store.
func handleCreate[T scoped.Entity](repo *scoped.Repo[T], newFn func() T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item := newFn()
		if !decodeInto(w, r, defaultBodyLimit, item) {
			return
		}
		item.Base().ID = ""
		if err := repo.Create(r.Context(), item); err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

// handleUpdate loads the row by URL param "id", applies the body on top of
// it and stores the result. Identity fields cannot be changed.
func handleUpdate[T scoped.Entity](repo *scoped.Repo[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := repo.Get(r.Context(), urlParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		orig := *item.Base()
		if !decodeInto(w, r, defaultBodyLimit, item) {
			return
		}
		base := item.Base()
		base.ID, base.CreatedAt = orig.ID, orig.CreatedAt
		if err := repo.Update(r.Context(), item); err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleDelete deletes a row by URL param "id".
func handleDelete[T scoped.Entity](repo *scoped.Repo[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Delete(r.Context(), urlParam(r, "id")); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleChildren lists the child rows referencing the parent in URL param
// "id" through column.
func handleChildren[P, C scoped.Entity](parents *scoped.Repo[P], children *scoped.Repo[C], column string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := scoped.Children(r.Context(), parents, urlParam(r, "id"), children, column)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if items == nil {
			items = []C{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}
