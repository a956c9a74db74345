// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist (or is not
// visible from the caller's tenant).
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a storage-level uniqueness collision.
var ErrConflict = errors.New("conflict: resource already exists")

// ErrValidation indicates malformed input rejected before persistence.
var ErrValidation = errors.New("validation failed")
