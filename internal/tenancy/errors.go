package tenancy

import (
	"errors"
	"fmt"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
)

// Code classifies an isolation or policy failure.
type Code string

const (
	CodeContextMissing   Code = "context_missing"
	CodeCrossTenantWrite Code = "cross_tenant_write"
	CodeQuotaExceeded    Code = "quota_exceeded"
	CodeForbidden        Code = "forbidden"
	CodeInactiveTenant   Code = "inactive_tenant"
	CodeUniqueness       Code = "uniqueness_violation"
	CodeReadOnly         Code = "read_only"
)

// Sentinels for errors.Is. Only the Code is compared.
var (
	ErrContextMissing   = &Error{Code: CodeContextMissing}
	ErrCrossTenantWrite = &Error{Code: CodeCrossTenantWrite}
	ErrQuotaExceeded    = &Error{Code: CodeQuotaExceeded}
	ErrForbidden        = &Error{Code: CodeForbidden}
	ErrInactiveTenant   = &Error{Code: CodeInactiveTenant}
	ErrUniqueness       = &Error{Code: CodeUniqueness}
	ErrReadOnly         = &Error{Code: CodeReadOnly}
)

// AccessDenied is the only detail isolation failures disclose to callers.
const AccessDenied = "access denied"

// Error is a typed isolation or policy failure. Reason is for operators and
// logs; Public is what callers may see.
type Error struct {
	Code        Code
	TenantID    string
	PrincipalID string
	Resource    string
	Reason      string
	Usage       *plan.Usage
	Err         error
}

func (e *Error) Error() string {
	msg := "tenancy: " + string(e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Isolation reports whether the failure is a tenant-boundary failure whose
// details must not reach the caller.
func (e *Error) Isolation() bool {
	switch e.Code {
	case CodeContextMissing, CodeCrossTenantWrite, CodeForbidden:
		return true
	}
	return false
}

// Public returns the caller-safe message.
func (e *Error) Public() string {
	switch e.Code {
	case CodeQuotaExceeded:
		if e.Usage != nil {
			return e.Usage.Message()
		}
		return "plan limit reached"
	case CodeInactiveTenant:
		return "tenant is not active"
	case CodeReadOnly:
		return "tenant is in read-only mode"
	case CodeUniqueness:
		if e.Reason != "" {
			return e.Reason
		}
		return "value already in use"
	default:
		return AccessDenied
	}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CodeOf returns the Code of err, or "" when err is not a tenancy error.
func CodeOf(err error) Code {
	if te, ok := As(err); ok {
		return te.Code
	}
	return ""
}

func newError(code Code, s Scope, format string, args ...any) *Error {
	return &Error{
		Code:        code,
		TenantID:    s.TenantID(),
		PrincipalID: s.Principal.ID,
		Reason:      fmt.Sprintf(format, args...),
	}
}

// ContextMissing builds a ContextMissing error.
func ContextMissing(reason string) *Error {
	return &Error{Code: CodeContextMissing, Reason: reason}
}

// CrossTenantWrite builds a CrossTenantWrite error attributed to s.
func CrossTenantWrite(s Scope, format string, args ...any) *Error {
	return newError(CodeCrossTenantWrite, s, format, args...)
}

// Forbidden builds a Forbidden error attributed to s.
func Forbidden(s Scope, format string, args ...any) *Error {
	return newError(CodeForbidden, s, format, args...)
}

// InactiveTenant builds an InactiveTenant error attributed to s.
func InactiveTenant(s Scope, format string, args ...any) *Error {
	return newError(CodeInactiveTenant, s, format, args...)
}

// ReadOnly builds a ReadOnly error attributed to s.
func ReadOnly(s Scope, format string, args ...any) *Error {
	return newError(CodeReadOnly, s, format, args...)
}
