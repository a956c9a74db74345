package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/service"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// ErrorBody is the JSON shape of every rejection.
type ErrorBody struct {
	Error string      `json:"error"`
	Code  string      `json:"code,omitempty"`
	Usage *plan.Usage `json:"usage,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusOf maps err to its HTTP status.
func StatusOf(err error) int {
	if te, ok := tenancy.As(err); ok {
		switch te.Code {
		case tenancy.CodeQuotaExceeded:
			return http.StatusPaymentRequired
		case tenancy.CodeReadOnly:
			return http.StatusLocked
		case tenancy.CodeUniqueness:
			return http.StatusConflict
		default:
			return http.StatusForbidden
		}
	}
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as an ErrorBody. Tenancy errors disclose only their
// public message; internal errors are logged and reported generically.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	body := ErrorBody{Error: http.StatusText(status)}

	if te, ok := tenancy.As(err); ok {
		body.Error = te.Public()
		body.Code = string(te.Code)
		body.Usage = te.Usage
	} else {
		switch status {
		case http.StatusInternalServerError:
			logger.From(r.Context()).Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			body.Error = "internal server error"
		case http.StatusUnauthorized:
			body.Error = "authorization required"
		case http.StatusNotFound:
			body.Error = "not found"
		default:
			body.Error = err.Error()
		}
	}
	WriteJSON(w, status, body)
}
