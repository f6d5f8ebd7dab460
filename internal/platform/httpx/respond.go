// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// IdempotencyHeader carries the client supplied idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string            `json:"type,omitempty"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// ValidationProblem sends a 400 problem with field-level reasons.
func ValidationProblem(w http.ResponseWriter, fields map[string]string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  "Validation Failed",
		Status: http.StatusBadRequest,
		Errors: fields,
	})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: malformed json: %v", ErrValidation, err)
	}
	return nil
}

// DecodeAndValidate decodes the body and runs struct validation, writing the
// problem response itself. It reports whether the handler may continue.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, target any) bool {
	if err := DecodeJSON(r, target); err != nil {
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	if err := v.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			ValidationProblem(w, FieldErrors(verrs))
			return false
		}
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// FieldErrors flattens validator errors into namespace -> tag reasons.
func FieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Namespace()
		if idx := strings.Index(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		out[name] = reason
	}
	return out
}

// IdempotencyKey reads the idempotency header.
func IdempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdempotencyHeader))
}

// NewValidator returns a validator reporting json field names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// RequireActor returns the request actor or writes 401.
func RequireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return shared.Actor{}, false
	}
	return actor, true
}

// UUIDParam parses a chi URL parameter as UUID, writing 400 on failure.
func UUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, shared.Invalid(name, "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
