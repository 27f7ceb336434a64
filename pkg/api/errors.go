package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Problem implements RFC 9457
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`

	Log error `json:"-"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

func (p *Problem) MarshalJSON() ([]byte, error) {
	type Alias Problem

	data := make(map[string]interface{})

	for k, v := range p.Extensions {
		data[k] = v
	}

	stdJSON, _ := json.Marshal(Alias(*p))
	_ = json.Unmarshal(stdJSON, &data)

	return json.Marshal(data)
}

type ProblemOption func(*Problem)

// NewError creates a generic Problem
func NewError(status int, title, detail string, opts ...ProblemOption) *Problem {
	p := &Problem{
		Type:       "about:blank", // Default as per RFC
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithExtension adds a custom key-value pair to the response
func WithExtension(key string, value interface{}) ProblemOption {
	return func(p *Problem) {
		p.Extensions[key] = value
	}
}

// WithLog attaches an internal error for server-side logging
func WithLog(err error) ProblemOption {
	return func(p *Problem) {
		p.Log = err
	}
}

// WithType sets the RFC "type" URI
func WithType(uri string) ProblemOption {
	return func(p *Problem) {
		p.Type = uri
	}
}

// ValidationError creates a rich validation error
func ValidationError(validationErrors map[string]string) *Problem {
	return New(
		http.StatusBadRequest,
		"Validation Error",
		"One or more fields failed validation",
		WithExtension("errors", validationErrors),
	)
}

// New is an alias kept for call sites that predate NewError.
func New(status int, title, detail string, opts ...ProblemOption) *Problem {
	return NewError(status, title, detail, opts...)
}

// BadRequestError creates a standard error for a bad request
func BadRequestError(detail string, opts ...ProblemOption) *Problem {
	return New(http.StatusBadRequest, "Bad Request", detail, opts...)
}

// UnauthorizedError creates a 401 unauthed error
func UnauthorizedError(detail string) *Problem {
	return New(http.StatusUnauthorized, "Unauthorized", detail)
}

// InternalError creates a standard error for any internal server error
func InternalError(detail string, err error) *Problem {
	return New(http.StatusInternalServerError, "Internal Server Error", detail, WithLog(err))
}

// NotFoundError creates a standard 404 error
func NotFoundError(detail string) *Problem {
	return New(http.StatusNotFound, "Not Found", detail)
}

// RateLimitError creates standard 429 rate limit error
func RateLimitError(detail string) *Problem {
	return New(http.StatusTooManyRequests, "Rate Limit Exceeded", detail)
}

// ProviderError creates 502 gateway error for upstream provider failures
func ProviderError(detail string, err error) *Problem {
	return New(http.StatusBadGateway, "Upstream Provider Error", detail, WithLog(err))
}

// AccessDeniedError is returned when the account guard rejects a request
// before any upstream call. The machine-readable reason rides in the
// "reason" extension (account_suspended, model_not_allowed,
// request_quota_exceeded, token_quota_exceeded, price_cap_exceeded).
func AccessDeniedError(reason, detail string) *Problem {
	return New(http.StatusForbidden, "Access Denied", detail, WithExtension("reason", reason))
}

// ContentBlockedError identifies the policy that stopped the request.
// Deliberately not a generic 4xx: callers key off the title and extensions.
func ContentBlockedError(policyID, policyName string) *Problem {
	return New(
		http.StatusUnprocessableEntity,
		"Content Blocked",
		fmt.Sprintf("blocked by policy %q", policyName),
		WithExtension("policy_id", policyID),
		WithExtension("policy_name", policyName),
	)
}

// UnknownModelError is a configuration error, never retried.
func UnknownModelError(requested string) *Problem {
	return New(
		http.StatusBadRequest,
		"Unknown Model",
		fmt.Sprintf("model %q is not a known model or alias", requested),
		WithExtension("requested", requested),
	)
}

// RoutingExhaustedError reports every model attempted, in order, so an
// operator can see the whole fallback walk. The upstream error detail is
// sanitized by the router before it reaches here.
func RoutingExhaustedError(attempts []string, last error) *Problem {
	detail := fmt.Sprintf("all candidates failed: %s", strings.Join(attempts, ", "))
	return New(
		http.StatusBadGateway,
		"Routing Exhausted",
		detail,
		WithExtension("attempts", attempts),
		WithLog(last),
	)
}
