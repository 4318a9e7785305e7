// Package access defines the permission gate: a single interception point
// called before each phase that reads or writes.
package access

import (
	"context"

	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
)

// Method identifies the engine operation being authorized.
type Method int

const (
	MethodQuery Method = iota
	MethodGet
	MethodPost
	MethodPut
	MethodPatch
	MethodDelete
)

// String returns the lower-case method name.
func (m Method) String() string {
	switch m {
	case MethodQuery:
		return "query"
	case MethodGet:
		return "get"
	case MethodPost:
		return "post"
	case MethodPut:
		return "put"
	case MethodPatch:
		return "patch"
	case MethodDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Read reports whether the method only reads data.
func (m Method) Read() bool {
	return m == MethodQuery || m == MethodGet
}

// Auth is the identity the transport established for the request. The engine
// never provisions identity; it only consumes verified claims.
type Auth struct {
	Subject string
	Claims  map[string]interface{}
}

// Anonymous reports whether no identity was established.
func (a Auth) Anonymous() bool {
	return a.Subject == ""
}

// Check carries everything a policy needs to decide. For single-item reads
// and writes, Record holds the minimal record (id plus the resource's policy
// fields) so row-level policies can run without a second fetch.
type Check struct {
	Method   Method
	Resource *schema.Resource
	ID       string
	Record   map[string]interface{}
	Auth     Auth
}

// Gate authorizes method+subject pairs. Denial aborts the request with a
// forbidden error.
type Gate interface {
	Check(ctx context.Context, c Check) error
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, c Check) error

// Check implements Gate.
func (f GateFunc) Check(ctx context.Context, c Check) error {
	return f(ctx, c)
}

// AllowAll permits everything. It is the default gate.
type AllowAll struct{}

// Check implements Gate.
func (AllowAll) Check(context.Context, Check) error {
	return nil
}

// Deny builds the error a gate should return on refusal.
func Deny(c Check) error {
	return apierr.Forbidden("%s on %s denied", c.Method, c.Resource.Name)
}

type authKey struct{}

// WithAuth stores the established identity in the context.
func WithAuth(ctx context.Context, a Auth) context.Context {
	return context.WithValue(ctx, authKey{}, a)
}

// AuthFromContext retrieves the identity established by the transport.
func AuthFromContext(ctx context.Context) Auth {
	a, _ := ctx.Value(authKey{}).(Auth)
	return a
}
