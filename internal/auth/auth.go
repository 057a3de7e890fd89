// Package auth resolves the caller of a request. Behind API Gateway the
// principal comes from the Lambda authorizer context; local runs may trust
// plain headers instead.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/awslabs/aws-lambda-go-api-proxy/core"
	"github.com/gin-gonic/gin"
)

// Headers read when TRUST_PRINCIPAL_HEADERS is enabled.
const (
	PrincipalIDHeader    = "X-Principal-Id"
	PrincipalAdminHeader = "X-Principal-Admin"
)

// Principal is the authenticated caller.
type Principal struct {
	ID      string
	IsAdmin bool
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by Middleware, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.ID != ""
}

// Middleware attaches the caller's principal to the request context.
// Requests without one continue anonymously; route guards decide.
func Middleware(trustHeaders bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := fromGateway(c.Request.Context())
		if !ok && trustHeaders {
			p, ok = fromHeaders(c.Request)
		}
		if ok {
			c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		}
		c.Next()
	}
}

func fromGateway(ctx context.Context) (Principal, bool) {
	rc, ok := core.GetAPIGatewayContextFromContext(ctx)
	if !ok || rc.Authorizer == nil {
		return Principal{}, false
	}
	id, _ := rc.Authorizer["principalId"].(string)
	if id == "" {
		return Principal{}, false
	}
	return Principal{ID: id, IsAdmin: truthy(rc.Authorizer["isAdmin"])}, true
}

func fromHeaders(r *http.Request) (Principal, bool) {
	id := r.Header.Get(PrincipalIDHeader)
	if id == "" {
		return Principal{}, false
	}
	return Principal{ID: id, IsAdmin: truthy(r.Header.Get(PrincipalAdminHeader))}, true
}

// authorizer context values arrive as strings from Lambda authorizers and as
// booleans from some test harnesses
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		return err == nil && b
	}
	return false
}

// RequirePrincipal rejects anonymous requests with 401.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects anonymous requests with 401 and non-admins with 403.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !p.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "msg": fmt.Sprintf("%s is not an admin", p.ID)})
			return
		}
		c.Next()
	}
}
