package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"covera.io/internal/audit"
	"covera.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

// authenticator resolves bearer tokens.
type authenticator interface {
	Authenticate(ctx context.Context, raw string) (auth.Principal, error)
}

// Gatekeeper answers module and permission questions for an identity.
type Gatekeeper interface {
	CheckModuleAccess(ctx context.Context, identity *auth.Identity, module auth.ModuleCode) error
	CheckPermission(ctx context.Context, identity *auth.Identity, scope auth.Scope, perm string) error
}

func withAuth(authn authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeAuthError(w, r, fmt.Errorf("%w: %s", auth.ErrUnauthenticated, err.Error()))
			return
		}

		principal, err := authn.Authenticate(r.Context(), token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithActor(ctx, principal.Identity.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ModuleSource extracts the module a request targets.
type ModuleSource func(*http.Request) (auth.ModuleCode, error)

// FixedModule guards a route with one module.
func FixedModule(module auth.ModuleCode) ModuleSource {
	return func(*http.Request) (auth.ModuleCode, error) { return module, nil }
}

// PathModule reads the module from a path wildcard.
func PathModule(name string) ModuleSource {
	return func(r *http.Request) (auth.ModuleCode, error) {
		return auth.ParseModuleCode(r.PathValue(name))
	}
}

// RequireModule rejects requests whose identity may not enter the module.
func RequireModule(g Gatekeeper, src ModuleSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			module, err := src(r)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			if err := g.CheckModuleAccess(r.Context(), auth.IdentityFromContext(r.Context()), module); err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type permissionGate struct {
	allowSystemAdmin bool
}

// PermissionOption tunes RequirePermission.
type PermissionOption func(*permissionGate)

// AllowSystemAdmin lets system admins through without holding the permission.
func AllowSystemAdmin() PermissionOption {
	return func(p *permissionGate) { p.allowSystemAdmin = true }
}

// RequirePermission rejects requests whose identity lacks perm in scope.
func RequirePermission(g Gatekeeper, scope auth.Scope, perm string, opts ...PermissionOption) func(http.Handler) http.Handler {
	var cfg permissionGate
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if cfg.allowSystemAdmin && identity != nil && identity.Active && identity.SystemAdmin {
				next.ServeHTTP(w, r)
				return
			}
			if err := g.CheckPermission(r.Context(), identity, scope, perm); err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
