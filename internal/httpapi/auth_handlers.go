package httpapi

import (
	"net/http"
	"time"

	"covera.io/internal/auth"
)

type loginRequest struct {
	Login    string `json:"login" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type tokenResponse struct {
	Token     string            `json:"token"`
	TokenType string            `json:"token_type"`
	TokenID   string            `json:"token_id"`
	ExpiresAt time.Time         `json:"expires_at"`
	Abilities []auth.ModuleCode `json:"abilities"`
}

type loginResponse struct {
	tokenResponse
	User         auth.IdentitySummary `json:"user"`
	Capabilities auth.Capabilities    `json:"capabilities"`
}

type meResponse struct {
	auth.AuthContext
	TokenAbilities []auth.ModuleCode `json:"token_abilities"`
}

type moduleView struct {
	Code  auth.ModuleCode `json:"code"`
	Label string          `json:"label"`
	Scope auth.Scope      `json:"scope"`
}

type capabilitiesResponse struct {
	Module      moduleView `json:"module"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"permissions"`
}

func newTokenResponse(t auth.IssuedToken) tokenResponse {
	return tokenResponse{
		Token:     t.Token,
		TokenType: "Bearer",
		TokenID:   t.TokenID,
		ExpiresAt: t.ExpiresAt,
		Abilities: t.Abilities,
	}
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if !a.bind(w, r, &req) {
		return
	}
	res, err := a.auth.Login(r.Context(), req.Login, req.Password, clientIP(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		tokenResponse: newTokenResponse(res.Token),
		User:          res.Identity,
		Capabilities:  res.Capabilities,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	n, err := a.auth.Logout(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}
	ac, err := a.auth.Context(r.Context(), principal.Identity)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{AuthContext: ac, TokenAbilities: principal.Abilities})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	raw, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}
	tok, err := a.auth.Refresh(r.Context(), raw)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(tok))
}

// modules lists the catalog entries the caller may enter, read from live grants.
func (a *API) modules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}
	codes, err := a.auth.Aggregator().Modules(r.Context(), identity)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	views := make([]moduleView, 0, len(codes))
	for _, c := range codes {
		views = append(views, newModuleView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": views})
}

func (a *API) capabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	module, err := auth.ParseModuleCode(r.PathValue("module"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	caps, err := a.auth.Aggregator().Resolve(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	scope := module.Scope()
	writeJSON(w, http.StatusOK, capabilitiesResponse{
		Module:      newModuleView(module),
		Roles:       nonNil(caps.RolesByScope[scope]),
		Permissions: nonNil(caps.PermissionsIn(scope)),
	})
}

func newModuleView(m auth.ModuleCode) moduleView {
	return moduleView{Code: m, Label: m.Label(), Scope: m.Scope()}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
