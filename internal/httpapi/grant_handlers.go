package httpapi

import (
	"net/http"

	"covera.io/internal/auth"
)

type grantRequest struct {
	Module string `json:"module" validate:"required,modulecode"`
}

type statusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// userModules serves GET (list) and POST (grant) on a user's module grants.
func (a *API) userModules(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		grants, err := a.auth.ListModuleGrants(r.Context(), userID)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		if grants == nil {
			grants = []auth.ModuleGrant{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "grants": grants})
	case http.MethodPost:
		var req grantRequest
		if !a.bind(w, r, &req) {
			return
		}
		module, err := auth.ParseModuleCode(req.Module)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		grantor, _ := auth.UserIDFromContext(r.Context())
		grant, err := a.auth.GrantModule(r.Context(), userID, module, grantor)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, grant)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) revokeModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	module, err := auth.ParseModuleCode(r.PathValue("module"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	updated, err := a.auth.RevokeModule(r.Context(), r.PathValue("id"), module)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (a *API) userStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	var req statusRequest
	if !a.bind(w, r, &req) {
		return
	}
	summary, err := a.auth.SetIdentityActive(r.Context(), r.PathValue("id"), *req.Active)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
