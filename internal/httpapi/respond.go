package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"covera.io/internal/auth"
	"covera.io/internal/obs"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeAuthError maps the auth taxonomy onto HTTP. Denials echo only what was required.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.Kind(err)
	code := statusForKind(kind)
	payload := map[string]any{"kind": kind}

	switch {
	case code == http.StatusInternalServerError:
		obs.Logger().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		payload["error"] = "internal error"
	case kind == auth.KindInvalidCredentials:
		payload["error"] = auth.ErrInvalidCredentials.Error()
	default:
		payload["error"] = err.Error()
	}

	var denied *auth.DeniedError
	if errors.As(err, &denied) {
		if denied.Module != "" {
			payload["required_module"] = denied.Module
		}
		if denied.Permission != "" {
			payload["required_permission"] = denied.Permission
			payload["scope"] = denied.Scope
		}
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="covera"`)
	}
	writeErrorPayload(w, r, code, payload)
}

func statusForKind(kind string) int {
	switch kind {
	case auth.KindInvalidCredentials, auth.KindUnauthenticated, auth.KindInvalidToken:
		return http.StatusUnauthorized
	case auth.KindAccountDeactivated, auth.KindModuleAccessDenied, auth.KindPermissionDenied:
		return http.StatusForbidden
	case auth.KindInvalidModuleCode:
		return http.StatusUnprocessableEntity
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindInvalidInput:
		return http.StatusBadRequest
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
