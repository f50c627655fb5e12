package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account is deactivated")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrModuleAccessDenied = errors.New("module access denied")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidModuleCode  = errors.New("invalid module code")
	ErrNotFound           = errors.New("not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("resource conflict")
)

// Stable failure kinds exposed to API clients.
const (
	KindInvalidCredentials = "invalid_credentials"
	KindAccountDeactivated = "account_deactivated"
	KindUnauthenticated    = "unauthenticated"
	KindModuleAccessDenied = "module_access_denied"
	KindPermissionDenied   = "permission_denied"
	KindInvalidModuleCode  = "invalid_module_code"
	KindNotFound           = "not_found"
	KindInvalidToken       = "invalid_token"
	KindInvalidInput       = "invalid_input"
	KindConflict           = "conflict"
	KindInternal           = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrAccountDeactivated, KindAccountDeactivated},
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrModuleAccessDenied, KindModuleAccessDenied},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrInvalidModuleCode, KindInvalidModuleCode},
	{ErrNotFound, KindNotFound},
	{ErrInvalidToken, KindInvalidToken},
	{ErrInvalidInput, KindInvalidInput},
	{ErrConflict, KindConflict},
}

// Kind maps err to its stable kind. Errors outside the taxonomy are KindInternal.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// DeniedError is returned by the gates. It names what was required, never what the caller holds.
type DeniedError struct {
	Err        error
	Module     ModuleCode
	Scope      Scope
	Permission string
}

func (e *DeniedError) Error() string {
	switch {
	case e.Permission != "":
		return fmt.Sprintf("%s: %q in scope %q is required", e.Err, e.Permission, e.Scope)
	case e.Module != "":
		return fmt.Sprintf("%s: access to module %q is required", e.Err, e.Module)
	default:
		return e.Err.Error()
	}
}

func (e *DeniedError) Unwrap() error { return e.Err }

func moduleDenied(module ModuleCode) error {
	return &DeniedError{Err: ErrModuleAccessDenied, Module: module}
}

func permissionDenied(scope Scope, perm string) error {
	return &DeniedError{Err: ErrPermissionDenied, Scope: scope, Permission: perm}
}
