package auth

import (
	"context"
	"fmt"

	"covera.io/internal/obs"
)

// Principal is an authenticated caller: the identity plus the ability
// snapshot of the token it presented.
type Principal struct {
	Identity  *Identity
	TokenID   string
	Abilities []ModuleCode
}

// HasAbility reports whether the presented token was issued with module.
func (p Principal) HasAbility(module ModuleCode) bool {
	for _, m := range p.Abilities {
		if m == module {
			return true
		}
	}
	return false
}

// CheckModuleAccess decides whether identity may act within module.
// System admins pass before any grant lookup; they are not expected to hold grant rows.
func (s *Service) CheckModuleAccess(ctx context.Context, identity *Identity, module ModuleCode) error {
	err := s.checkModuleAccess(ctx, identity, module)
	obs.RecordDecision("module", Kind(err), err == nil)
	return err
}

func (s *Service) checkModuleAccess(ctx context.Context, identity *Identity, module ModuleCode) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if !identity.Active {
		return ErrAccountDeactivated
	}
	if !module.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidModuleCode, module)
	}
	if identity.SystemAdmin {
		return nil
	}
	ok, err := s.store.Grants(ctx).HasActive(ctx, identity.ID, module)
	if err != nil {
		return err
	}
	if !ok {
		return moduleDenied(module)
	}
	return nil
}

// CheckPermission decides whether identity holds perm within scope.
// There is no implicit system-admin bypass here; routes opt in explicitly.
func (s *Service) CheckPermission(ctx context.Context, identity *Identity, scope Scope, perm string) error {
	err := s.checkPermission(ctx, identity, scope, perm)
	obs.RecordDecision("permission", Kind(err), err == nil)
	return err
}

func (s *Service) checkPermission(ctx context.Context, identity *Identity, scope Scope, perm string) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	perms, err := s.agg.PermissionsIn(ctx, identity, scope)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if p == perm {
			return nil
		}
	}
	return permissionDenied(scope, perm)
}
