package auth

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"covera.io/internal/obs"
)

// Aggregator computes the effective capability set of an identity. It never mutates state.
type Aggregator struct {
	store Store
	cache CapabilityCache
	log   *zap.Logger
}

// NewAggregator builds an aggregator. cache may be nil.
func NewAggregator(store Store, cache CapabilityCache) *Aggregator {
	return &Aggregator{store: store, cache: cache, log: obs.Logger()}
}

// Resolve returns module codes, roles by scope and permissions by scope for identity.
// Module codes are always read from the grant store; only role data is cached.
func (a *Aggregator) Resolve(ctx context.Context, identity *Identity) (Capabilities, error) {
	if identity == nil {
		return Capabilities{}, ErrUnauthenticated
	}
	modules, err := a.Modules(ctx, identity)
	if err != nil {
		return Capabilities{}, err
	}
	caps, err := a.roleCapabilities(ctx, identity.ID)
	if err != nil {
		return Capabilities{}, err
	}
	caps.Modules = modules
	return caps, nil
}

// Modules returns the module codes identity may enter.
func (a *Aggregator) Modules(ctx context.Context, identity *Identity) ([]ModuleCode, error) {
	if identity.SystemAdmin {
		return AllModules(), nil
	}
	codes, err := a.store.Grants(ctx).ActiveModules(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	return normalizeModules(codes), nil
}

// PermissionsIn returns the deduplicated permission names identity holds in scope.
func (a *Aggregator) PermissionsIn(ctx context.Context, identity *Identity, scope Scope) ([]string, error) {
	if identity == nil {
		return nil, ErrUnauthenticated
	}
	caps, err := a.roleCapabilities(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	return caps.PermissionsIn(scope), nil
}

// Invalidate drops any cached capability data for userID.
func (a *Aggregator) Invalidate(ctx context.Context, userID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx, userID); err != nil {
		a.log.Warn("capability cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (a *Aggregator) roleCapabilities(ctx context.Context, userID string) (Capabilities, error) {
	if a.cache != nil {
		caps, ok, err := a.cache.Get(ctx, userID)
		switch {
		case err != nil:
			a.log.Warn("capability cache read failed", zap.String("user_id", userID), zap.Error(err))
		case ok:
			return caps, nil
		}
	}

	caps, err := a.loadRoleCapabilities(ctx, userID)
	if err != nil {
		return Capabilities{}, err
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, userID, caps); err != nil {
			a.log.Warn("capability cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return caps, nil
}

func (a *Aggregator) loadRoleCapabilities(ctx context.Context, userID string) (Capabilities, error) {
	roleStore := a.store.Roles(ctx)
	roles, err := roleStore.RolesForUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Capabilities{}, err
	}

	roleSets := make(map[Scope]map[string]struct{})
	permSets := make(map[Scope]map[string]struct{})
	for _, role := range roles {
		addToSet(roleSets, role.Scope, role.Name)
		perms, err := roleStore.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return Capabilities{}, err
		}
		for _, p := range perms {
			// A role bound in one scope never contributes permissions to another.
			if p.Scope != role.Scope {
				continue
			}
			addToSet(permSets, role.Scope, p.Name)
		}
	}
	return Capabilities{
		RolesByScope:       flattenSets(roleSets),
		PermissionsByScope: flattenSets(permSets),
	}, nil
}

func addToSet(sets map[Scope]map[string]struct{}, scope Scope, name string) {
	if name == "" {
		return
	}
	set, ok := sets[scope]
	if !ok {
		set = make(map[string]struct{})
		sets[scope] = set
	}
	set[name] = struct{}{}
}

func flattenSets(sets map[Scope]map[string]struct{}) map[Scope][]string {
	out := make(map[Scope][]string, len(sets))
	for scope, set := range sets {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		out[scope] = names
	}
	return out
}

func normalizeModules(codes []ModuleCode) []ModuleCode {
	seen := make(map[ModuleCode]struct{}, len(codes))
	for _, c := range codes {
		if c.Valid() {
			seen[c] = struct{}{}
		}
	}
	out := make([]ModuleCode, 0, len(seen))
	for _, m := range allModules {
		if _, ok := seen[m]; ok {
			out = append(out, m)
		}
	}
	return out
}
