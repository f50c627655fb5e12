// Package memory is an in-process implementation of auth.Store for tests and local wiring.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"covera.io/internal/auth"
	"covera.io/internal/ids"
)

// Store keeps identities, grants, role bindings and tokens in maps guarded by one lock.
type Store struct {
	mu sync.RWMutex

	identities  map[string]auth.Identity
	grants      map[grantKey]auth.ModuleGrant
	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	rolePerms   map[string][]string
	userRoles   map[string][]string
	tokens      map[string]auth.AccessToken
}

type grantKey struct {
	userID string
	module auth.ModuleCode
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		identities:  make(map[string]auth.Identity),
		grants:      make(map[grantKey]auth.ModuleGrant),
		roles:       make(map[string]auth.Role),
		permissions: make(map[string]auth.Permission),
		rolePerms:   make(map[string][]string),
		userRoles:   make(map[string][]string),
		tokens:      make(map[string]auth.AccessToken),
	}
}

func (s *Store) Identities(context.Context) auth.IdentityStore { return identityStore{s} }
func (s *Store) Grants(context.Context) auth.GrantStore       { return grantStore{s} }
func (s *Store) Roles(context.Context) auth.RoleStore         { return roleStore{s} }
func (s *Store) Tokens(context.Context) auth.TokenStore       { return tokenStore{s} }

// AddIdentity inserts identity. An empty ID is filled in. Email and username must be unique.
func (s *Store) AddIdentity(identity auth.Identity) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	if _, ok := s.identities[identity.ID]; ok {
		return auth.Identity{}, fmt.Errorf("%w: identity %s exists", auth.ErrConflict, identity.ID)
	}
	for _, existing := range s.identities {
		if sameLogin(existing, identity.Email) || (identity.Username != "" && sameLogin(existing, identity.Username)) {
			return auth.Identity{}, fmt.Errorf("%w: login already taken", auth.ErrConflict)
		}
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	s.identities[identity.ID] = identity
	return identity, nil
}

// AddRole registers a role. An empty ID is filled in.
func (s *Store) AddRole(role auth.Role) auth.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	s.roles[role.ID] = role
	return role
}

// AddPermission registers a permission. An empty ID is filled in.
func (s *Store) AddPermission(perm auth.Permission) auth.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	s.permissions[perm.ID] = perm
	return perm
}

// AttachPermission lets roleID imply permID.
func (s *Store) AttachPermission(roleID, permID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	if _, ok := s.permissions[permID]; !ok {
		return fmt.Errorf("%w: permission %s", auth.ErrNotFound, permID)
	}
	s.rolePerms[roleID] = appendUnique(s.rolePerms[roleID], permID)
	return nil
}

// BindRole assigns roleID to userID.
func (s *Store) BindRole(userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[userID]; !ok {
		return fmt.Errorf("%w: identity %s", auth.ErrNotFound, userID)
	}
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	s.userRoles[userID] = appendUnique(s.userRoles[userID], roleID)
	return nil
}

// TokenCount returns the number of live tokens held by userID.
func (s *Store) TokenCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, tok := range s.tokens {
		if tok.UserID == userID {
			n++
		}
	}
	return n
}

type identityStore struct{ s *Store }

func (r identityStore) Find(_ context.Context, id string) (*auth.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	identity, ok := r.s.identities[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &identity, nil
}

func (r identityStore) FindByLogin(_ context.Context, identifier string) (*auth.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, identity := range r.s.identities {
		if sameLogin(identity, identifier) {
			out := identity
			return &out, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r identityStore) RecordLogin(_ context.Context, id string, at time.Time, origin string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	identity, ok := r.s.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	identity.LastLoginAt = &at
	identity.LastLoginIP = origin
	r.s.identities[id] = identity
	return nil
}

func (r identityStore) SetActive(_ context.Context, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	identity, ok := r.s.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	identity.Active = active
	identity.UpdatedAt = time.Now().UTC()
	r.s.identities[id] = identity
	return nil
}

type grantStore struct{ s *Store }

func (r grantStore) Upsert(_ context.Context, grant auth.ModuleGrant) (auth.ModuleGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := grantKey{grant.UserID, grant.Module}
	if existing, ok := r.s.grants[key]; ok {
		grant.ID = existing.ID
	}
	grant.Active = true
	r.s.grants[key] = grant
	return grant, nil
}

func (r grantStore) Deactivate(_ context.Context, userID string, module auth.ModuleCode) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := grantKey{userID, module}
	grant, ok := r.s.grants[key]
	if !ok {
		return false, nil
	}
	grant.Active = false
	r.s.grants[key] = grant
	return true, nil
}

func (r grantStore) ListByUser(_ context.Context, userID string) ([]auth.ModuleGrant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]auth.ModuleGrant, 0)
	for key, grant := range r.s.grants {
		if key.userID == userID {
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out, nil
}

func (r grantStore) ActiveModules(_ context.Context, userID string) ([]auth.ModuleCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]auth.ModuleCode, 0)
	for key, grant := range r.s.grants {
		if key.userID == userID && grant.Active {
			out = append(out, key.module)
		}
	}
	return out, nil
}

func (r grantStore) HasActive(_ context.Context, userID string, module auth.ModuleCode) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	grant, ok := r.s.grants[grantKey{userID, module}]
	return ok && grant.Active, nil
}

type roleStore struct{ s *Store }

func (r roleStore) RolesForUser(_ context.Context, userID string) ([]auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]auth.Role, 0, len(r.s.userRoles[userID]))
	for _, id := range r.s.userRoles[userID] {
		if role, ok := r.s.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

func (r roleStore) PermissionsForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(r.s.rolePerms[roleID]))
	for _, id := range r.s.rolePerms[roleID] {
		if perm, ok := r.s.permissions[id]; ok {
			out = append(out, perm)
		}
	}
	return out, nil
}

func (r roleStore) BindByName(_ context.Context, userID, name string, scope auth.Scope) (auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var (
		role  auth.Role
		found bool
	)
	for _, candidate := range r.s.roles {
		if candidate.Name == name && candidate.Scope == scope {
			role, found = candidate, true
			break
		}
	}
	if !found {
		return auth.Role{}, fmt.Errorf("%w: role %q in scope %q", auth.ErrNotFound, name, scope)
	}
	if _, ok := r.s.identities[userID]; !ok {
		return auth.Role{}, fmt.Errorf("%w: identity %s", auth.ErrNotFound, userID)
	}
	r.s.userRoles[userID] = appendUnique(r.s.userRoles[userID], role.ID)
	return role, nil
}

type tokenStore struct{ s *Store }

func (r tokenStore) Create(_ context.Context, tok *auth.AccessToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[tok.ID]; ok {
		return fmt.Errorf("%w: token %s", auth.ErrConflict, tok.ID)
	}
	r.s.tokens[tok.ID] = cloneToken(*tok)
	return nil
}

func (r tokenStore) Find(_ context.Context, id string) (*auth.AccessToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	tok, ok := r.s.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := cloneToken(tok)
	return &out, nil
}

func (r tokenStore) Touch(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tok, ok := r.s.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	tok.LastUsedAt = &at
	r.s.tokens[id] = tok
	return nil
}

func (r tokenStore) Rotate(_ context.Context, oldID string, next *auth.AccessToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[oldID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := r.s.tokens[next.ID]; ok {
		return fmt.Errorf("%w: token %s", auth.ErrConflict, next.ID)
	}
	delete(r.s.tokens, oldID)
	r.s.tokens[next.ID] = cloneToken(*next)
	return nil
}

func (r tokenStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, tok := range r.s.tokens {
		if tok.UserID == userID {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

func sameLogin(identity auth.Identity, identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false
	}
	return strings.EqualFold(identity.Email, identifier) ||
		(identity.Username != "" && strings.EqualFold(identity.Username, identifier))
}

func cloneToken(tok auth.AccessToken) auth.AccessToken {
	tok.Abilities = append([]auth.ModuleCode(nil), tok.Abilities...)
	return tok
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
