package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	Grants(ctx context.Context) GrantStore
	Roles(ctx context.Context) RoleStore
	Tokens(ctx context.Context) TokenStore
}

// IdentityStore manages user accounts.
type IdentityStore interface {
	Find(ctx context.Context, id string) (*Identity, error)
	// FindByLogin matches identifier against email or username.
	FindByLogin(ctx context.Context, identifier string) (*Identity, error)
	RecordLogin(ctx context.Context, id string, at time.Time, origin string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// GrantStore manages module grants.
type GrantStore interface {
	// Upsert creates or reactivates the grant keyed by (UserID, Module) in one atomic write.
	Upsert(ctx context.Context, grant ModuleGrant) (ModuleGrant, error)
	// Deactivate reports whether a grant row existed and was updated.
	Deactivate(ctx context.Context, userID string, module ModuleCode) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]ModuleGrant, error)
	ActiveModules(ctx context.Context, userID string) ([]ModuleCode, error)
	HasActive(ctx context.Context, userID string, module ModuleCode) (bool, error)
}

// RoleStore manages role bindings and reads the permissions roles imply.
type RoleStore interface {
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	// BindByName assigns the role (name, scope) to userID. Binding twice is a no-op.
	// It returns ErrNotFound when the role or the identity does not exist.
	BindByName(ctx context.Context, userID, name string, scope Scope) (Role, error)
}

// TokenStore manages persisted access tokens.
type TokenStore interface {
	Create(ctx context.Context, tok *AccessToken) error
	Find(ctx context.Context, id string) (*AccessToken, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// Rotate deletes oldID and inserts next atomically. It returns ErrNotFound when oldID is gone.
	Rotate(ctx context.Context, oldID string, next *AccessToken) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// CapabilityCache stores resolved role and permission sets per identity.
type CapabilityCache interface {
	Get(ctx context.Context, userID string) (Capabilities, bool, error)
	Set(ctx context.Context, userID string, caps Capabilities) error
	Invalidate(ctx context.Context, userID string) error
}
