package auth

import "time"

// Identity is a user account. Secret material never leaves the auth package boundary.
type Identity struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string `json:"-"`
	MFAEnabled   bool
	MFASecret    string `json:"-"`
	Active       bool
	SystemAdmin  bool
	LastLoginAt  *time.Time
	LastLoginIP  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdentitySummary is the public view of an identity.
type IdentitySummary struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username,omitempty"`
	MFAEnabled  bool       `json:"mfa_enabled"`
	Active      bool       `json:"active"`
	SystemAdmin bool       `json:"system_admin"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `json:"last_login_ip,omitempty"`
}

// Summary strips secret material from the identity.
func (i *Identity) Summary() IdentitySummary {
	if i == nil {
		return IdentitySummary{}
	}
	return IdentitySummary{
		ID:          i.ID,
		Email:       i.Email,
		Username:    i.Username,
		MFAEnabled:  i.MFAEnabled,
		Active:      i.Active,
		SystemAdmin: i.SystemAdmin,
		LastLoginAt: i.LastLoginAt,
		LastLoginIP: i.LastLoginIP,
	}
}

// ModuleGrant gives an identity access to one business module.
// Revocation flips Active; rows are kept for audit.
type ModuleGrant struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Module    ModuleCode `json:"module"`
	Active    bool       `json:"active"`
	GrantedAt time.Time  `json:"granted_at"`
	GrantedBy string     `json:"granted_by,omitempty"`
}

// Role groups permissions within a single scope.
type Role struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Scope Scope  `json:"scope"`
}

// Permission is a fine-grained capability qualified by scope.
type Permission struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Scope Scope  `json:"scope"`
}

// AccessToken is the persisted half of a bearer token.
type AccessToken struct {
	ID         string
	UserID     string
	TokenHash  string
	Abilities  []ModuleCode
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// IssuedToken is returned once at creation; the plaintext is not stored.
type IssuedToken struct {
	Token     string       `json:"token"`
	TokenID   string       `json:"token_id"`
	Abilities []ModuleCode `json:"abilities"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Capabilities is the effective capability set of an identity.
type Capabilities struct {
	Modules            []ModuleCode       `json:"modules"`
	RolesByScope       map[Scope][]string `json:"roles"`
	PermissionsByScope map[Scope][]string `json:"permissions"`
}

// PermissionsIn returns the permission names held in scope.
func (c Capabilities) PermissionsIn(scope Scope) []string {
	return c.PermissionsByScope[scope]
}

// HasPermission reports whether the capability set holds perm in scope.
func (c Capabilities) HasPermission(scope Scope, perm string) bool {
	for _, p := range c.PermissionsByScope[scope] {
		if p == perm {
			return true
		}
	}
	return false
}

// HasModule reports whether module is among the resolved module codes.
func (c Capabilities) HasModule(module ModuleCode) bool {
	for _, m := range c.Modules {
		if m == module {
			return true
		}
	}
	return false
}
