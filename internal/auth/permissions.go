package auth

import (
	"fmt"
	"strings"
)

// ModuleCode identifies a business module. The set is closed.
type ModuleCode string

const (
	ModuleMedical ModuleCode = "medical"
	ModuleLife    ModuleCode = "life"
	ModuleMotor   ModuleCode = "motor"
	ModuleTravel  ModuleCode = "travel"
	ModuleAdmin   ModuleCode = "admin"
)

var allModules = []ModuleCode{ModuleMedical, ModuleLife, ModuleMotor, ModuleTravel, ModuleAdmin}

var moduleLabels = map[ModuleCode]string{
	ModuleMedical: "Medical Insurance",
	ModuleLife:    "Life Insurance",
	ModuleMotor:   "Motor Insurance",
	ModuleTravel:  "Travel Insurance",
	ModuleAdmin:   "Administration",
}

// AllModules returns every module code in catalog order.
func AllModules() []ModuleCode {
	out := make([]ModuleCode, len(allModules))
	copy(out, allModules)
	return out
}

// ParseModuleCode validates raw against the closed module set.
func ParseModuleCode(raw string) (ModuleCode, error) {
	code := ModuleCode(strings.ToLower(strings.TrimSpace(raw)))
	if !code.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidModuleCode, raw)
	}
	return code, nil
}

// Valid reports whether m belongs to the module set.
func (m ModuleCode) Valid() bool {
	_, ok := moduleLabels[m]
	return ok
}

// Label returns the display name of the module.
func (m ModuleCode) Label() string {
	return moduleLabels[m]
}

// Scope returns the guard that holds roles and permissions for the module.
func (m ModuleCode) Scope() Scope {
	return Scope(m)
}

// Scope qualifies roles and permissions ("guard").
type Scope string

// ScopeWeb is the default scope used by the administrative surface.
const ScopeWeb Scope = "web"

// ParseScope normalizes a scope name. Unknown names are accepted as opaque guards.
func ParseScope(raw string) (Scope, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: scope is required", ErrInvalidInput)
	}
	return Scope(s), nil
}

// Built-in permissions checked by the administrative routes.
const (
	PermManageModuleAccess = "manage module access"
	PermManageUsers        = "manage users"
	PermViewPlans          = "view plans"
)

// BuiltinPermissions are seeded into the default scope.
var BuiltinPermissions = []Permission{
	{Name: PermManageModuleAccess, Scope: ScopeWeb},
	{Name: PermManageUsers, Scope: ScopeWeb},
}
