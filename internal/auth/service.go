package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"covera.io/internal/audit"
	"covera.io/internal/ids"
	"covera.io/internal/obs"
)

// Service is the authentication and authorization core.
type Service struct {
	store  Store
	cache  CapabilityCache
	now    func() time.Time
	agg    *Aggregator
	tokens *TokenIssuer

	tokenSecret []byte
	issuer      string
	tokenTTL    time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing secret for bearer tokens.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errors.New("auth: token secret is empty")
		}
		s.tokenSecret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithTokenTTL configures bearer token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
		return nil
	}
}

// WithCapabilityCache puts a cache in front of role and permission lookups.
func WithCapabilityCache(cache CapabilityCache) ServiceOption {
	return func(s *Service) error {
		s.cache = cache
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:    store,
		now:      time.Now,
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.tokenSecret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	svc.agg = NewAggregator(store, svc.cache)
	svc.tokens = newTokenIssuer(store, svc.agg, svc.tokenSecret, svc.issuer, svc.tokenTTL, svc.now)
	return svc, nil
}

// Aggregator exposes the capability aggregator.
func (s *Service) Aggregator() *Aggregator { return s.agg }

// Tokens exposes the token issuer.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// VerifyCredentials returns the identity matching identifier and secret.
// Unknown identifiers and wrong secrets are indistinguishable. Deactivation is
// reported only after the secret matched.
func (s *Service) VerifyCredentials(ctx context.Context, identifier, secret string) (*Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		burnPasswordCheck(secret)
		return nil, ErrInvalidCredentials
	}
	identity, err := s.store.Identities(ctx).FindByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(secret)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(identity.PasswordHash, secret); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !identity.Active {
		return nil, ErrAccountDeactivated
	}
	return identity, nil
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token        IssuedToken
	Identity     IdentitySummary
	Capabilities Capabilities
}

// Login verifies credentials, records the login and issues a token.
func (s *Service) Login(ctx context.Context, identifier, secret, origin string) (LoginResult, error) {
	res, err := s.login(ctx, identifier, secret, origin)
	obs.RecordLogin(Kind(err), err == nil)
	if err != nil {
		_ = audit.LogEvent(ctx, audit.EventLoginFailed, map[string]any{
			"identifier": strings.TrimSpace(identifier),
			"origin":     origin,
			"kind":       Kind(err),
		})
		return res, err
	}
	_ = audit.LogEvent(audit.WithActor(ctx, res.Identity.ID), audit.EventLoginSucceeded, map[string]any{
		"origin":    origin,
		"token_id":  res.Token.TokenID,
		"abilities": res.Token.Abilities,
	})
	return res, nil
}

func (s *Service) login(ctx context.Context, identifier, secret, origin string) (LoginResult, error) {
	identity, err := s.VerifyCredentials(ctx, identifier, secret)
	if err != nil {
		return LoginResult{}, err
	}
	at := s.now().UTC()
	if err := s.store.Identities(ctx).RecordLogin(ctx, identity.ID, at, origin); err != nil {
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}
	identity.LastLoginAt = &at
	identity.LastLoginIP = origin

	caps, err := s.agg.Resolve(ctx, identity)
	if err != nil {
		return LoginResult{}, err
	}
	token, err := s.tokens.Issue(ctx, identity)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Identity: identity.Summary(), Capabilities: caps}, nil
}

// Logout invalidates every token held by identity.
func (s *Service) Logout(ctx context.Context, identity *Identity) (int64, error) {
	if identity == nil {
		return 0, ErrUnauthenticated
	}
	n, err := s.tokens.RevokeAll(ctx, identity.ID)
	if err != nil {
		return 0, err
	}
	_ = audit.LogEvent(audit.WithActor(ctx, identity.ID), audit.EventLogout, map[string]any{"revoked": n})
	return n, nil
}

// Refresh rotates the presented token.
func (s *Service) Refresh(ctx context.Context, raw string) (IssuedToken, error) {
	tok, identity, err := s.tokens.Refresh(ctx, raw)
	if err != nil {
		return IssuedToken{}, err
	}
	_ = audit.LogEvent(audit.WithActor(ctx, identity.ID), audit.EventTokenRefreshed, map[string]any{
		"token_id":  tok.TokenID,
		"abilities": tok.Abilities,
	})
	return tok, nil
}

// Authenticate resolves a bearer token to its principal.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	return s.tokens.Authenticate(ctx, raw)
}

// AuthContext is the caller's view of its own session.
type AuthContext struct {
	Identity     IdentitySummary `json:"user"`
	Grants       []ModuleGrant   `json:"grants"`
	Capabilities Capabilities    `json:"capabilities"`
}

// Context returns the identity summary, grants and capabilities of identity.
func (s *Service) Context(ctx context.Context, identity *Identity) (AuthContext, error) {
	if identity == nil {
		return AuthContext{}, ErrUnauthenticated
	}
	caps, err := s.agg.Resolve(ctx, identity)
	if err != nil {
		return AuthContext{}, err
	}
	grants, err := s.store.Grants(ctx).ListByUser(ctx, identity.ID)
	if err != nil {
		return AuthContext{}, err
	}
	return AuthContext{Identity: identity.Summary(), Grants: grants, Capabilities: caps}, nil
}

// GrantModule creates or reactivates the grant of module to targetID.
// Authorization of the caller is the job of the gates wrapping the route.
func (s *Service) GrantModule(ctx context.Context, targetID string, module ModuleCode, grantorID string) (ModuleGrant, error) {
	if !module.Valid() {
		return ModuleGrant{}, fmt.Errorf("%w: %q", ErrInvalidModuleCode, module)
	}
	if err := s.requireIdentity(ctx, targetID); err != nil {
		return ModuleGrant{}, err
	}
	grant, err := s.store.Grants(ctx).Upsert(ctx, ModuleGrant{
		ID:        ids.New(),
		UserID:    strings.TrimSpace(targetID),
		Module:    module,
		Active:    true,
		GrantedAt: s.now().UTC(),
		GrantedBy: strings.TrimSpace(grantorID),
	})
	if err != nil {
		return ModuleGrant{}, err
	}
	s.agg.Invalidate(ctx, grant.UserID)
	_ = audit.LogEvent(audit.WithActor(ctx, grant.GrantedBy), audit.EventModuleGranted, map[string]any{
		"target_user_id": grant.UserID,
		"module":         string(module),
		"grant_id":       grant.ID,
	})
	return grant, nil
}

// RevokeModule deactivates the grant of module for targetID and reports whether one existed.
func (s *Service) RevokeModule(ctx context.Context, targetID string, module ModuleCode) (bool, error) {
	if !module.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidModuleCode, module)
	}
	if err := s.requireIdentity(ctx, targetID); err != nil {
		return false, err
	}
	targetID = strings.TrimSpace(targetID)
	ok, err := s.store.Grants(ctx).Deactivate(ctx, targetID, module)
	if err != nil {
		return false, err
	}
	s.agg.Invalidate(ctx, targetID)
	_ = audit.LogEvent(ctx, audit.EventModuleRevoked, map[string]any{
		"target_user_id": targetID,
		"module":         string(module),
		"updated":        ok,
	})
	return ok, nil
}

// ListModuleGrants returns all grant rows of targetID, active or not.
func (s *Service) ListModuleGrants(ctx context.Context, targetID string) ([]ModuleGrant, error) {
	if err := s.requireIdentity(ctx, targetID); err != nil {
		return nil, err
	}
	return s.store.Grants(ctx).ListByUser(ctx, strings.TrimSpace(targetID))
}

// BindRole assigns the role (name, scope) to targetID and drops its cached capabilities,
// so a permission gained through the role is visible on the next check.
func (s *Service) BindRole(ctx context.Context, targetID, roleName string, scope Scope) (Role, error) {
	targetID = strings.TrimSpace(targetID)
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return Role{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	if scope == "" {
		return Role{}, fmt.Errorf("%w: scope is required", ErrInvalidInput)
	}
	if err := s.requireIdentity(ctx, targetID); err != nil {
		return Role{}, err
	}
	role, err := s.store.Roles(ctx).BindByName(ctx, targetID, roleName, scope)
	if err != nil {
		return Role{}, err
	}
	s.agg.Invalidate(ctx, targetID)
	_ = audit.LogEvent(ctx, audit.EventRoleBound, map[string]any{
		"target_user_id": targetID,
		"role":           role.Name,
		"role_id":        role.ID,
		"scope":          string(role.Scope),
	})
	return role, nil
}

// SetIdentityActive soft-enables or disables an identity. Disabling revokes its tokens.
func (s *Service) SetIdentityActive(ctx context.Context, targetID string, active bool) (IdentitySummary, error) {
	targetID = strings.TrimSpace(targetID)
	if err := s.requireIdentity(ctx, targetID); err != nil {
		return IdentitySummary{}, err
	}
	identities := s.store.Identities(ctx)
	if err := identities.SetActive(ctx, targetID, active); err != nil {
		return IdentitySummary{}, err
	}
	if !active {
		if _, err := s.tokens.RevokeAll(ctx, targetID); err != nil {
			return IdentitySummary{}, err
		}
	}
	s.agg.Invalidate(ctx, targetID)
	_ = audit.LogEvent(ctx, audit.EventIdentityStatusSet, map[string]any{
		"target_user_id": targetID,
		"active":         active,
	})
	identity, err := identities.Find(ctx, targetID)
	if err != nil {
		return IdentitySummary{}, err
	}
	return identity.Summary(), nil
}

func (s *Service) requireIdentity(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if _, err := s.store.Identities(ctx).Find(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: identity %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}
