package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"covera.io/internal/audit"
	"covera.io/internal/auth"
	"covera.io/internal/obs"
	"covera.io/internal/store/memory"
)

const testSecret = "test-signing-secret"

type fixture struct {
	store *memory.Store
	svc   *auth.Service
	now   time.Time
	admin auth.Identity
	user  auth.Identity
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	opts = append([]auth.ServiceOption{
		auth.WithTokenSecret(testSecret),
		auth.WithClock(func() time.Time { return f.now }),
	}, opts...)
	svc, err := auth.NewService(f.store, opts...)
	require.NoError(t, err)
	f.svc = svc
	f.admin = f.addIdentity(t, "root@example.com", "root", "admin-pass", true, true)
	f.user = f.addIdentity(t, "ana@example.com", "ana", "user-pass", true, false)
	return f
}

func (f *fixture) addIdentity(t *testing.T, email, username, password string, active, admin bool) auth.Identity {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	identity, err := f.store.AddIdentity(auth.Identity{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Active:       active,
		SystemAdmin:  admin,
	})
	require.NoError(t, err)
	return identity
}

func (f *fixture) identity(t *testing.T, id string) *auth.Identity {
	t.Helper()
	identity, err := f.store.Identities(context.Background()).Find(context.Background(), id)
	require.NoError(t, err)
	return identity
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := auth.NewService(memory.New())
	require.Error(t, err)
	_, err = auth.NewService(nil, auth.WithTokenSecret("x"))
	require.Error(t, err)
	_, err = auth.NewService(memory.New(), auth.WithTokenSecret("   "))
	require.Error(t, err)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, wrongSecret := f.svc.Login(ctx, "ana@example.com", "nope", "10.0.0.1")
	_, unknown := f.svc.Login(ctx, "ghost@example.com", "nope", "10.0.0.1")

	require.ErrorIs(t, wrongSecret, auth.ErrInvalidCredentials)
	require.ErrorIs(t, unknown, auth.ErrInvalidCredentials)
	assert.Equal(t, wrongSecret.Error(), unknown.Error())
	assert.Equal(t, auth.KindInvalidCredentials, auth.Kind(unknown))

	_, empty := f.svc.Login(ctx, "", "", "")
	assert.ErrorIs(t, empty, auth.ErrInvalidCredentials)
}

func TestLoginDeactivatedOnlyAfterSecretMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addIdentity(t, "gone@example.com", "", "old-pass", false, false)

	_, err := f.svc.Login(ctx, "gone@example.com", "wrong", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "gone@example.com", "old-pass", "")
	assert.ErrorIs(t, err, auth.ErrAccountDeactivated)
	assert.Equal(t, auth.KindAccountDeactivated, auth.Kind(err))
}

func TestLoginIssuesTokenAndRecordsLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMotor, f.admin.ID)
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "ana", "user-pass", "192.0.2.10")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token.Token)
	assert.Equal(t, []auth.ModuleCode{auth.ModuleMotor}, res.Token.Abilities)
	assert.Equal(t, []auth.ModuleCode{auth.ModuleMotor}, res.Capabilities.Modules)
	assert.Equal(t, f.now.Add(12*time.Hour), res.Token.ExpiresAt)
	assert.Equal(t, f.user.ID, res.Identity.ID)

	stored := f.identity(t, f.user.ID)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, stored.LastLoginAt.Equal(f.now))
	assert.Equal(t, "192.0.2.10", stored.LastLoginIP)

	principal, err := f.svc.Authenticate(ctx, res.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, principal.Identity.ID)
	assert.True(t, principal.HasAbility(auth.ModuleMotor))
}

func TestAuthenticateRejectsForgedAndExpiredTokens(t *testing.T) {
	f := newFixture(t, auth.WithTokenTTL(time.Hour))
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "ana", "user-pass", "")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, res.Token.Token+"x")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = f.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	other, err := auth.NewService(f.store, auth.WithTokenSecret("another-secret"))
	require.NoError(t, err)
	_, err = other.Authenticate(ctx, res.Token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.svc.Authenticate(ctx, res.Token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSystemAdminResolvesAllModules(t *testing.T) {
	f := newFixture(t)
	caps, err := f.svc.Aggregator().Resolve(context.Background(), &f.admin)
	require.NoError(t, err)
	assert.Equal(t, auth.AllModules(), caps.Modules)
}

func TestResolveReturnsExactlyActiveGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, m := range []auth.ModuleCode{auth.ModuleTravel, auth.ModuleMedical, auth.ModuleLife} {
		_, err := f.svc.GrantModule(ctx, f.user.ID, m, f.admin.ID)
		require.NoError(t, err)
	}
	_, err := f.svc.RevokeModule(ctx, f.user.ID, auth.ModuleLife)
	require.NoError(t, err)

	caps, err := f.svc.Aggregator().Resolve(ctx, &f.user)
	require.NoError(t, err)
	assert.ElementsMatch(t, []auth.ModuleCode{auth.ModuleMedical, auth.ModuleTravel}, caps.Modules)
}

func TestResolveGroupsRolesAndPermissionsByScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	medical := auth.ModuleMedical.Scope()

	reviewer := f.store.AddRole(auth.Role{Name: "Reviewer", Scope: medical})
	underwriter := f.store.AddRole(auth.Role{Name: "Underwriter", Scope: medical})
	webAdmin := f.store.AddRole(auth.Role{Name: "Admin", Scope: auth.ScopeWeb})
	viewPlans := f.store.AddPermission(auth.Permission{Name: auth.PermViewPlans, Scope: medical})
	webView := f.store.AddPermission(auth.Permission{Name: auth.PermViewPlans, Scope: auth.ScopeWeb})
	manageUsers := f.store.AddPermission(auth.Permission{Name: auth.PermManageUsers, Scope: auth.ScopeWeb})

	require.NoError(t, f.store.AttachPermission(reviewer.ID, viewPlans.ID))
	require.NoError(t, f.store.AttachPermission(underwriter.ID, viewPlans.ID))
	// Cross-scope attachment must not leak into the web scope.
	require.NoError(t, f.store.AttachPermission(reviewer.ID, webView.ID))
	require.NoError(t, f.store.AttachPermission(webAdmin.ID, manageUsers.ID))
	for _, r := range []auth.Role{reviewer, underwriter, webAdmin} {
		require.NoError(t, f.store.BindRole(f.user.ID, r.ID))
	}

	caps, err := f.svc.Aggregator().Resolve(ctx, &f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"Reviewer", "Underwriter"}, caps.RolesByScope[medical])
	assert.Equal(t, []string{"Admin"}, caps.RolesByScope[auth.ScopeWeb])
	assert.Equal(t, []string{auth.PermViewPlans}, caps.PermissionsByScope[medical])
	assert.Equal(t, []string{auth.PermManageUsers}, caps.PermissionsByScope[auth.ScopeWeb])
}

func TestGrantIsIdempotentAndReactivatesSameRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.addIdentity(t, "ops@example.com", "ops", "ops-pass", true, true)

	first, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMedical, f.admin.ID)
	require.NoError(t, err)
	second, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMedical, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	grants, err := f.svc.ListModuleGrants(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, grants[0].Active)

	ok, err := f.svc.RevokeModule(ctx, f.user.ID, auth.ModuleMedical)
	require.NoError(t, err)
	assert.True(t, ok)

	f.now = f.now.Add(time.Hour)
	again, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMedical, other.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.Active)
	assert.Equal(t, other.ID, again.GrantedBy)
	assert.True(t, again.GrantedAt.Equal(f.now))

	grants, err = f.svc.ListModuleGrants(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestGrantAndRevokeValidateInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleCode("pets"), f.admin.ID)
	assert.ErrorIs(t, err, auth.ErrInvalidModuleCode)

	_, err = f.svc.GrantModule(ctx, "missing", auth.ModuleLife, f.admin.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = f.svc.RevokeModule(ctx, "missing", auth.ModuleLife)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	ok, err := f.svc.RevokeModule(ctx, f.user.ID, auth.ModuleLife)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenAbilitiesAreASnapshotUntilRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "ana", "user-pass", "")
	require.NoError(t, err)
	assert.Empty(t, res.Token.Abilities)

	_, err = f.svc.GrantModule(ctx, f.user.ID, auth.ModuleLife, f.admin.ID)
	require.NoError(t, err)

	principal, err := f.svc.Authenticate(ctx, res.Token.Token)
	require.NoError(t, err)
	assert.False(t, principal.HasAbility(auth.ModuleLife))

	f.now = f.now.Add(time.Minute)
	next, err := f.svc.Refresh(ctx, res.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, []auth.ModuleCode{auth.ModuleLife}, next.Abilities)
	assert.NotEqual(t, res.Token.TokenID, next.TokenID)

	_, err = f.svc.Authenticate(ctx, res.Token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, res.Token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	principal, err = f.svc.Authenticate(ctx, next.Token)
	require.NoError(t, err)
	assert.True(t, principal.HasAbility(auth.ModuleLife))
}

func TestRefreshDeactivatedIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "ana", "user-pass", "")
	require.NoError(t, err)

	require.NoError(t, f.store.Identities(ctx).SetActive(ctx, f.user.ID, false))
	_, err = f.svc.Refresh(ctx, res.Token.Token)
	assert.ErrorIs(t, err, auth.ErrAccountDeactivated)
}

func TestLogoutRevokesAllTokensAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Login(ctx, "ana", "user-pass", "")
	require.NoError(t, err)
	b, err := f.svc.Login(ctx, "ana@example.com", "user-pass", "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.TokenCount(f.user.ID))

	n, err := f.svc.Logout(ctx, &f.user)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	for _, tok := range []string{a.Token.Token, b.Token.Token} {
		_, err := f.svc.Authenticate(ctx, tok)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	}

	n, err = f.svc.Logout(ctx, &f.user)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.Logout(ctx, nil)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestModuleGateStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.CheckModuleAccess(ctx, nil, auth.ModuleMedical)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	inactive := f.addIdentity(t, "off@example.com", "", "pw", false, true)
	err = f.svc.CheckModuleAccess(ctx, &inactive, auth.ModuleMedical)
	require.ErrorIs(t, err, auth.ErrAccountDeactivated)
	assert.NotContains(t, err.Error(), "medical")

	assert.NoError(t, f.svc.CheckModuleAccess(ctx, &f.admin, auth.ModuleMedical))

	err = f.svc.CheckModuleAccess(ctx, &f.user, auth.ModuleMedical)
	require.ErrorIs(t, err, auth.ErrModuleAccessDenied)
	var denied *auth.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, auth.ModuleMedical, denied.Module)
	assert.Contains(t, err.Error(), "medical")

	_, err = f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMedical, f.admin.ID)
	require.NoError(t, err)
	assert.NoError(t, f.svc.CheckModuleAccess(ctx, &f.user, auth.ModuleMedical))

	err = f.svc.CheckModuleAccess(ctx, &f.user, auth.ModuleCode("dental"))
	assert.ErrorIs(t, err, auth.ErrInvalidModuleCode)
}

func TestPermissionGateIsScopeQualified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	medical := auth.ModuleMedical.Scope()

	role := f.store.AddRole(auth.Role{Name: "Reviewer", Scope: medical})
	perm := f.store.AddPermission(auth.Permission{Name: auth.PermViewPlans, Scope: medical})
	require.NoError(t, f.store.AttachPermission(role.ID, perm.ID))
	require.NoError(t, f.store.BindRole(f.user.ID, role.ID))

	assert.NoError(t, f.svc.CheckPermission(ctx, &f.user, medical, auth.PermViewPlans))

	err := f.svc.CheckPermission(ctx, &f.user, auth.ScopeWeb, auth.PermViewPlans)
	require.ErrorIs(t, err, auth.ErrPermissionDenied)
	var denied *auth.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, auth.PermViewPlans, denied.Permission)
	assert.Equal(t, auth.ScopeWeb, denied.Scope)

	assert.ErrorIs(t, f.svc.CheckPermission(ctx, nil, auth.ScopeWeb, auth.PermViewPlans), auth.ErrUnauthenticated)
}

func TestPermissionGateHasNoAdminBypass(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CheckPermission(context.Background(), &f.admin, auth.ScopeWeb, auth.PermManageUsers)
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)
}

func TestContextIncludesGrantsAndCapabilities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleTravel, f.admin.ID)
	require.NoError(t, err)
	_, err = f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMotor, f.admin.ID)
	require.NoError(t, err)
	_, err = f.svc.RevokeModule(ctx, f.user.ID, auth.ModuleMotor)
	require.NoError(t, err)

	out, err := f.svc.Context(ctx, &f.user)
	require.NoError(t, err)
	assert.Equal(t, f.user.Email, out.Identity.Email)
	assert.Len(t, out.Grants, 2)
	assert.Equal(t, []auth.ModuleCode{auth.ModuleTravel}, out.Capabilities.Modules)

	_, err = f.svc.Context(ctx, nil)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestDeactivationRevokesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "ana", "user-pass", "")
	require.NoError(t, err)

	summary, err := f.svc.SetIdentityActive(ctx, f.user.ID, false)
	require.NoError(t, err)
	assert.False(t, summary.Active)
	assert.Zero(t, f.store.TokenCount(f.user.ID))

	_, err = f.svc.Authenticate(ctx, res.Token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	summary, err = f.svc.SetIdentityActive(ctx, f.user.ID, true)
	require.NoError(t, err)
	assert.True(t, summary.Active)

	_, err = f.svc.SetIdentityActive(ctx, "missing", false)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCapabilityCacheInvalidatedOnGrant(t *testing.T) {
	cache := memory.NewCache(time.Minute)
	f := newFixture(t, auth.WithCapabilityCache(cache))
	ctx := context.Background()

	_, err := f.svc.Aggregator().Resolve(ctx, &f.user)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	_, err = f.svc.GrantModule(ctx, f.user.ID, auth.ModuleLife, f.admin.ID)
	require.NoError(t, err)
	assert.Zero(t, cache.Len())

	caps, err := f.svc.Aggregator().Resolve(ctx, &f.user)
	require.NoError(t, err)
	assert.Equal(t, []auth.ModuleCode{auth.ModuleLife}, caps.Modules)
}

func TestGrantAndRevokeAreAudited(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	f := newFixture(t)
	ctx := audit.WithRequestID(context.Background(), "req-7")
	_, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMotor, f.admin.ID)
	require.NoError(t, err)
	_, err = f.svc.RevokeModule(audit.WithActor(ctx, f.admin.ID), f.user.ID, auth.ModuleMotor)
	require.NoError(t, err)

	granted := logs.FilterField(zap.String("event", audit.EventModuleGranted)).All()
	require.Len(t, granted, 1)
	fields := granted[0].ContextMap()
	assert.Equal(t, f.admin.ID, fields["user_id"])
	assert.Equal(t, "req-7", fields["request_id"])

	revoked := logs.FilterField(zap.String("event", audit.EventModuleRevoked)).All()
	require.Len(t, revoked, 1)
	assert.Equal(t, f.admin.ID, revoked[0].ContextMap()["user_id"])
}

func TestBindRoleInvalidatesCachedPermissions(t *testing.T) {
	cache := memory.NewCache(5 * time.Minute)
	f := newFixture(t, auth.WithCapabilityCache(cache))
	ctx := context.Background()
	medical := auth.ModuleMedical.Scope()

	reviewer := f.store.AddRole(auth.Role{Name: "Reviewer", Scope: medical})
	viewPlans := f.store.AddPermission(auth.Permission{Name: auth.PermViewPlans, Scope: medical})
	require.NoError(t, f.store.AttachPermission(reviewer.ID, viewPlans.ID))

	err := f.svc.CheckPermission(ctx, &f.user, medical, auth.PermViewPlans)
	require.ErrorIs(t, err, auth.ErrPermissionDenied)
	require.Equal(t, 1, cache.Len())

	role, err := f.svc.BindRole(ctx, f.user.ID, "Reviewer", medical)
	require.NoError(t, err)
	assert.Equal(t, reviewer.ID, role.ID)

	assert.NoError(t, f.svc.CheckPermission(ctx, &f.user, medical, auth.PermViewPlans))

	_, err = f.svc.BindRole(ctx, f.user.ID, "Reviewer", medical)
	assert.NoError(t, err, "binding twice is a no-op")
}

func TestBindRoleValidatesAndAudits(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	f := newFixture(t)
	ctx := audit.WithActor(context.Background(), f.admin.ID)
	f.store.AddRole(auth.Role{Name: "Administrator", Scope: auth.ScopeWeb})

	_, err := f.svc.BindRole(ctx, f.user.ID, "Administrator", auth.ScopeWeb)
	require.NoError(t, err)

	_, err = f.svc.BindRole(ctx, f.user.ID, "Administrator", auth.ModuleLife.Scope())
	assert.ErrorIs(t, err, auth.ErrNotFound, "roles are looked up within their scope")
	_, err = f.svc.BindRole(ctx, "missing", "Administrator", auth.ScopeWeb)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = f.svc.BindRole(ctx, f.user.ID, " ", auth.ScopeWeb)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	bound := logs.FilterField(zap.String("event", audit.EventRoleBound)).All()
	require.Len(t, bound, 1)
	fields := bound[0].ContextMap()
	assert.Equal(t, f.admin.ID, fields["user_id"])
}

func TestConcurrentGrantsConvergeOnOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GrantModule(ctx, f.user.ID, auth.ModuleMedical, f.admin.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	grants, err := f.svc.ListModuleGrants(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, grants[0].Active)
	assert.Equal(t, auth.ModuleMedical, grants[0].Module)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "ana", "user-pass", "")
	require.NoError(t, err)
	const workers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []auth.IssuedToken
		losers  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := f.svc.Refresh(ctx, res.Token.Token)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losers = append(losers, err)
				return
			}
			winners = append(winners, tok)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, losers, workers-1)
	for _, err := range losers {
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	}

	_, err = f.svc.Authenticate(ctx, res.Token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = f.svc.Authenticate(ctx, winners[0].Token)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.store.TokenCount(f.user.ID))
}
