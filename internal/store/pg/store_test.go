package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"covera.io/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestGrantUpsertUsesConflictClause(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("on conflict (user_id, module_code) do update")).
		WithArgs("g-new", "u1", "medical", at, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "module_code", "active", "granted_at", "granted_by"}).
			AddRow("g-old", "u1", "medical", true, at, "admin-1"))

	grant, err := store.Grants(ctx).Upsert(ctx, auth.ModuleGrant{
		ID: "g-new", UserID: "u1", Module: auth.ModuleMedical, GrantedAt: at, GrantedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if grant.ID != "g-old" || !grant.Active || grant.GrantedBy != "admin-1" || grant.Module != auth.ModuleMedical {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGrantUpsertMissingIdentity(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery("insert into module_grants").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "module_grants_user_id_fkey"})

	_, err := store.Grants(ctx).Upsert(ctx, auth.ModuleGrant{ID: "g", UserID: "ghost", Module: auth.ModuleLife})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeactivateReportsRowPresence(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectExec("update module_grants set active = false").
		WithArgs("u1", "motor").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update module_grants set active = false").
		WithArgs("u1", "travel").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Grants(ctx).Deactivate(ctx, "u1", auth.ModuleMotor)
	if err != nil || !ok {
		t.Fatalf("expected updated row, got %v, %v", ok, err)
	}
	ok, err = store.Grants(ctx).Deactivate(ctx, "u1", auth.ModuleTravel)
	if err != nil || ok {
		t.Fatalf("expected no row, got %v, %v", ok, err)
	}
}

func TestRotateFailsWhenOldTokenGone(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("delete from access_tokens where id = $1")).
		WithArgs("old").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Tokens(ctx).Rotate(ctx, "old", &auth.AccessToken{ID: "new", UserID: "u1"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRotateSwapsRowsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("delete from access_tokens where id = $1")).
		WithArgs("old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into access_tokens").
		WithArgs("new", "u1", "hash", []byte(`["motor"]`), now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Tokens(ctx).Rotate(ctx, "old", &auth.AccessToken{
		ID: "new", UserID: "u1", TokenHash: "hash",
		Abilities: []auth.ModuleCode{auth.ModuleMotor},
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindTokenDecodesAbilities(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectQuery("from access_tokens where id").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "abilities", "created_at", "expires_at", "last_used_at"}).
			AddRow("t1", "u1", "h", []byte(`["life","travel"]`), now, now.Add(time.Hour), nil))

	tok, err := store.Tokens(ctx).Find(ctx, "t1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(tok.Abilities) != 2 || tok.Abilities[1] != auth.ModuleTravel {
		t.Fatalf("unexpected abilities %v", tok.Abilities)
	}
	if tok.LastUsedAt != nil {
		t.Fatalf("expected nil last_used_at")
	}

	mock.ExpectQuery("from access_tokens where id").WithArgs("t2").WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "token_hash", "abilities", "created_at", "expires_at", "last_used_at"}))
	if _, err := store.Tokens(ctx).Find(ctx, "t2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByLoginNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery("from identities").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.Identities(ctx).FindByLogin(ctx, " nobody@example.com "); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindIdentityScansNullableColumns(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	created := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	login := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("from identities where id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "username", "password_hash", "mfa_enabled", "mfa_secret",
			"active", "system_admin", "last_login_at", "last_login_ip", "created_at", "updated_at",
		}).AddRow("u1", "a@example.com", "", "hash", false, "", true, false, login, "10.0.0.1", created, created))

	identity, err := store.Identities(ctx).Find(ctx, "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if identity.LastLoginAt == nil || !identity.LastLoginAt.Equal(login) || identity.LastLoginIP != "10.0.0.1" {
		t.Fatalf("unexpected login fields %+v", identity)
	}
}

func TestSetActiveMissingIdentity(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectExec("update identities set active").
		WithArgs("ghost", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Identities(ctx).SetActive(ctx, "ghost", false); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRolesScopeScan(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery("from identity_roles").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "scope"}).
			AddRow("r1", "Reviewer", "medical").
			AddRow("r2", "Administrator", "web"))

	roles, err := store.Roles(ctx).RolesForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("RolesForUser: %v", err)
	}
	if len(roles) != 2 || roles[0].Scope != auth.Scope("medical") || roles[1].Scope != auth.ScopeWeb {
		t.Fatalf("unexpected roles %+v", roles)
	}
}

func TestBindByNameLooksUpRoleThenInserts(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery("select id from roles").
		WithArgs("Reviewer", "medical").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectExec("insert into identity_roles").
		WithArgs("u1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	role, err := store.Roles(ctx).BindByName(ctx, "u1", "Reviewer", auth.Scope("medical"))
	if err != nil {
		t.Fatalf("BindByName: %v", err)
	}
	if role.ID != "r1" || role.Scope != auth.Scope("medical") {
		t.Fatalf("unexpected role %+v", role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBindByNameMissingRoleOrIdentity(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery("select id from roles").
		WithArgs("Ghost", "web").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.Roles(ctx).BindByName(ctx, "u1", "Ghost", auth.ScopeWeb); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing role, got %v", err)
	}

	mock.ExpectQuery("select id from roles").
		WithArgs("Reviewer", "web").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))
	mock.ExpectExec("insert into identity_roles").
		WithArgs("ghost", "r1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "identity_roles_user_id_fkey"})
	if _, err := store.Roles(ctx).BindByName(ctx, "ghost", "Reviewer", auth.ScopeWeb); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing identity, got %v", err)
	}
}

func TestMapWriteError(t *testing.T) {
	if err := mapWriteError(&pgconn.PgError{Code: pgErrUniqueViolation}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	plain := errors.New("boom")
	if err := mapWriteError(plain); err != plain {
		t.Fatalf("expected passthrough, got %v", err)
	}
}
