package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "covera"
	defaultTokenTTL = 12 * time.Hour
)

// tokenClaims are the signed claims of a bearer token. Abilities are
// informational; authorization reads the persisted row.
type tokenClaims struct {
	Abilities []ModuleCode `json:"abilities"`
	jwt.RegisteredClaims
}

// TokenIssuer mints, rotates and revokes bearer tokens. Abilities are a
// snapshot of the identity's modules at issuance and never track later grant changes.
type TokenIssuer struct {
	store  Store
	agg    *Aggregator
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(store Store, agg *Aggregator, secret []byte, issuer string, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if issuer == "" {
		issuer = defaultIssuer
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenIssuer{store: store, agg: agg, secret: secret, issuer: issuer, ttl: ttl, now: now}
}

// Issue creates a token whose abilities are the identity's current module codes.
func (t *TokenIssuer) Issue(ctx context.Context, identity *Identity) (IssuedToken, error) {
	if identity == nil {
		return IssuedToken{}, ErrUnauthenticated
	}
	modules, err := t.agg.Modules(ctx, identity)
	if err != nil {
		return IssuedToken{}, err
	}
	raw, rec, err := t.mint(identity.ID, modules)
	if err != nil {
		return IssuedToken{}, err
	}
	if err := t.store.Tokens(ctx).Create(ctx, rec); err != nil {
		return IssuedToken{}, fmt.Errorf("persist token: %w", err)
	}
	return issued(raw, rec), nil
}

// Refresh invalidates the presented token and issues a replacement with freshly
// derived abilities. Once it returns, the old token is rejected everywhere.
func (t *TokenIssuer) Refresh(ctx context.Context, raw string) (IssuedToken, *Identity, error) {
	rec, err := t.lookup(ctx, raw)
	if err != nil {
		return IssuedToken{}, nil, err
	}
	identity, err := t.store.Identities(ctx).Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IssuedToken{}, nil, ErrInvalidToken
		}
		return IssuedToken{}, nil, err
	}
	if !identity.Active {
		return IssuedToken{}, nil, ErrAccountDeactivated
	}
	modules, err := t.agg.Modules(ctx, identity)
	if err != nil {
		return IssuedToken{}, nil, err
	}
	nextRaw, next, err := t.mint(identity.ID, modules)
	if err != nil {
		return IssuedToken{}, nil, err
	}
	if err := t.store.Tokens(ctx).Rotate(ctx, rec.ID, next); err != nil {
		if errors.Is(err, ErrNotFound) {
			return IssuedToken{}, nil, ErrInvalidToken
		}
		return IssuedToken{}, nil, fmt.Errorf("rotate token: %w", err)
	}
	return issued(nextRaw, next), identity, nil
}

// RevokeAll deletes every outstanding token of userID. Zero tokens is not an error.
func (t *TokenIssuer) RevokeAll(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return t.store.Tokens(ctx).DeleteByUser(ctx, userID)
}

// Authenticate validates a bearer token and loads its principal.
func (t *TokenIssuer) Authenticate(ctx context.Context, raw string) (Principal, error) {
	rec, err := t.lookup(ctx, raw)
	if err != nil {
		return Principal{}, err
	}
	identity, err := t.store.Identities(ctx).Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	_ = t.store.Tokens(ctx).Touch(ctx, rec.ID, t.now().UTC())
	return Principal{
		Identity:  identity,
		TokenID:   rec.ID,
		Abilities: append([]ModuleCode(nil), rec.Abilities...),
	}, nil
}

func (t *TokenIssuer) lookup(ctx context.Context, raw string) (*AccessToken, error) {
	claims, err := t.parse(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	rec, err := t.store.Tokens(ctx).Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if rec.UserID != claims.Subject || !secureCompareHash(rec.TokenHash, raw) {
		return nil, ErrInvalidToken
	}
	if !rec.ExpiresAt.IsZero() && t.now().After(rec.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	return rec, nil
}

func (t *TokenIssuer) mint(userID string, modules []ModuleCode) (string, *AccessToken, error) {
	if len(t.secret) == 0 {
		return "", nil, errors.New("auth: token secret is not configured")
	}
	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(t.ttl)
	id := uuid.NewString()
	abilities := append([]ModuleCode{}, modules...)

	claims := tokenClaims{
		Abilities: abilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        id,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, &AccessToken{
		ID:        id,
		UserID:    userID,
		TokenHash: hashToken(signed),
		Abilities: abilities,
		CreatedAt: now,
		ExpiresAt: exp,
	}, nil
}

func (t *TokenIssuer) parse(raw string) (*tokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.ID == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func issued(raw string, rec *AccessToken) IssuedToken {
	return IssuedToken{
		Token:     raw,
		TokenID:   rec.ID,
		Abilities: append([]ModuleCode{}, rec.Abilities...),
		ExpiresAt: rec.ExpiresAt,
	}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, raw string) bool {
	actual := hashToken(raw)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
