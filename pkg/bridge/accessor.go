package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/cmdkit/pkg/host"
)

// APIAccessor is the tenant-scoped handle a detached worker uses to reach
// the host. It is obtained fresh inside the worker, never shared with the
// calling context.
type APIAccessor interface {
	TenantID() int64
	// Token is a credential for host APIs, empty when the factory mints none.
	Token() string
	// Engine is the host engine bound to the tenant; fields may be nil.
	Engine() host.Engine
}

// AccessorFactory produces accessors scoped to a tenant.
type AccessorFactory interface {
	NewAccessor(ctx context.Context, tenantID int64) (APIAccessor, error)
}

// TenantAccessor is the plain APIAccessor implementation.
type TenantAccessor struct {
	tenantID int64
	token    string
	engine   host.Engine
}

func NewTenantAccessor(tenantID int64, token string, engine host.Engine) *TenantAccessor {
	return &TenantAccessor{tenantID: tenantID, token: token, engine: engine}
}

func (a *TenantAccessor) TenantID() int64 { return a.tenantID }
func (a *TenantAccessor) Token() string { return a.token }
func (a *TenantAccessor) Engine() host.Engine { return a.engine }

// StaticAccessorFactory hands out accessors over a fixed engine with no
// credential.
type StaticAccessorFactory struct {
	Engine host.Engine
}

func (f StaticAccessorFactory) NewAccessor(_ context.Context, tenantID int64) (APIAccessor, error) {
	return NewTenantAccessor(tenantID, "", f.Engine), nil
}

const tokenIssuer = "cmdkit/bridge"

// CapabilityClaims are carried by accessor tokens.
type CapabilityClaims struct {
	jwt.RegisteredClaims
	TenantID int64 `json:"tenant_id"`
}

// TokenAccessorFactory mints a short-lived HS256 token per accessor. The
// accessor's engine checks the token, and its tenant, on every host call.
type TokenAccessorFactory struct {
	Key    []byte
	TTL    time.Duration
	Engine host.Engine
	now    func() time.Time
}

// NewTokenAccessorFactory returns a factory signing with key. A zero ttl
// defaults to five minutes.
func NewTokenAccessorFactory(key []byte, ttl time.Duration, engine host.Engine) (*TokenAccessorFactory, error) {
	if len(key) == 0 {
		return nil, errors.New("accessor signing key is empty")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenAccessorFactory{Key: key, TTL: ttl, Engine: engine, now: time.Now}, nil
}

func (f *TokenAccessorFactory) NewAccessor(_ context.Context, tenantID int64) (APIAccessor, error) {
	clock := f.now
	if clock == nil {
		clock = time.Now
	}
	now := clock().UTC()
	claims := CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   "tenant:" + strconv.FormatInt(tenantID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.TTL)),
		},
		TenantID: tenantID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign accessor token: %w", err)
	}
	guard := &tokenGuard{key: f.Key, token: token, tenantID: tenantID}
	return NewTenantAccessor(tenantID, token, guardEngine(f.Engine, guard)), nil
}

// ParseToken validates an accessor token and returns its claims.
func ParseToken(key []byte, token string) (*CapabilityClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &CapabilityClaims{},
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid accessor token: %w", err)
	}
	claims, ok := parsed.Claims.(*CapabilityClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
