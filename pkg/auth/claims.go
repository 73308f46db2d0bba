// Claims minting and verification: a bearer token carrying {sub, exp,
// scopes, tenant_id}, HMAC-signed. Grounded on
// original_source/anvil-core/src/auth.rs's JwtManager (mint_token/decode
// via jsonwebtoken with an HMAC secret); golang-jwt/jwt/v5 is the Go
// ecosystem counterpart to Rust's jsonwebtoken used there (see
// SPEC_FULL.md DOMAIN STACK / DESIGN.md for why this one dependency has no
// literal pack go.mod occurrence).
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/types"
)

// DefaultExpiry is the token lifetime used by Mint when none is given.
const DefaultExpiry = time.Hour

// claimsPayload is the JWT wire shape, mapped to/from types.Claims.
type claimsPayload struct {
	jwt.RegisteredClaims
	Scopes   []string `json:"scopes"`
	TenantID int64    `json:"tenant_id"`
}

// TokenManager mints and verifies bearer tokens with a process-wide HMAC
// secret.
type TokenManager struct {
	secret []byte
}

// NewTokenManager builds a TokenManager from the configured JWT secret.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

// Mint produces a signed bearer token for appID/tenantID with the given
// scopes and expiry (DefaultExpiry if ttl <= 0).
func (tm *TokenManager) Mint(appID, tenantID int64, scopes []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	now := time.Now()
	payload := claimsPayload{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", appID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scopes:   scopes,
		TenantID: tenantID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", anvilerr.Wrap(anvilerr.Internal, "mint token", err)
	}
	return signed, nil
}

// Verify validates signature and expiration, returning the decoded Claims.
func (tm *TokenManager) Verify(tokenString string) (*types.Claims, error) {
	var payload claimsPayload
	token, err := jwt.ParseWithClaims(tokenString, &payload, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, anvilerr.Wrap(anvilerr.Unauthenticated, "invalid bearer token", err)
	}

	var subject int64
	if _, err := fmt.Sscanf(payload.Subject, "%d", &subject); err != nil {
		return nil, anvilerr.Wrap(anvilerr.Unauthenticated, "invalid subject in token", err)
	}

	var exp int64
	if payload.ExpiresAt != nil {
		exp = payload.ExpiresAt.Unix()
	}

	return &types.Claims{
		Subject:   subject,
		TenantID:  payload.TenantID,
		ExpiresAt: exp,
		Scopes:    payload.Scopes,
	}, nil
}
