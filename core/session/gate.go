// Package session issues and verifies the bearer tokens that identify API callers.
package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

var (
	ErrUnauthenticated = core.NewAuthError("not authenticated")
	ErrInvalidSession  = core.NewAuthError("invalid or expired token")
	ErrRefreshExpired  = core.NewPermissionError("refresh has expired")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	Role         string `json:"role"`
	OrigIssuedAt int64  `json:"oriat,omitempty"`
}

func (c Claims) Identity() user.Identity {
	return user.Identity{ID: c.Subject, Role: c.Role}
}

// Gate turns users into signed tokens and tokens back into caller identities. It keeps no state.
type Gate struct {
	key        []byte
	issuer     string
	ttl        time.Duration
	refreshTTL time.Duration
	nowFunc    func() time.Time
}

func NewGate(conf *core.Config) *Gate {
	return &Gate{
		key:        []byte(conf.SecretKey),
		issuer:     conf.AppName,
		ttl:        conf.Server.JWTExpirationDelta,
		refreshTTL: conf.Server.JWTRefreshExpirationDelta,
		nowFunc:    time.Now,
	}
}

// NewClaims returns the claims of a fresh token for usr; origIat carries over the first issue time on refresh.
func (g *Gate) NewClaims(usr user.User, origIat ...int64) *Claims {
	now := g.nowFunc()
	oriat := now.Unix()
	if len(origIat) > 0 {
		oriat = origIat[0]
	}
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   usr.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
		Role:         usr.Role,
		OrigIssuedAt: oriat,
	}
}

// Sign signs the claims with HS256.
func (g *Gate) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(g.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// Issue returns a signed token identifying usr.
func (g *Gate) Issue(usr user.User) (string, error) {
	return g.Sign(g.NewClaims(usr))
}

// Parse verifies token and returns its claims.
func (g *Gate) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims := new(Claims)
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(*jwt.Token) (interface{}, error) { return g.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.nowFunc),
	)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// Resolve returns the identity carried by token.
func (g *Gate) Resolve(token string) (user.Identity, error) {
	claims, err := g.Parse(token)
	if err != nil {
		return user.Identity{}, err
	}
	return claims.Identity(), nil
}

// Refresh re-issues a token for usr as long as the first token of the chain is younger than the refresh delta.
func (g *Gate) Refresh(claims *Claims, usr user.User) (string, error) {
	if !usr.IsActive {
		return "", user.ErrAccountDeactivated
	}
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(g.refreshTTL)
	if g.nowFunc().After(expTime) {
		return "", ErrRefreshExpired
	}
	return g.Sign(g.NewClaims(usr, claims.OrigIssuedAt))
}

// TokenFromHeader extracts the token from an `Authorization: Bearer <token>` header value.
func TokenFromHeader(auth string) string {
	const prefix = "bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
